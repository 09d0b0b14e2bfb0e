package metadata_test

import (
	"strings"
	"testing"

	"github.com/betwixt-labs/tempo/metadata"
)

func TestCredentialRoundTrip(t *testing.T) {
	nested := metadata.NewCredential()
	nested.Set("inner", metadata.VString("value"))

	c := metadata.NewCredential()
	c.Set("name", metadata.VString("Alice"))
	c.Set("age", metadata.VNumber(30))
	c.Set("admin", metadata.VBool(true))
	c.Set("balance", metadata.VBigInt("123456789012345678901234567890"))
	c.Set("profile", metadata.VMap(nested))
	c.Set("tags", metadata.VList([]metadata.Value{
		metadata.VString("a"), metadata.VNumber(2), metadata.VBool(false),
	}))
	c.Set("unicode", metadata.VString("café 中文 \U0001F600"))

	wire, err := metadata.StringifyCredential(c)
	if err != nil {
		t.Fatalf("StringifyCredential: %v", err)
	}
	for _, r := range wire {
		if r >= 0x7f {
			t.Fatalf("wire form contains unescaped code point >= 0x7F: %q in %s", r, wire)
		}
	}

	got, err := metadata.ParseCredential(wire)
	if err != nil {
		t.Fatalf("ParseCredential: %v\nwire=%s", err, wire)
	}
	if !got.Equal(c) {
		t.Fatalf("round trip mismatch.\nwire=%s", wire)
	}
}

func TestCredentialRejectsNonObjectTopLevel(t *testing.T) {
	for _, wire := range []string{`"just a string"`, `42`, `[1,2,3]`, `true`} {
		if _, err := metadata.ParseCredential(wire); err == nil {
			t.Fatalf("ParseCredential(%s): expected error, got none", wire)
		}
	}
}

func TestBigIntWireSuffix(t *testing.T) {
	c := metadata.NewCredential()
	c.Set("n", metadata.VBigInt("99999999999999999999"))
	wire, err := metadata.StringifyCredential(c)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(wire, `99999999999999999999||n`) {
		t.Fatalf("wire = %s, missing bigint suffix", wire)
	}
}

func TestNestedMapDiscriminator(t *testing.T) {
	nested := metadata.NewCredential()
	nested.Set("x", metadata.VNumber(1))
	c := metadata.NewCredential()
	c.Set("m", metadata.VMap(nested))
	wire, err := metadata.StringifyCredential(c)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(wire, `"_map":true`) {
		t.Fatalf("wire = %s, missing _map discriminator", wire)
	}
}
