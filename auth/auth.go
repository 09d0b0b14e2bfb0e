// Package auth implements the Tempo auth interceptor surface (C9): a
// single operation that turns a raw Authorization header into an auth
// context attached to the server context, or rejects the call with a
// status. Grounded on the teacher's cmd/authn token model
// (authn.TokenMsg/LoginMsg) and cmd/authn/main.go's secret loading.
/*
 * Copyright (c) 2024-2025, Tempo RPC Contributors. All rights reserved.
 */
package auth

import (
	"context"
	"strings"

	"github.com/betwixt-labs/tempo/status"
	"github.com/golang-jwt/jwt/v4"
)

// Context is the per-call auth context: an ordered multimap of
// properties plus an optional designated peer-identity key. The peer is
// considered authenticated iff PeerIdentityKey is non-empty and present
// in Properties.
type Context struct {
	keys       []string
	properties map[string][]string
	peerKey    string
}

// NewContext returns an empty, mutable auth Context.
func NewContext() *Context {
	return &Context{properties: make(map[string][]string)}
}

// Set appends value under key, preserving first-insertion order.
func (c *Context) Set(key, value string) {
	if _, ok := c.properties[key]; !ok {
		c.keys = append(c.keys, key)
	}
	c.properties[key] = append(c.properties[key], value)
}

// Get returns the values stored under key, or nil.
func (c *Context) Get(key string) []string { return c.properties[key] }

// Keys returns the ordered set of property keys.
func (c *Context) Keys() []string {
	out := make([]string, len(c.keys))
	copy(out, c.keys)
	return out
}

// SetPeerIdentity designates key as the peer-identity property. key must
// already have been Set.
func (c *Context) SetPeerIdentity(key string) { c.peerKey = key }

// PeerIdentityKey returns the designated peer-identity key, or "".
func (c *Context) PeerIdentityKey() string { return c.peerKey }

// Authenticated reports whether a peer-identity key has been designated
// and is present among the recorded properties.
func (c *Context) Authenticated() bool {
	if c.peerKey == "" {
		return false
	}
	_, ok := c.properties[c.peerKey]
	return ok
}

// PeerIdentity returns the first value recorded under the designated
// peer-identity key, or "" if unauthenticated.
func (c *Context) PeerIdentity() string {
	if !c.Authenticated() {
		return ""
	}
	vals := c.properties[c.peerKey]
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}

// Interceptor is the C9 auth interceptor surface: given the raw
// Authorization header (possibly empty, if the call carried none), it
// either returns an auth Context to attach to the server context, or
// rejects with a status error that the router propagates unchanged.
type Interceptor interface {
	Authenticate(ctx context.Context, authorizationHeader string) (*Context, error)
}

// InterceptorFunc adapts a plain function to Interceptor.
type InterceptorFunc func(ctx context.Context, authorizationHeader string) (*Context, error)

func (f InterceptorFunc) Authenticate(ctx context.Context, h string) (*Context, error) {
	return f(ctx, h)
}

// NoOp accepts every call without designating a peer identity; the
// resulting Context is never Authenticated(). Used as a router's default
// when no Interceptor is configured.
var NoOp Interceptor = InterceptorFunc(func(context.Context, string) (*Context, error) {
	return NewContext(), nil
})

const bearerPrefix = "Bearer "

// Claims is the JWT payload the reference interceptor expects, modeled on
// the teacher's authn.TokenMsg-issued token: a subject identity plus an
// ordered list of role names.
type Claims struct {
	jwt.RegisteredClaims
	Roles []string `json:"roles,omitempty"`
}

// JWTInterceptor verifies a "Bearer <jwt>" Authorization header with a
// fixed HMAC secret, populating the auth Context's "subject" property as
// the peer identity and a repeated "role" property per claimed role.
// Modeled on cmd/authn's token issuance/verification pair; this side only
// verifies (cmd/tempo-authd is the companion issuer).
type JWTInterceptor struct {
	Secret []byte
}

func NewJWTInterceptor(secret []byte) *JWTInterceptor {
	return &JWTInterceptor{Secret: secret}
}

func (j *JWTInterceptor) Authenticate(_ context.Context, authorizationHeader string) (*Context, error) {
	ac := NewContext()
	if authorizationHeader == "" {
		return ac, nil // unauthenticated calls are allowed through; handlers enforce policy
	}
	if !strings.HasPrefix(authorizationHeader, bearerPrefix) {
		return nil, status.New(status.Unauthenticated, "authorization header must be a Bearer token")
	}
	raw := strings.TrimPrefix(authorizationHeader, bearerPrefix)

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, status.New(status.Unauthenticated, "unexpected signing method %v", t.Header["alg"])
		}
		return j.Secret, nil
	})
	if err != nil || !token.Valid {
		return nil, status.Wrap(status.Unauthenticated, err)
	}

	ac.Set("subject", claims.Subject)
	for _, role := range claims.Roles {
		ac.Set("role", role)
	}
	ac.SetPeerIdentity("subject")
	return ac, nil
}
