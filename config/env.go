package config

// Env collects the environment variable names consulted by
// RegisterServerFlags/RegisterClientFlags/RegisterAuthDFlags, mirroring
// the teacher's api/env package (a single struct of well-known variable
// names rather than scattered os.Getenv string literals).
var Env = struct {
	Addr             string
	Target           string
	Codec            string
	Verbose          string
	CORS             string
	TransmitInternal string
	Discovery        string
	MetricsAddr      string
	JWTSecret        string
	DBPath           string
}{
	Addr:             "TEMPO_ADDR",
	Target:           "TEMPO_TARGET",
	Codec:            "TEMPO_CODEC",
	Verbose:          "TEMPO_VERBOSE",
	CORS:             "TEMPO_CORS",
	TransmitInternal: "TEMPO_TRANSMIT_INTERNAL_ERRORS",
	Discovery:        "TEMPO_DISCOVERY",
	MetricsAddr:      "TEMPO_METRICS_ADDR",
	JWTSecret:        "TEMPO_JWT_SECRET",
	DBPath:           "TEMPO_AUTHD_DB",
}
