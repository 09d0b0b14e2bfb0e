// Package config holds process-level configuration for the example
// binaries (cmd/tempo-greeter-server, cmd/tempo-greeter-client,
// cmd/tempo-authd): flags registered with the standard flag package,
// each except -deadline-ms with an environment-variable fallback,
// following the teacher's
// cmd/authn/main.go convention (flag.StringVar + os.Getenv(env.X))
// exactly.
/*
 * Copyright (c) 2024-2025, Tempo RPC Contributors. All rights reserved.
 */
package config

import (
	"flag"
	"os"
	"strconv"
)

// Server is the configuration surface for cmd/tempo-greeter-server.
type Server struct {
	Addr                   string
	Verbose                bool
	CORS                   bool
	TransmitInternalErrors bool
	Discovery              bool
	MetricsAddr            string // "" disables the /metrics listener
	JWTSecret              string // "" disables auth
}

// RegisterServerFlags registers Server's fields as flags, pre-seeded
// from the Env.* environment variables where set, matching the
// teacher's "flag default sourced from env" pattern.
func RegisterServerFlags(fs *flag.FlagSet) *Server {
	c := &Server{}
	fs.StringVar(&c.Addr, "addr", getEnvOrDefault(Env.Addr, ":8080"), "listen address")
	fs.BoolVar(&c.Verbose, "verbose", getEnvBool(Env.Verbose, false), "enable verbose (info-level) logging")
	fs.BoolVar(&c.CORS, "cors", getEnvBool(Env.CORS, false), "enable CORS with a wildcard origin")
	fs.BoolVar(&c.TransmitInternalErrors, "transmit-internal-errors", getEnvBool(Env.TransmitInternal, false),
		"include internal error text in tempo-message instead of a generic substitute")
	fs.BoolVar(&c.Discovery, "discovery", getEnvBool(Env.Discovery, true), "enable the GET discovery descriptor")
	fs.StringVar(&c.MetricsAddr, "metrics-addr", os.Getenv(Env.MetricsAddr), "listen address for /metrics, empty disables it")
	fs.StringVar(&c.JWTSecret, "jwt-secret", os.Getenv(Env.JWTSecret), "HMAC secret for bearer-token auth, empty disables auth")
	return c
}

// Client is the configuration surface for cmd/tempo-greeter-client.
type Client struct {
	Target    string
	Codec     string
	Verbose   bool
	DeadlineMS int
}

func RegisterClientFlags(fs *flag.FlagSet) *Client {
	c := &Client{}
	fs.StringVar(&c.Target, "target", getEnvOrDefault(Env.Target, "http://127.0.0.1:8080"), "server target URL")
	fs.StringVar(&c.Codec, "codec", getEnvOrDefault(Env.Codec, "bebop"), "content codec: bebop or json")
	fs.BoolVar(&c.Verbose, "verbose", getEnvBool(Env.Verbose, false), "enable verbose (info-level) logging")
	fs.IntVar(&c.DeadlineMS, "deadline-ms", 0, "per-call deadline in milliseconds, 0 disables it")
	return c
}

// AuthD is the configuration surface for cmd/tempo-authd.
type AuthD struct {
	Addr      string
	DBPath    string
	JWTSecret string
	Verbose   bool
}

func RegisterAuthDFlags(fs *flag.FlagSet) *AuthD {
	c := &AuthD{}
	fs.StringVar(&c.Addr, "addr", getEnvOrDefault(Env.Addr, ":8081"), "listen address")
	fs.StringVar(&c.DBPath, "db", getEnvOrDefault(Env.DBPath, "tempo-authd.db"), "buntdb session store path")
	fs.StringVar(&c.JWTSecret, "jwt-secret", os.Getenv(Env.JWTSecret), "HMAC secret for issued bearer tokens (required)")
	fs.BoolVar(&c.Verbose, "verbose", getEnvBool(Env.Verbose, false), "enable verbose (info-level) logging")
	return c
}

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
