// Command tempo-authd is a minimal standalone credential/session issuer:
// it stores a per-subject password hash in an embedded buntdb store and
// issues bearer JWTs consumable by auth.JWTInterceptor, demonstrating C9
// outside of the core library. Modeled on the teacher's
// cmd/authn/main.go (flag/env config, buntdb-backed local database,
// signal-driven shutdown).
/*
 * Copyright (c) 2024-2025, Tempo RPC Contributors. All rights reserved.
 */
package main

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/betwixt-labs/tempo/auth"
	"github.com/betwixt-labs/tempo/config"
	"github.com/betwixt-labs/tempo/xlog"
	"github.com/golang-jwt/jwt/v4"
	"github.com/tidwall/buntdb"
)

// loginRequest is the wire shape POSTed to /login. A subject not yet
// known to the store is registered on first login (demo convenience;
// a production issuer would separate registration from login).
type loginRequest struct {
	Subject  string   `json:"subject"`
	Password string   `json:"password"`
	Roles    []string `json:"roles,omitempty"`
}

type loginResponse struct {
	Token string `json:"token"`
}

func hashPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

func storeKey(subject string) string { return "subject:" + subject }

type server struct {
	db     *buntdb.DB
	secret []byte
}

func (s *server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Subject == "" || req.Password == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	hashed := hashPassword(req.Password)
	var stored string
	err := s.db.View(func(tx *buntdb.Tx) error {
		v, err := tx.Get(storeKey(req.Subject))
		if err != nil && err != buntdb.ErrNotFound {
			return err
		}
		stored = v
		return nil
	})
	if err != nil {
		xlog.Errorf("buntdb lookup failed: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	if stored == "" {
		// First login for this subject registers it.
		if err := s.db.Update(func(tx *buntdb.Tx) error {
			_, _, err := tx.Set(storeKey(req.Subject), hashed, nil)
			return err
		}); err != nil {
			xlog.Errorf("buntdb write failed: %v", err)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
	} else if stored != hashed {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	now := time.Now()
	claims := &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   req.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(24 * time.Hour)),
		},
		Roles: req.Roles,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString(s.secret)
	if err != nil {
		xlog.Errorf("token signing failed: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("content-type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(loginResponse{Token: "Bearer " + signed})
}

func main() {
	fs := flag.NewFlagSet("tempo-authd", flag.ExitOnError)
	cfg := config.RegisterAuthDFlags(fs)
	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}
	xlog.SetVerbose(cfg.Verbose)

	if strings.TrimSpace(cfg.JWTSecret) == "" {
		fmt.Fprintln(os.Stderr, "tempo-authd: -jwt-secret (or TEMPO_JWT_SECRET) is required")
		os.Exit(2)
	}

	db, err := buntdb.Open(cfg.DBPath)
	if err != nil {
		xlog.Errorf("failed to open session store at %q: %v", cfg.DBPath, err)
		os.Exit(1)
	}
	defer db.Close()

	srv := &server{db: db, secret: []byte(cfg.JWTSecret)}
	mux := http.NewServeMux()
	mux.HandleFunc("/login", srv.handleLogin)

	httpSrv := &http.Server{Addr: cfg.Addr, Handler: mux}
	go func() {
		xlog.Infof("tempo-authd listening on %s, store %s", cfg.Addr, cfg.DBPath)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			xlog.Errorf("server failed: %v", err)
			os.Exit(1)
		}
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	xlog.Infoln("shutting down")
}
