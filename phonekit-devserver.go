package main

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	authhttp "github.com/open-rails/phonekit/adapters/http"
	"github.com/open-rails/phonekit/challenge"
	"github.com/open-rails/phonekit/core"
	jwtkit "github.com/open-rails/phonekit/jwt"
	"github.com/open-rails/phonekit/storage/bunlog"
	memorystore "github.com/open-rails/phonekit/storage/memory"
)

type config struct {
	ListenAddr string
	Issuer     string
	Audience   string
	DBURL      string
	RedisURL   string
	KeyPEMPath string
	Challenges bool
}

func main() {
	cfg := loadConfig()
	if err := runServe(cfg); err != nil {
		fatal(err)
	}
}

func loadConfig() *config {
	return &config{
		ListenAddr: envOr("PHONEKIT_LISTEN_ADDR", ":8080"),
		Issuer:     envOr("PHONEKIT_ISSUER", "http://localhost:8080"),
		Audience:   envOr("PHONEKIT_AUDIENCE", "phonekit-dev"),
		DBURL:      firstEnv("DB_URL", "DATABASE_URL"),
		RedisURL:   firstEnv("REDIS_URL"),
		KeyPEMPath: strings.TrimSpace(os.Getenv("PHONEKIT_KEY_PEM_PATH")),
		Challenges: envBool("PHONEKIT_CHALLENGES", true),
	}
}

func runServe(cfg *config) error {
	ctx := context.Background()

	signer, err := loadSigner(cfg.KeyPEMPath)
	if err != nil {
		return fmt.Errorf("load jwt key: %w", err)
	}
	keys := core.Keyset{
		Active:     signer,
		PublicKeys: map[string]*rsa.PublicKey{signer.KID(): signer.PublicKey()},
	}

	coreSvc := core.NewService(core.Options{
		Issuer:   cfg.Issuer,
		Audience: cfg.Audience,
	}, keys)

	svc := authhttp.NewService(coreSvc)

	if cfg.DBURL != "" {
		pg, err := pgxpool.New(ctx, cfg.DBURL)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pg.Close()
		svc.WithPostgres(pg)
		if err := coreSvc.Migrate(ctx); err != nil {
			return err
		}

		log, err := bunlog.Open(cfg.DBURL)
		if err != nil {
			return fmt.Errorf("connect event log: %w", err)
		}
		defer log.Close()
		if err := log.Migrate(ctx); err != nil {
			return err
		}
		svc.WithEventLogger(log)
	}

	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		svc.WithRedis(redis.NewClient(opt))
	} else if cfg.Challenges {
		cache := memorystore.NewChallengeCache(0)
		svc.WithChallenges(challenge.NewBroker(cache, challenge.DefaultParams(), 0))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})
	mux.Handle("/.well-known/jwks.json", svc.JWKSHandler())
	mux.Handle("/auth/", svc.APIHandler())

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	fmt.Fprintf(os.Stderr, "phonekit devserver listening on %s\n", cfg.ListenAddr)
	return server.ListenAndServe()
}

// loadSigner reads an RSA key from PEM when a path is configured, and
// generates an ephemeral dev key otherwise. Ephemeral keys invalidate
// all tokens on restart.
func loadSigner(pemPath string) (*jwtkit.RSASigner, error) {
	if pemPath != "" {
		raw, err := os.ReadFile(pemPath)
		if err != nil {
			return nil, err
		}
		return jwtkit.ParseRSASignerPEM(raw, "dev-1")
	}
	return jwtkit.NewRSASigner(2048, "dev-1")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

func envBool(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return b
}

func fatal(err error) {
	if err == nil {
		os.Exit(0)
	}
	if errors.Is(err, http.ErrServerClosed) {
		os.Exit(0)
	}
	fmt.Fprintln(os.Stderr, err.Error())
	os.Exit(1)
}
