// Command admintoken issues an operator token for calling the security API.
//
//	JWT_SECRET=... admintoken -subject auth-server -role service -ttl 720h
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/BradenHooton/authguard/internal/auth"
	"github.com/BradenHooton/authguard/internal/config"
	"github.com/BradenHooton/authguard/internal/models"
)

func main() {
	subject := flag.String("subject", "", "operator or client identifier placed in the token subject")
	role := flag.String("role", models.RoleService, "token role: service or admin")
	ttl := flag.Duration("ttl", 0, "token lifetime (defaults to ACCESS_TOKEN_EXPIRY)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if *subject == "" {
		logger.Error("-subject is required")
		os.Exit(2)
	}
	if *role != models.RoleService && *role != models.RoleAdmin {
		logger.Error("unsupported role", slog.String("role", *role))
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	expiry := cfg.Auth.AccessTokenExpiry
	if *ttl > 0 {
		expiry = *ttl
	}

	token, err := auth.NewTokenManager(cfg.Auth.JWTSecret, expiry).GenerateToken(*subject, *role)
	if err != nil {
		logger.Error("failed to sign token", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("token issued",
		slog.String("subject", *subject),
		slog.String("role", *role),
		slog.Time("expires_at", time.Now().Add(expiry)),
	)
	fmt.Println(token)
}
