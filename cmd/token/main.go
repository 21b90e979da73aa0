package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"harvest/internal/auth"
	"harvest/internal/config"
)

func main() {
	subject := flag.String("subject", "operator", "token subject, recorded on restarts")
	role := flag.String("role", "operator", "token role")
	ttl := flag.Duration("ttl", 0, "token lifetime; auth.token_ttl when zero")
	flag.Parse()

	cfgPath := os.Getenv("HARVEST_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}
	envOnlyRaw := os.Getenv("HARVEST_ENV_ONLY")
	envOnly := strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}
	j := auth.FromConfig(cfg.Auth)
	if *ttl > 0 {
		j.TokenTTL = *ttl
	}
	tok, exp, err := j.Sign(*subject, *role)
	if err != nil {
		fmt.Fprintln(os.Stderr, "sign token:", err)
		os.Exit(1)
	}
	fmt.Println(tok)
	fmt.Fprintln(os.Stderr, "expires_at", exp.Format(time.RFC3339))
}
