// devtoken prints a signed access token for a user id. Requires JWT_PRIVATE_KEY.
//
//	go run ./cmd/devtoken -user dev-owner
package main

import (
	"flag"
	"fmt"
	"os"

	"safecircle/internal/clock"
	"safecircle/internal/config"
	"safecircle/internal/security"
)

func main() {
	user := flag.String("user", "", "User id to issue the token for")
	flag.Parse()
	if *user == "" {
		fmt.Fprintln(os.Stderr, "devtoken: -user is required")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	signer, pub, err := security.LoadKeyPair(cfg.JWTPrivateKey, cfg.JWTPublicKey)
	if err != nil {
		fmt.Fprintln(os.Stderr, "jwt keys:", err)
		os.Exit(1)
	}
	tokens := security.NewTokenProvider(signer, pub, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL(), clock.Real{})
	tok, _, _, err := tokens.IssueAccess(*user)
	if err != nil {
		fmt.Fprintln(os.Stderr, "issue:", err)
		os.Exit(1)
	}
	fmt.Println(tok)
}
