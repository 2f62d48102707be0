// seed writes a development profile directory for PROFILE_STATIC_FILE and prints an access token
// for each sample user. Idempotent: an existing directory file is kept unless -force is set.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"sort"

	"safecircle/internal/clock"
	"safecircle/internal/config"
	"safecircle/internal/profile"
	"safecircle/internal/security"
)

var sampleUsers = map[string]profile.User{
	"dev-owner": {
		DisplayName:     "Dev Owner",
		Channels:        profile.Channels{Push: "dev-owner-device", Email: "owner@example.com"},
		TrustedContacts: []string{"dev-contact-1", "dev-contact-2"},
	},
	"dev-contact-1": {
		DisplayName: "First Contact",
		Channels:    profile.Channels{Push: "contact-1-device", SMS: "+15550000001"},
	},
	"dev-contact-2": {
		DisplayName: "Second Contact",
		Channels:    profile.Channels{SMS: "+15550000002", Email: "contact2@example.com"},
	},
}

func main() {
	out := flag.String("out", "", "Profile directory file to write (default PROFILE_STATIC_FILE or profiles.dev.json)")
	force := flag.Bool("force", false, "Overwrite an existing directory file")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	path := *out
	if path == "" {
		path = cfg.ProfileStaticFile
	}
	if path == "" {
		path = "profiles.dev.json"
	}

	if err := writeDirectory(path, *force); err != nil {
		log.Fatalf("seed: %v", err)
	}

	signer, pub, err := security.LoadKeyPair(cfg.JWTPrivateKey, cfg.JWTPublicKey)
	if err != nil || signer == nil {
		log.Println("JWT_PRIVATE_KEY not set; skipping dev tokens. Use cmd/devtoken once keys are configured.")
		return
	}
	tokens := security.NewTokenProvider(signer, pub, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL(), clock.Real{})
	ids := make([]string, 0, len(sampleUsers))
	for id := range sampleUsers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		tok, _, exp, err := tokens.IssueAccess(id)
		if err != nil {
			log.Fatalf("issue token for %s: %v", id, err)
		}
		fmt.Printf("%s (expires %s):\n%s\n", id, exp.Format("15:04:05"), tok)
	}
}

func writeDirectory(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		log.Printf("Directory %s already exists. Skipping.", path)
		return nil
	} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	raw, err := json.MarshalIndent(sampleUsers, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return err
	}
	log.Printf("Wrote %d sample users to %s", len(sampleUsers), path)
	return nil
}
