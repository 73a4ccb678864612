// Command devtoken prints a bearer token for local development, signed with
// the configured JWT_SECRET. With -new-secret it prints a fresh secret instead.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/kpessa/delphi-webapp/internal/auth"
	"github.com/kpessa/delphi-webapp/internal/config"
)

func main() {
	userID := flag.String("user", "", "user id placed in the token subject")
	email := flag.String("email", "", "email claim")
	name := flag.String("name", "", "display name claim")
	newSecret := flag.Bool("new-secret", false, "print a random secret for JWT_SECRET and exit")
	flag.Parse()

	if *newSecret {
		secret, err := auth.GenerateRandomToken(48)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to generate secret: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Add this to your .env file:")
		fmt.Printf("JWT_SECRET=%s\n", secret)
		return
	}

	if *userID == "" || *email == "" {
		fmt.Fprintln(os.Stderr, "usage: devtoken -user <id> -email <address> [-name <name>]")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	svc, err := auth.NewService(&cfg.Auth)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize token signer: %v\n", err)
		os.Exit(1)
	}

	token, err := svc.GenerateToken(*userID, *email, *name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to generate token: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Token valid for %s:\n", cfg.Auth.DevTokenTTL)
	fmt.Println(token)
}
