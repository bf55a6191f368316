package main

import (
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/travelhub/reservation-core/internal/utils"
	"github.com/travelhub/reservation-core/pkg/jwt"
)

func main() {
	var (
		secret   string
		holderID string
		roles    string
		issuer   string
		ttl      time.Duration
	)
	flag.StringVar(&secret, "secret", "", "sign the dev token with this secret instead of a fresh one")
	flag.StringVar(&holderID, "holder", "", "also print an access token for this holder id")
	flag.StringVar(&roles, "roles", "", "comma separated roles for the token, e.g. admin")
	flag.StringVar(&issuer, "issuer", "reservation-core", "token issuer, must match JWT_ISSUER")
	flag.DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	fmt.Println("===========================================")
	fmt.Println("JWT secret generator for reservation core")
	fmt.Println("===========================================")
	fmt.Println()

	if secret == "" {
		generated, err := utils.GenerateSecret(32)
		if err != nil {
			log.Fatalf("Failed to generate secret: %v", err)
		}
		secret = generated

		fmt.Println("Add this to your .env file:")
		fmt.Println()
		fmt.Printf("JWT_SECRET=%s\n", secret)
		fmt.Println()
	}

	if holderID != "" {
		var roleList []string
		for _, r := range strings.Split(roles, ",") {
			if r = strings.TrimSpace(r); r != "" {
				roleList = append(roleList, r)
			}
		}

		token, err := jwt.NewService(secret, issuer, ttl).GenerateAccessToken(holderID, roleList)
		if err != nil {
			log.Fatalf("Failed to sign token: %v", err)
		}
		fmt.Printf("Access token for %s (roles: %v, valid %s):\n\n%s\n\n", holderID, roleList, ttl, token)
	}

	fmt.Println("IMPORTANT: keep secrets out of version control")
	fmt.Println("===========================================")
}
