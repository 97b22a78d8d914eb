// issue-token prints a bearer token for a user, for local testing against the API.
package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"order-engine/config"
	"order-engine/internal/auth"
)

func main() {
	userID := flag.Int64("user", 0, "user id to issue the token for")
	ttl := flag.Duration("ttl", 2*time.Hour, "token lifetime")
	flag.Parse()

	if *userID <= 0 {
		log.Fatal("-user is required")
	}

	cfg := config.Load()
	token, err := auth.GenerateToken(cfg.Auth.JWTSecret, *userID, *ttl)
	if err != nil {
		log.Fatalf("generate token failed: %v", err)
	}
	fmt.Println(token)
}
