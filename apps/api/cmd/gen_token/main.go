package main

import (
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Prints a session token for local testing:
//
//	APP_SIGNING_SECRET=... go run ./cmd/gen_token <profile-uuid> <email>
func main() {
	if len(os.Args) != 3 {
		fmt.Fprintln(os.Stderr, "usage: gen_token <profile-uuid> <email>")
		os.Exit(2)
	}
	profileID, email := os.Args[1], os.Args[2]
	if _, err := uuid.Parse(profileID); err != nil {
		fmt.Fprintf(os.Stderr, "invalid profile id: %v\n", err)
		os.Exit(2)
	}

	signingSecret := os.Getenv("APP_SIGNING_SECRET")
	if len(signingSecret) < 16 {
		fmt.Fprintln(os.Stderr, "APP_SIGNING_SECRET must be at least 16 characters")
		os.Exit(2)
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   profileID,
		"email": email,
		"iat":   now.Unix(),
		"exp":   now.Add(7 * 24 * time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := token.SignedString([]byte(signingSecret))
	if err != nil {
		panic(err)
	}
	fmt.Println(signedToken)
}
