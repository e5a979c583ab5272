// Command devtoken prints a signed access token for local testing.
//
//	go run ./cmd/devtoken -user alice -name Alice -role user
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/iliyamo/badminton-sessions/internal/model"
	"github.com/iliyamo/badminton-sessions/internal/utils"
)

func main() {
	_ = godotenv.Load()
	secret := flag.String("secret", os.Getenv("JWT_SECRET"), "HS256 signing secret (defaults to JWT_SECRET)")
	user := flag.String("user", "", "user id placed in the sub claim")
	name := flag.String("name", "", "display name")
	role := flag.String("role", model.RoleUser, "user or admin")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	if *role != model.RoleUser && *role != model.RoleAdmin {
		log.Fatalf("devtoken: unknown role %q", *role)
	}
	tok, err := utils.NewAccessToken(*secret, *user, *name, *role, *ttl)
	if err != nil {
		log.Fatalf("devtoken: %v", err)
	}
	fmt.Println(tok.Token)
}
