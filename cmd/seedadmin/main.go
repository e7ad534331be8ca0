// Command seedadmin creates the initial admin account. Run once against a
// fresh database; it refuses to overwrite an existing username.
package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/joho/godotenv"

	"gannportal/internal/auth"
	"gannportal/internal/model"
	"gannportal/internal/store/sqlite"
)

func main() {
	log.SetFlags(log.LstdFlags)

	_ = godotenv.Load()

	var (
		dbPath   = flag.String("db", envOr("SQLITE_PATH", "data/portal.db"), "sqlite database path")
		username = flag.String("username", envOr("ADMIN_USERNAME", "admin"), "admin username")
		email    = flag.String("email", os.Getenv("ADMIN_EMAIL"), "admin email")
		password = flag.String("password", os.Getenv("ADMIN_PASSWORD"), "admin password")
	)
	flag.Parse()

	if *email == "" || *password == "" {
		log.Fatal("[seedadmin] email and password are required (flags or ADMIN_EMAIL/ADMIN_PASSWORD)")
	}

	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("[seedadmin] open database: %v", err)
	}
	defer store.Close()

	hash, err := auth.HashPassword(*password)
	if err != nil {
		log.Fatalf("[seedadmin] hash password: %v", err)
	}

	id, err := store.CreateUser(context.Background(), &model.User{
		Username:      *username,
		Email:         *email,
		PasswordHash:  hash,
		Role:          model.RoleAdmin,
		EmailVerified: true,
		FirstLogin:    false,
	}, nil)
	if err != nil {
		log.Fatalf("[seedadmin] create admin: %v", err)
	}

	log.Printf("[seedadmin] admin %q created with id %d", *username, id)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
