package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/voidxp/voidgate/internal/identity"
)

// tokengen provisions a registered account straight into the database and
// prints a ready-to-use session token. Meant for local setups and smoke
// tests where the register endpoint is not running yet.
func main() {
	email := flag.String("email", "", "account email (required)")
	password := flag.String("password", "", "account password (required)")
	tier := flag.String("tier", "free", "quota tier")
	sessionTTL := flag.Duration("session-ttl", 168*time.Hour, "token lifetime")
	secret := flag.String("secret", "", "token signing secret (defaults to VOIDGATE_SIGNING_SECRET)")
	dbURL := flag.String("db-url", "", "database URL (overrides env)")
	flag.Parse()

	if *email == "" || *password == "" {
		flag.Usage()
		fmt.Fprintln(os.Stderr, "\nerror: -email and -password are required")
		os.Exit(1)
	}

	signingSecret := *secret
	if signingSecret == "" {
		signingSecret = os.Getenv("VOIDGATE_SIGNING_SECRET")
	}
	if signingSecret == "" {
		log.Fatal("no signing secret: pass -secret or set VOIDGATE_SIGNING_SECRET")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(*password), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("failed to hash password: %v", err)
	}

	dsn := *dbURL
	if dsn == "" {
		dsn = os.Getenv("DATABASE_URL")
	}
	if dsn == "" {
		host := envOrDefault("DB_HOST", "localhost")
		port := envOrDefault("DB_PORT", "5432")
		user := envOrDefault("DB_USER", "voidgate")
		pass := envOrDefault("DB_PASSWORD", "voidgate-dev")
		name := envOrDefault("DB_NAME", "voidgate")
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, pass, host, port, name)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer conn.Close(ctx)

	var userID string
	err = conn.QueryRow(ctx, `
		INSERT INTO users (email, password_hash, tier)
		VALUES ($1, $2, $3)
		RETURNING id
	`, *email, string(hash), *tier).Scan(&userID)
	if err != nil {
		log.Fatalf("failed to insert user (already registered?): %v", err)
	}

	signer, err := identity.NewSigner(signingSecret, *sessionTTL, *sessionTTL)
	if err != nil {
		log.Fatalf("failed to build signer: %v", err)
	}
	token, expiresAt, err := signer.Sign(identity.Principal{
		ID:    userID,
		Kind:  identity.KindRegistered,
		Email: *email,
		Tier:  *tier,
	})
	if err != nil {
		log.Fatalf("failed to sign token: %v", err)
	}

	fmt.Println("=== Voidgate Account Provisioned ===")
	fmt.Println()
	fmt.Printf("  User ID:   %s\n", userID)
	fmt.Printf("  Email:     %s\n", *email)
	fmt.Printf("  Tier:      %s\n", *tier)
	fmt.Printf("  Expires:   %s\n", expiresAt.Format(time.RFC3339))
	fmt.Println()
	fmt.Println("  Session token:")
	fmt.Printf("  %s\n", token)
	fmt.Println()
	fmt.Println("====================================")
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
