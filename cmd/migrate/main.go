// Command migrate applies the gateway's schema migrations. It reads the same
// POSTGRES_* environment variables as the gateway itself, so the two stay in
// lockstep in deployment manifests.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

func main() {
	var (
		direction = flag.String("direction", "up", "up, down, or version")
		steps     = flag.Int("steps", 0, "number of steps (0 = all)")
		dbURL     = flag.String("db-url", "", "database URL (overrides POSTGRES_* env)")
		path      = flag.String("path", "migrations", "migrations directory")
	)
	flag.Parse()

	m, err := migrate.New("file://"+*path, resolveDSN(*dbURL))
	if err != nil {
		log.Fatalf("open migrator: %v", err)
	}
	defer m.Close()

	switch *direction {
	case "up":
		if *steps > 0 {
			err = m.Steps(*steps)
		} else {
			err = m.Up()
		}
	case "down":
		if *steps > 0 {
			err = m.Steps(-*steps)
		} else {
			err = m.Down()
		}
	case "version":
		err = nil
	default:
		log.Fatalf("invalid direction %q (use up, down, or version)", *direction)
	}
	if err != nil && err != migrate.ErrNoChange {
		log.Fatalf("migration %s failed: %v", *direction, err)
	}

	v, dirty, verr := m.Version()
	if verr == migrate.ErrNilVersion {
		fmt.Println("schema version: none")
		return
	}
	if verr != nil {
		log.Fatalf("read schema version: %v", verr)
	}
	fmt.Printf("schema version: %d (dirty: %v)\n", v, dirty)
}

// resolveDSN prefers an explicit flag, then DATABASE_URL, then the POSTGRES_*
// variables the gateway's own config expands.
func resolveDSN(flagVal string) string {
	if flagVal != "" {
		return flagVal
	}
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url
	}
	host := envOr("POSTGRES_HOST", "localhost")
	port := envOr("POSTGRES_PORT", "5432")
	user := envOr("POSTGRES_USER", "voidgate")
	pass := envOr("POSTGRES_PASSWORD", "")
	name := envOr("POSTGRES_DB", "voidgate")
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, pass, host, port, name)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
