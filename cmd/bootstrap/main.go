// Command bootstrap initializes the database schema and seeds the default
// job schedules and, optionally, the first super admin. It is a one-shot
// tool for provisioning a fresh environment; the server performs the same
// steps on startup, so running it is never required, only convenient.
package main

import (
	"context"
	"database/sql"
	"log"
	"time"

	_ "github.com/lib/pq"

	"github.com/barakah-labs/minaret/pkg/auth"
	"github.com/barakah-labs/minaret/pkg/config"
	"github.com/barakah-labs/minaret/pkg/errs"
	"github.com/barakah-labs/minaret/pkg/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to open db: %v", err)
	}
	defer func() { _ = db.Close() }()
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("Failed to reach db: %v", err)
	}

	st := store.New(db)
	if err := st.Init(ctx); err != nil {
		log.Fatalf("Failed to init schema: %v", err)
	}
	log.Println("Schema initialized")

	if err := st.Schedules.Seed(ctx); err != nil {
		log.Fatalf("Failed to seed schedules: %v", err)
	}
	log.Println("Default job schedules seeded")

	if cfg.SeedAdminEmail == "" || cfg.SeedAdminPassword == "" {
		log.Println("SEED_ADMIN_EMAIL not set, skipping admin seed")
		return
	}

	if _, err := st.Users.GetByEmail(ctx, cfg.SeedAdminEmail); err == nil {
		log.Printf("Admin %s already exists, skipping", cfg.SeedAdminEmail)
		return
	} else if errs.KindOf(err) != errs.KindNotFound {
		log.Fatalf("Failed to look up admin: %v", err)
	}

	if err := auth.ValidatePassword(cfg.SeedAdminPassword); err != nil {
		log.Fatalf("Seed admin password rejected: %v", err)
	}
	hash, err := auth.HashPassword(cfg.SeedAdminPassword)
	if err != nil {
		log.Fatalf("Failed to hash password: %v", err)
	}
	if _, err := st.Users.Create(ctx, &store.AdminUser{
		Email:        cfg.SeedAdminEmail,
		PasswordHash: hash,
		Role:         store.RoleSuperAdmin,
		Active:       true,
	}); err != nil {
		log.Fatalf("Failed to create admin: %v", err)
	}
	log.Printf("Seeded super admin %s", cfg.SeedAdminEmail)
}
