package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"time"

	"leveltwo/internal/auth"
	"leveltwo/internal/config"
	"leveltwo/internal/model"
	"leveltwo/internal/store"
	"leveltwo/internal/users"
	"leveltwo/internal/validation"
	"leveltwo/pkg/logger"
)

var initialUsers = []users.NewUser{
	{Name: "Abanoub", Email: "abanoub@level2.com", Role: model.RoleAdmin},
	{Name: "Marina", Email: "marina@level2.com", Role: model.RoleServant},
	{Name: "Mariam", Email: "mariam@level2.com", Role: model.RoleServant},
	{Name: "Kero", Email: "kero@level2.com", Role: model.RoleServant},
}

func main() {
	password := flag.String("password", "password123", "password given to every seeded account")
	flag.Parse()

	cfg := config.Load()
	log := logger.NewFromEnv()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Critical("db not reachable", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := db.Migrate(ctx); err != nil {
		log.Critical("migrate failed", "err", err)
		os.Exit(1)
	}

	signer := auth.NewSigner(cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
	svc := users.NewService(users.NewRepository(db), signer, validation.New(), log, false)

	created := 0
	for _, u := range initialUsers {
		u.Password = *password
		got, err := svc.Create(ctx, u)
		switch {
		case errors.Is(err, users.ErrEmailTaken):
			log.Info("user exists, skipping", "email", u.Email)
		case err != nil:
			log.InternalError("create user failed", err, "email", u.Email)
		default:
			created++
			log.Info("user created", "name", got.Name, "email", got.Email, "role", got.Role)
		}
	}
	log.Info("seeding done", "created", created, "total", len(initialUsers))
}
