// Command seed-admin creates the bootstrap administrator account in the
// Postgres store. The password comes from ADMIN_PASSWORD or an interactive
// prompt.
package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"time"

	"golang.org/x/term"

	"github.com/wra13107/digital-memorial-landing/internal/app/service"
	"github.com/wra13107/digital-memorial-landing/internal/common/security"
	"github.com/wra13107/digital-memorial-landing/internal/domain/repository"
	"github.com/wra13107/digital-memorial-landing/internal/platform/config"
	"github.com/wra13107/digital-memorial-landing/internal/platform/database"
)

var (
	isTerminal   = term.IsTerminal
	readPassword = term.ReadPassword
)

func main() {
	email := flag.String("email", os.Getenv("ADMIN_EMAIL"), "administrator email address")
	username := flag.String("username", "Administrator", "administrator username")
	firstName := flag.String("first-name", "Admin", "administrator first name")
	lastName := flag.String("last-name", "Administrator", "administrator last name")
	flag.Parse()

	if *email == "" {
		log.Fatal("An email address is required (-email or ADMIN_EMAIL)")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.StoreDriver != config.StoreDriverPostgres {
		log.Fatalf("seed-admin needs STORE_DRIVER=%s, got %q", config.StoreDriverPostgres, cfg.StoreDriver)
	}

	password := os.Getenv("ADMIN_PASSWORD")
	if password == "" {
		pw, err := promptPassword(os.Stdout)
		if err != nil {
			log.Fatalf("Failed to read password: %v", err)
		}
		password = pw
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := database.Connect(ctx, cfg.DBConnStr)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close(db)
	if err := database.RunMigrations(cfg.DBConnStr); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	logger := slog.Default()
	users := repository.NewPgUserRepository(db)
	sessions, err := security.NewTokenService(cfg.JWTKey, nil)
	if err != nil {
		log.Fatalf("Failed to initialize token service: %v", err)
	}
	hasher := security.NewPasswordHasher(cfg.BcryptCost, 1)
	auth := service.NewAuthService(users, hasher, sessions, nil, nil, logger, nil)
	admin := service.NewAdminService(users, auth, nil, logger)

	user, created, err := admin.EnsureAdmin(ctx, service.AdminCreateUserRequest{
		Email:     *email,
		Password:  password,
		FirstName: *firstName,
		LastName:  *lastName,
		Username:  *username,
	})
	if err != nil {
		log.Fatalf("Failed to create admin account: %v", err)
	}
	if !created {
		fmt.Printf("Admin account %s already exists (id %d). Skipping creation.\n", user.EmailAddress(), user.ID)
		return
	}
	fmt.Printf("Admin account created (id %d, email %s).\n", user.ID, user.EmailAddress())
}

// promptPassword reads the password twice from the terminal without echo.
func promptPassword(w io.Writer) (string, error) {
	fd := int(os.Stdin.Fd())
	if !isTerminal(fd) {
		return "", errors.New("stdin is not a terminal; set ADMIN_PASSWORD")
	}

	fmt.Fprint(w, "Admin password: ")
	first, err := readPassword(fd)
	fmt.Fprintln(w)
	if err != nil {
		return "", err
	}
	fmt.Fprint(w, "Repeat password: ")
	second, err := readPassword(fd)
	fmt.Fprintln(w)
	if err != nil {
		return "", err
	}
	if !bytes.Equal(first, second) {
		return "", errors.New("passwords do not match")
	}
	return string(first), nil
}
