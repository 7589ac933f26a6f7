// Package main выпускает JWT для консоли администратора и витрины.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/mmeshcher/uticoin/internal/middleware"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "load .env:", err)
		os.Exit(1)
	}

	subject := flag.String("sub", "", "token subject (admin id or storefront name)")
	role := flag.String("role", middleware.RoleAdmin, "token role: admin or storefront")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	secret := os.Getenv("JWT_SECRET")
	if secret == "" || *subject == "" {
		fmt.Fprintln(os.Stderr, "JWT_SECRET and -sub are required")
		os.Exit(2)
	}
	if *role != middleware.RoleAdmin && *role != middleware.RoleStorefront {
		fmt.Fprintf(os.Stderr, "unknown role %q\n", *role)
		os.Exit(2)
	}

	token, err := middleware.NewAuthMiddleware(secret).IssueToken(*subject, *role, *ttl)
	if err != nil {
		fmt.Fprintln(os.Stderr, "issue token:", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
