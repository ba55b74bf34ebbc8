package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"parkslot/internal/models"
)

// ErrInvalidCredentials is returned by Authenticate for an unknown email or a wrong password.
var ErrInvalidCredentials = errors.New("invalid credentials")

// CreateAdmin registers an administrator, storing a bcrypt hash of the password.
func (db *DB) CreateAdmin(ctx context.Context, a *models.Admin, password string) error {
	a.Email = strings.ToLower(strings.TrimSpace(a.Email))
	if a.Name == "" || a.Email == "" || password == "" {
		return fmt.Errorf("%w: name, email and password are required", ErrInvalidInput)
	}
	if !models.IsValidPhone(a.Phone) {
		return fmt.Errorf("%w: phone number must be 10 digits long", ErrInvalidInput)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	now := time.Now()
	result, err := db.ExecContext(ctx,
		`INSERT INTO admins (name, email, phone, password_hash, created_at) VALUES (?, ?, ?, ?, ?)`,
		a.Name, a.Email, a.Phone, string(hash), now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert admin: %w", err)
	}

	a.ID, err = result.LastInsertId()
	a.PasswordHash = string(hash)
	a.CreatedAt = now
	return err
}

// Authenticate checks email/password and returns the administrator.
func (db *DB) Authenticate(ctx context.Context, email, password string) (*models.Admin, error) {
	var a models.Admin
	err := db.QueryRowContext(ctx, `
		SELECT id, name, email, phone, password_hash, created_at
		FROM admins WHERE email = ?`,
		strings.ToLower(strings.TrimSpace(email)),
	).Scan(&a.ID, &a.Name, &a.Email, &a.Phone, &a.PasswordHash, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return &a, nil
}
