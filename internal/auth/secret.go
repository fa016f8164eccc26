package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const secretFileName = "token_secret"

// MinSecretLength is the shortest HMAC secret accepted for session tokens.
const MinSecretLength = 32

// ErrWeakSecret is returned when a stored secret is too short to sign with.
var ErrWeakSecret = errors.New("stored token secret is too short")

// LoadOrCreateSecret reads the token signing secret from dir, generating and
// persisting a new 256-bit hex secret when none is stored yet. A stored
// secret that is too short is an error and is left untouched.
func LoadOrCreateSecret(dir string) (string, error) {
	path := filepath.Join(dir, secretFileName)

	data, err := os.ReadFile(path) //nolint:gosec // dir comes from configuration
	if err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("read secret: %w", err)
	}

	if secret := strings.TrimSpace(string(data)); secret != "" {
		if len(secret) < MinSecretLength {
			return "", fmt.Errorf("%s: %w", path, ErrWeakSecret)
		}
		return secret, nil
	}

	return RotateSecret(dir)
}

// RotateSecret replaces the stored secret with a fresh one. Every session
// token signed with the previous secret stops verifying.
func RotateSecret(dir string) (string, error) {
	secret, err := generateSecret()
	if err != nil {
		return "", err
	}
	if err := writeSecret(dir, secret); err != nil {
		return "", err
	}
	return secret, nil
}

func generateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// writeSecret replaces the secret file atomically.
func writeSecret(dir, secret string) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create secret dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, secretFileName+".*")
	if err != nil {
		return fmt.Errorf("write secret: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.WriteString(secret + "\n"); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write secret: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write secret: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0600); err != nil {
		return fmt.Errorf("write secret: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, secretFileName)); err != nil {
		return fmt.Errorf("write secret: %w", err)
	}
	return nil
}
