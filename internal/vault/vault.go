// Package vault encrypts provider credential blobs at rest. Accounts store
// only the opaque output of Encrypt; plaintext secrets never reach the
// database or the logs.
package vault

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"filippo.io/age"
)

// ErrEmptyPassphrase is returned by New when no passphrase is configured.
var ErrEmptyPassphrase = errors.New("vault: passphrase must not be empty")

// Vault is an encrypt/decrypt capability bound to one passphrase.
type Vault struct {
	recipient *age.ScryptRecipient
	identity  *age.ScryptIdentity
}

// New builds a Vault from a passphrase.
func New(passphrase string) (*Vault, error) {
	if strings.TrimSpace(passphrase) == "" {
		return nil, ErrEmptyPassphrase
	}
	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return nil, fmt.Errorf("vault: build recipient: %w", err)
	}
	identity, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("vault: build identity: %w", err)
	}
	return &Vault{recipient: recipient, identity: identity}, nil
}

// Encrypt seals plaintext into a base64 blob suitable for a TEXT column.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, v.recipient)
	if err != nil {
		return "", fmt.Errorf("vault: encrypt: %w", err)
	}
	if _, err := io.WriteString(w, plaintext); err != nil {
		return "", fmt.Errorf("vault: encrypt: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("vault: encrypt: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Decrypt opens a blob produced by Encrypt.
func (v *Vault) Decrypt(blob string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return "", fmt.Errorf("vault: decode blob: %w", err)
	}
	r, err := age.Decrypt(bytes.NewReader(raw), v.identity)
	if err != nil {
		return "", fmt.Errorf("vault: decrypt: %w", err)
	}
	plaintext, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("vault: decrypt: %w", err)
	}
	return string(plaintext), nil
}
