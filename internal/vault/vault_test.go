package vault

import (
	"strings"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	v, err := New("test-passphrase")
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	tests := []struct {
		name      string
		plaintext string
	}{
		{"simple string", "hello"},
		{"json credentials", `{"access_token":"ya29.secret","refresh_token":"1//xyz"}`},
		{"empty string", ""},
		{"unicode", "密钥テスト🔑"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blob, err := v.Encrypt(tt.plaintext)
			if err != nil {
				t.Fatalf("Encrypt() error: %v", err)
			}
			if tt.plaintext != "" && strings.Contains(blob, tt.plaintext) {
				t.Error("ciphertext contains plaintext")
			}
			got, err := v.Decrypt(blob)
			if err != nil {
				t.Fatalf("Decrypt() error: %v", err)
			}
			if got != tt.plaintext {
				t.Errorf("Decrypt() = %q, want %q", got, tt.plaintext)
			}
		})
	}
}

func TestDecryptWithWrongPassphrase(t *testing.T) {
	v1, _ := New("passphrase-one")
	v2, _ := New("passphrase-two")

	blob, err := v1.Encrypt("secret")
	if err != nil {
		t.Fatalf("Encrypt() error: %v", err)
	}
	if _, err := v2.Decrypt(blob); err == nil {
		t.Error("expected error decrypting with wrong passphrase")
	}
}

func TestNewRejectsEmptyPassphrase(t *testing.T) {
	for _, passphrase := range []string{"", "   "} {
		if _, err := New(passphrase); err != ErrEmptyPassphrase {
			t.Errorf("New(%q) error = %v, want ErrEmptyPassphrase", passphrase, err)
		}
	}
}

func TestDecryptRejectsGarbage(t *testing.T) {
	v, _ := New("test-passphrase")
	for _, blob := range []string{"not-base64!!!", "aGVsbG8="} {
		if _, err := v.Decrypt(blob); err == nil {
			t.Errorf("Decrypt(%q) expected error", blob)
		}
	}
}
