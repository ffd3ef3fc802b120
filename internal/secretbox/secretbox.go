// Package secretbox seals short secrets (tracker API keys) for storage at rest.
//
// Secrets are encrypted with NaCl secretbox (XSalsa20-Poly1305) under a key
// derived from the deployment master key with HKDF-SHA256. Each seal uses a
// fresh random 24-byte nonce; the ciphertext and nonce are stored separately.
package secretbox

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
	naclbox "golang.org/x/crypto/nacl/secretbox"
)

const (
	KeySize   = 32
	NonceSize = 24
)

var (
	hkdfSalt = []byte("deskbridge.secretbox.salt.v1")
	hkdfInfo = []byte("deskbridge.tracker-api-key.v1")
)

var ErrOpen = errors.New("secretbox: authentication failed")

type Sealer struct {
	key [KeySize]byte
}

// NewSealer derives the sealing key from masterKey. A base64 master key is
// decoded first; anything else is used as raw bytes.
func NewSealer(masterKey string) (*Sealer, error) {
	masterKey = strings.TrimSpace(masterKey)
	if masterKey == "" {
		return nil, errors.New("secretbox: master key is empty")
	}
	material, err := base64.StdEncoding.DecodeString(masterKey)
	if err != nil {
		material = []byte(masterKey)
	}

	s := &Sealer{}
	reader := hkdf.New(sha256.New, material, hkdfSalt, hkdfInfo)
	if _, err := io.ReadFull(reader, s.key[:]); err != nil {
		return nil, fmt.Errorf("secretbox: derive key: %w", err)
	}
	return s, nil
}

func (s *Sealer) Seal(plaintext []byte) (ciphertext, nonce []byte, err error) {
	var n [NonceSize]byte
	if _, err := io.ReadFull(rand.Reader, n[:]); err != nil {
		return nil, nil, fmt.Errorf("secretbox: generate nonce: %w", err)
	}
	return naclbox.Seal(nil, plaintext, &n, &s.key), n[:], nil
}

func (s *Sealer) Open(ciphertext, nonce []byte) ([]byte, error) {
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("secretbox: nonce is %d bytes, want %d", len(nonce), NonceSize)
	}
	var n [NonceSize]byte
	copy(n[:], nonce)
	plaintext, ok := naclbox.Open(nil, ciphertext, &n, &s.key)
	if !ok {
		return nil, ErrOpen
	}
	return plaintext, nil
}

// SealString returns base64 ciphertext and nonce, the form kept in the options table.
func (s *Sealer) SealString(plaintext string) (string, string, error) {
	ciphertext, nonce, err := s.Seal([]byte(plaintext))
	if err != nil {
		return "", "", err
	}
	return base64.StdEncoding.EncodeToString(ciphertext), base64.StdEncoding.EncodeToString(nonce), nil
}

func (s *Sealer) OpenString(ciphertextB64, nonceB64 string) (string, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return "", fmt.Errorf("secretbox: decode ciphertext: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(nonceB64)
	if err != nil {
		return "", fmt.Errorf("secretbox: decode nonce: %w", err)
	}
	plaintext, err := s.Open(ciphertext, nonce)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
