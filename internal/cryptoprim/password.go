package cryptoprim

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"

	"golang.org/x/crypto/chacha20poly1305"
)

// RawKeyString turns an already-opaque secret (blob0, or the integrity
// fingerprint) into the key material PasswordEncrypt/PasswordDecrypt
// expect. Unlike a human password these values carry their own entropy and
// are used directly, with no Harden step.
func RawKeyString(b []byte) string {
	return hex.EncodeToString(b)
}

// deriveAEADKey folds a hardened, hex-encoded key string down to the fixed
// key size chacha20poly1305 requires.
func deriveAEADKey(hardened string) [32]byte {
	return sha256.Sum256([]byte(hardened))
}

// PasswordEncrypt seals plaintext under a password-derived key (the output
// of Harden). The result is a self-contained, base64 string: nonce prepended
// to ciphertext, so PasswordDecrypt needs nothing but the same hardened key.
func PasswordEncrypt(hardened string, plaintext []byte) (string, error) {
	key := deriveAEADKey(hardened)
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := aead.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// PasswordDecrypt opens a blob produced by PasswordEncrypt. Any failure
// (truncated blob, wrong key, tampered ciphertext) is returned as a single
// generic error: the AEAD tag mismatch must not be distinguishable from a
// malformed envelope, since both cases mean "wrong credential or tampered
// data" to the caller.
func PasswordDecrypt(hardened string, encoded string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, errors.New("password decrypt: malformed envelope")
	}
	key := deriveAEADKey(hardened)
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, err
	}
	if len(raw) < aead.NonceSize() {
		return nil, errors.New("password decrypt: malformed envelope")
	}
	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errors.New("password decrypt: malformed envelope")
	}
	return plain, nil
}
