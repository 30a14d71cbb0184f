// Package cryptoprim implements the cryptographic primitives of the trust
// root: password hardening, password-keyed AEAD, an asymmetric envelope
// scheme over large payloads, and the content-hashing building blocks used
// by the integrity chain.
package cryptoprim

import (
	"crypto/rand"
	"encoding/hex"

	"golang.org/x/crypto/argon2"
)

// LegacySaltSentinel is the salt value tolerated on read for devices
// provisioned before password hardening used a per-slot salt. New slots
// must always be created with a freshly generated salt (see GenerateSalt);
// this sentinel is accepted only by Harden's caller when a blob0 slot omits
// the "salt" field entirely.
const LegacySaltSentinel = "not really some salt"

const (
	hardenTime    = 3
	hardenMemory  = 64 * 1024 // KiB
	hardenThreads = 4
	hardenKeyLen  = 32
)

// Harden derives a fixed-length key from password and salt. It is
// deterministic and pure: the same (password, salt) pair always yields the
// same hardened value, and the parameters are fixed for a given release so
// that hardened blobs remain decryptable across upgrades.
func Harden(password, salt string) string {
	key := argon2.IDKey([]byte(password), []byte(salt), hardenTime, hardenMemory, hardenThreads, hardenKeyLen)
	return hex.EncodeToString(key)
}

// GenerateSalt returns a fresh random salt suitable for a new credential
// slot, encoded so it round-trips through JSON untouched.
func GenerateSalt() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
