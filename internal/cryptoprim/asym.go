package cryptoprim

import (
	"bytes"
	"fmt"
	"io"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
)

// GenerateKeyPair creates a fresh OpenPGP keypair used as an asymmetric
// envelope key (blob1 and the component-sealing keys). Both halves are
// returned as serialized binary blobs, never armored: callers write them to
// resource files as-is or encrypt them, they are not handled by a human.
func GenerateKeyPair(name, email string) (pub, priv []byte, err error) {
	entity, err := openpgp.NewEntity(name, "", email, &packet.Config{})
	if err != nil {
		return nil, nil, fmt.Errorf("generate keypair: %w", err)
	}
	for _, id := range entity.Identities {
		if err := id.SelfSignature.SignUserId(id.UserId.Id, entity.PrimaryKey, entity.PrivateKey, nil); err != nil {
			return nil, nil, fmt.Errorf("generate keypair: self-sign: %w", err)
		}
	}

	var pubBuf, privBuf bytes.Buffer
	if err := entity.Serialize(&pubBuf); err != nil {
		return nil, nil, fmt.Errorf("generate keypair: serialize public: %w", err)
	}
	if err := entity.SerializePrivate(&privBuf, nil); err != nil {
		return nil, nil, fmt.Errorf("generate keypair: serialize private: %w", err)
	}
	return pubBuf.Bytes(), privBuf.Bytes(), nil
}

func readSingleEntity(keyBytes []byte) (*openpgp.Entity, error) {
	list, err := openpgp.ReadKeyRing(bytes.NewReader(keyBytes))
	if err != nil {
		return nil, err
	}
	if len(list) != 1 {
		return nil, fmt.Errorf("expected exactly one key, got %d", len(list))
	}
	return list[0], nil
}

// AsymEncrypt seals plaintext to the holder of the private half of pubKey.
// Unlike PasswordEncrypt, there is no practical size limit: the envelope
// carries its own chunked packet framing, which is why components and
// PRIVDATA archives (which can be large) are sealed this way rather than
// with the password AEAD.
func AsymEncrypt(pubKey []byte, plaintext []byte) ([]byte, error) {
	entity, err := readSingleEntity(pubKey)
	if err != nil {
		return nil, fmt.Errorf("asym encrypt: %w", err)
	}
	var out bytes.Buffer
	w, err := openpgp.Encrypt(&out, []*openpgp.Entity{entity}, nil, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("asym encrypt: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, fmt.Errorf("asym encrypt: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("asym encrypt: %w", err)
	}
	return out.Bytes(), nil
}

// AsymDecrypt opens an envelope produced by AsymEncrypt using the matching
// private key. An unparseable private key is reported as "malformed key";
// every failure to open or read the envelope itself collapses to one
// generic "malformed envelope" error, as with PasswordDecrypt.
func AsymDecrypt(privKey []byte, ciphertext []byte) ([]byte, error) {
	entity, err := readSingleEntity(privKey)
	if err != nil {
		return nil, fmt.Errorf("asym decrypt: malformed key")
	}
	ring := openpgp.EntityList{entity}
	md, err := openpgp.ReadMessage(bytes.NewReader(ciphertext), ring, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("asym decrypt: malformed envelope")
	}
	plain, err := io.ReadAll(md.UnverifiedBody)
	if err != nil {
		return nil, fmt.Errorf("asym decrypt: malformed envelope")
	}
	return plain, nil
}

// SignDetached produces a detached OpenPGP signature over data using the
// given private key, used to sign meta information for later verification
// by Device.Verify.
func SignDetached(privKey []byte, data []byte) ([]byte, error) {
	entity, err := readSingleEntity(privKey)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	var out bytes.Buffer
	if err := openpgp.DetachSign(&out, entity, bytes.NewReader(data), nil); err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	return out.Bytes(), nil
}

// VerifyDetached checks a detached signature produced by SignDetached
// against data, using pubKey.
func VerifyDetached(pubKey []byte, data, signature []byte) error {
	entity, err := readSingleEntity(pubKey)
	if err != nil {
		return fmt.Errorf("verify: %w", err)
	}
	ring := openpgp.EntityList{entity}
	_, err = openpgp.CheckDetachedSignature(ring, bytes.NewReader(data), bytes.NewReader(signature), nil)
	if err != nil {
		return fmt.Errorf("verify: signature check failed: %w", err)
	}
	return nil
}
