package cryptoprim

import (
	"bytes"
	"strings"
	"testing"
)

func TestAsymEncryptDecryptRoundTrip(t *testing.T) {
	pub, priv, err := GenerateKeyPair("blob1", "blob1@sealbox.local")
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}

	plain := bytes.Repeat([]byte("component payload "), 4096) // exercise a large payload
	ciphertext, err := AsymEncrypt(pub, plain)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	got, err := AsymDecrypt(priv, ciphertext)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Fatal("round trip mismatch")
	}
}

func TestAsymDecryptWrongKey(t *testing.T) {
	pub, _, err := GenerateKeyPair("a", "a@sealbox.local")
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	_, priv2, err := GenerateKeyPair("b", "b@sealbox.local")
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}

	ciphertext, err := AsymEncrypt(pub, []byte("secret"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := AsymDecrypt(priv2, ciphertext); err == nil {
		t.Fatal("expected decrypt with unrelated key to fail")
	}
}

func TestSignDetachedVerify(t *testing.T) {
	pub, priv, err := GenerateKeyPair("meta-sign", "meta-sign@sealbox.local")
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	data := []byte("partition layout metadata")

	sig, err := SignDetached(priv, data)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := VerifyDetached(pub, data, sig); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := VerifyDetached(pub, []byte("tampered metadata"), sig); err == nil {
		t.Fatal("expected verification of tampered data to fail")
	}
}

func TestAsymDecryptMalformedEnvelope(t *testing.T) {
	_, priv, err := GenerateKeyPair("x", "x@sealbox.local")
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	if _, err := AsymDecrypt(priv, []byte(strings.Repeat("not a pgp message", 3))); err == nil {
		t.Fatal("expected malformed envelope to fail")
	}
}
