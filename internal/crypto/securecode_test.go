package crypto

import (
	"bytes"
	"testing"
)

func TestHashSecureCode_DeterministicPerSalt(t *testing.T) {
	t.Parallel()
	code := []byte("4812")
	salt, err := RandBytes(16)
	if err != nil {
		t.Fatalf("RandBytes: %v", err)
	}
	h1 := HashSecureCode(code, salt)
	h2 := HashSecureCode(code, salt)
	if !bytes.Equal(h1, h2) {
		t.Fatalf("same code+salt must hash identically")
	}

	other, _ := RandBytes(16)
	if bytes.Equal(h1, HashSecureCode(code, other)) {
		t.Fatalf("different salt must change the hash")
	}
}

func TestVerifySecureCode(t *testing.T) {
	t.Parallel()
	code := []byte("correct horse")
	salt, _ := RandBytes(16)
	hash := HashSecureCode(code, salt)

	if !VerifySecureCode(code, salt, hash) {
		t.Fatalf("valid code rejected")
	}
	if VerifySecureCode([]byte("battery staple"), salt, hash) {
		t.Fatalf("wrong code accepted")
	}
	if VerifySecureCode(code, salt, nil) {
		t.Fatalf("empty stored hash accepted")
	}
}

func TestRandBytes(t *testing.T) {
	t.Parallel()
	a, err := RandBytes(32)
	if err != nil || len(a) != 32 {
		t.Fatalf("RandBytes: len=%d err=%v", len(a), err)
	}
	b, _ := RandBytes(32)
	if bytes.Equal(a, b) {
		t.Fatalf("two draws returned identical bytes")
	}
}
