package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
)

func writePEM(t *testing.T, block *pem.Block) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "key.pem")
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0600); err != nil {
		t.Fatalf("failed to write key file: %v", err)
	}
	return path
}

func TestLoadPublicKey_PKIX(t *testing.T) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate test key: %v", err)
	}
	der, err := x509.MarshalPKIXPublicKey(&privateKey.PublicKey)
	if err != nil {
		t.Fatalf("failed to marshal key: %v", err)
	}

	path := writePEM(t, &pem.Block{Type: "PUBLIC KEY", Bytes: der})
	key, err := LoadPublicKey(path)
	if err != nil {
		t.Fatalf("LoadPublicKey failed: %v", err)
	}
	if !key.Equal(&privateKey.PublicKey) {
		t.Error("loaded key does not match")
	}
}

func TestLoadPublicKey_PKCS1(t *testing.T) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate test key: %v", err)
	}

	path := writePEM(t, &pem.Block{Type: "RSA PUBLIC KEY", Bytes: x509.MarshalPKCS1PublicKey(&privateKey.PublicKey)})
	key, err := LoadPublicKey(path)
	if err != nil {
		t.Fatalf("LoadPublicKey failed: %v", err)
	}
	if !key.Equal(&privateKey.PublicKey) {
		t.Error("loaded key does not match")
	}
}

func TestLoadPublicKey_FileNotFound(t *testing.T) {
	_, err := LoadPublicKey("/nonexistent/path/key.pem")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestLoadPublicKey_InvalidPEM(t *testing.T) {
	path := filepath.Join(t.TempDir(), "invalid.pem")
	if err := os.WriteFile(path, []byte("not a pem file"), 0600); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	_, err := LoadPublicKey(path)
	if err == nil {
		t.Error("expected error for invalid PEM")
	}
}

func TestLoadPrivateKey_PKCS8(t *testing.T) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate test key: %v", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(privateKey)
	if err != nil {
		t.Fatalf("failed to marshal key: %v", err)
	}

	loaded, err := LoadPrivateKey(writePEM(t, &pem.Block{Type: "PRIVATE KEY", Bytes: der}))
	if err != nil {
		t.Fatalf("LoadPrivateKey failed: %v", err)
	}
	if !loaded.Equal(privateKey) {
		t.Error("loaded key does not match")
	}
}

func TestLoadPrivateKey_PKCS1(t *testing.T) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate test key: %v", err)
	}

	loaded, err := LoadPrivateKey(writePEM(t, &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(privateKey)}))
	if err != nil {
		t.Fatalf("LoadPrivateKey failed: %v", err)
	}
	if !loaded.Equal(privateKey) {
		t.Error("loaded key does not match")
	}
}

func TestDevToken_RoundTrip(t *testing.T) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate test key: %v", err)
	}

	token, err := DevToken{Subject: "dev-user", Issuer: "local", Audience: "gateway"}.Sign(privateKey)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	v, err := NewVerifier(Config{Issuer: "local", Audience: "gateway"}, StaticKey{PublicKey: &privateKey.PublicKey}, nil)
	if err != nil {
		t.Fatalf("NewVerifier failed: %v", err)
	}
	id, err := v.Verify(context.Background(), "/ws?token="+token)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if id.Subject != "dev-user" {
		t.Errorf("Subject = %q, want dev-user", id.Subject)
	}

	if _, err := (DevToken{}).Sign(privateKey); err == nil {
		t.Error("expected error for empty subject")
	}
}
