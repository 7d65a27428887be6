package credential

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang-jwt/jwt/v5"
)

// GenerateKeyPair creates a fresh Ed25519 signing key.
func GenerateKeyPair() (ed25519.PrivateKey, ed25519.PublicKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("credential: generate key: %w", err)
	}
	return priv, pub, nil
}

// LoadKeyPair reads PEM encoded keys. An empty privPath yields a verify-only pair.
func LoadKeyPair(privPath, pubPath string) (ed25519.PrivateKey, ed25519.PublicKey, error) {
	pubPEM, err := os.ReadFile(pubPath)
	if err != nil {
		return nil, nil, fmt.Errorf("credential: read public key: %w", err)
	}
	pubKey, err := jwt.ParseEdPublicKeyFromPEM(pubPEM)
	if err != nil {
		return nil, nil, fmt.Errorf("credential: parse public key: %w", err)
	}
	pub, ok := pubKey.(ed25519.PublicKey)
	if !ok {
		return nil, nil, fmt.Errorf("credential: public key is not ed25519")
	}
	if privPath == "" {
		return nil, pub, nil
	}

	privPEM, err := os.ReadFile(privPath)
	if err != nil {
		return nil, nil, fmt.Errorf("credential: read private key: %w", err)
	}
	privKey, err := jwt.ParseEdPrivateKeyFromPEM(privPEM)
	if err != nil {
		return nil, nil, fmt.Errorf("credential: parse private key: %w", err)
	}
	priv, ok := privKey.(ed25519.PrivateKey)
	if !ok {
		return nil, nil, fmt.Errorf("credential: private key is not ed25519")
	}
	return priv, pub, nil
}

// EncodePrivateKey renders priv as a PKCS#8 PEM block.
func EncodePrivateKey(priv ed25519.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("credential: marshal private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// EncodePublicKey renders pub as a PKIX PEM block.
func EncodePublicKey(pub ed25519.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("credential: marshal public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// WriteKeyPair stores the pair as private.pem and public.pem under dir.
func WriteKeyPair(dir string, priv ed25519.PrivateKey, pub ed25519.PublicKey) (string, string, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", "", fmt.Errorf("credential: create key dir: %w", err)
	}
	privPEM, err := EncodePrivateKey(priv)
	if err != nil {
		return "", "", err
	}
	pubPEM, err := EncodePublicKey(pub)
	if err != nil {
		return "", "", err
	}
	privPath := filepath.Join(dir, "private.pem")
	pubPath := filepath.Join(dir, "public.pem")
	if err := os.WriteFile(privPath, privPEM, 0o600); err != nil {
		return "", "", fmt.Errorf("credential: write private key: %w", err)
	}
	if err := os.WriteFile(pubPath, pubPEM, 0o644); err != nil {
		return "", "", fmt.Errorf("credential: write public key: %w", err)
	}
	return privPath, pubPath, nil
}
