// Package auth manages the identity key each display is provisioned with.
package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"

	"golang.org/x/crypto/ssh"
)

const keyBits = 2048

// GenerateKey returns a new RSA private key as PKCS#1 PEM.
func GenerateKey() ([]byte, error) {
	key, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}), nil
}

// PublicKey parses a PEM private key and returns its public half in authorized_keys form.
func PublicKey(privatePEM []byte) (string, error) {
	pub, err := publicKey(privatePEM)
	if err != nil {
		return "", err
	}
	return string(ssh.MarshalAuthorizedKey(pub)), nil
}

// Fingerprint returns the "SHA256:..." fingerprint of the key.
func Fingerprint(privatePEM []byte) (string, error) {
	pub, err := publicKey(privatePEM)
	if err != nil {
		return "", err
	}
	return ssh.FingerprintSHA256(pub), nil
}

func publicKey(privatePEM []byte) (ssh.PublicKey, error) {
	if len(privatePEM) == 0 {
		return nil, errors.New("no key")
	}
	signer, err := ssh.ParsePrivateKey(privatePEM)
	if err != nil {
		return nil, fmt.Errorf("parse key: %w", err)
	}
	return signer.PublicKey(), nil
}
