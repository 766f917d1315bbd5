package auth

import (
	"crypto/aes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"

	"golang.org/x/crypto/curve25519"
)

// SecretProvider supplies the client half of the E2EE key exchange used
// during login: the QR secret suffix and the PIN-protected key material.
// A nil provider degrades to plain QR/PIN login.
type SecretProvider interface {
	// QRSuffix is appended to the QR login URL so the approving device
	// can run the key exchange.
	QRSuffix() string
	// EncryptPinSecret protects the public key with the 6-digit PIN for
	// the email login secret field.
	EncryptPinSecret(pin string) ([]byte, error)
	// DecryptBlob opens a server blob encrypted to our key.
	DecryptBlob(serverPublicKey, blob []byte) ([]byte, error)
}

// Curve25519Provider is the standard SecretProvider: X25519 exchange,
// SHA-256 key derivation, AES-ECB payloads.
type Curve25519Provider struct {
	priv []byte
	pub  []byte
}

// NewCurve25519Provider generates a fresh key pair.
func NewCurve25519Provider() (*Curve25519Provider, error) {
	priv := make([]byte, curve25519.ScalarSize)
	if _, err := rand.Read(priv); err != nil {
		return nil, fmt.Errorf("auth: generate e2ee key: %w", err)
	}
	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("auth: derive e2ee public key: %w", err)
	}
	return &Curve25519Provider{priv: priv, pub: pub}, nil
}

// PublicKey returns the raw 32-byte public key.
func (p *Curve25519Provider) PublicKey() []byte {
	return append([]byte(nil), p.pub...)
}

func (p *Curve25519Provider) QRSuffix() string {
	encoded := base64.StdEncoding.EncodeToString(p.pub)
	return "?secret=" + url.QueryEscape(encoded) + "&e2eeVersion=1"
}

func (p *Curve25519Provider) EncryptPinSecret(pin string) ([]byte, error) {
	key := sha256.Sum256([]byte(pin))
	return ecbEncrypt(key[:], p.pub)
}

func (p *Curve25519Provider) DecryptBlob(serverPublicKey, blob []byte) ([]byte, error) {
	shared, err := curve25519.X25519(p.priv, serverPublicKey)
	if err != nil {
		return nil, fmt.Errorf("auth: e2ee key exchange: %w", err)
	}
	key := sha256.Sum256(shared)
	return ecbDecrypt(key[:], blob)
}

func ecbEncrypt(key, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	padded := pkcs7Pad(data, block.BlockSize())
	out := make([]byte, len(padded))
	for i := 0; i < len(padded); i += block.BlockSize() {
		block.Encrypt(out[i:], padded[i:])
	}
	return out, nil
}

func ecbDecrypt(key, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 || len(data)%block.BlockSize() != 0 {
		return nil, fmt.Errorf("auth: ciphertext length %d not a block multiple", len(data))
	}
	out := make([]byte, len(data))
	for i := 0; i < len(data); i += block.BlockSize() {
		block.Decrypt(out[i:], data[i:])
	}
	return pkcs7Unpad(out, block.BlockSize())
}

func pkcs7Pad(data []byte, size int) []byte {
	n := size - len(data)%size
	out := make([]byte, len(data)+n)
	copy(out, data)
	for i := len(data); i < len(out); i++ {
		out[i] = byte(n)
	}
	return out
}

func pkcs7Unpad(data []byte, size int) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("auth: empty plaintext")
	}
	n := int(data[len(data)-1])
	if n == 0 || n > size || n > len(data) {
		return nil, fmt.Errorf("auth: bad padding")
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, fmt.Errorf("auth: bad padding")
		}
	}
	return data[:len(data)-n], nil
}
