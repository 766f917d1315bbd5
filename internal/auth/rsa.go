package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/linego-dev/linego/pkg/thrift"
)

// RSAKeyInfo is the server-issued key for credential encryption, from
// getRSAKeyInfo: {1 keynm, 2 nvalue, 3 evalue, 4 sessionKey}.
type RSAKeyInfo struct {
	KeyName    string
	NValue     string
	EValue     string
	SessionKey string
}

func rsaKeyInfoFrom(s thrift.Struct) RSAKeyInfo {
	return RSAKeyInfo{
		KeyName:    s.FieldString(1),
		NValue:     s.FieldString(2),
		EValue:     s.FieldString(3),
		SessionKey: s.FieldString(4),
	}
}

// EncryptCredentials builds the login envelope, length-prefixing each
// element with a single byte, and encrypts it PKCS1v15 under the
// server's key. The result is hex, as the login request expects.
func EncryptCredentials(key RSAKeyInfo, email, password string) (string, error) {
	for _, part := range []string{key.SessionKey, email, password} {
		if len(part) == 0 || len(part) > 255 {
			return "", fmt.Errorf("auth: credential element length %d out of range", len(part))
		}
	}
	msg := make([]byte, 0, len(key.SessionKey)+len(email)+len(password)+3)
	for _, part := range []string{key.SessionKey, email, password} {
		msg = append(msg, byte(len(part)))
		msg = append(msg, part...)
	}

	n, ok := new(big.Int).SetString(key.NValue, 16)
	if !ok {
		return "", fmt.Errorf("auth: bad RSA modulus")
	}
	e, ok := new(big.Int).SetString(key.EValue, 16)
	if !ok || !e.IsInt64() {
		return "", fmt.Errorf("auth: bad RSA exponent")
	}
	pub := rsa.PublicKey{N: n, E: int(e.Int64())}

	ct, err := rsa.EncryptPKCS1v15(rand.Reader, &pub, msg)
	if err != nil {
		return "", fmt.Errorf("auth: encrypt credentials: %w", err)
	}
	return hex.EncodeToString(ct), nil
}
