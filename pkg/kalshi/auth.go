// Package kalshi is the authenticated client for the exchange's REST and
// WebSocket APIs: request signing, rate limiting, the closed error
// taxonomy, and market-data subscriptions.
package kalshi

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidPEMBlock is returned when the PEM block cannot be decoded.
	ErrInvalidPEMBlock = errors.New("kalshi: failed to decode PEM block")

	// ErrInvalidPrivateKey is returned when the private key cannot be parsed.
	ErrInvalidPrivateKey = errors.New("kalshi: failed to parse private key")

	// ErrUnsupportedKeyType is returned when the key is neither RSA nor EC.
	ErrUnsupportedKeyType = errors.New("kalshi: unsupported private key type")
)

// SigningKey wraps the user's private key. RSA keys sign with RSA-PSS as
// the exchange documents; EC keys are accepted as a fallback and sign with
// ECDSA-SHA-256, but the exchange documentation is RSA-only so callers
// should warn when IsEC reports true.
type SigningKey struct {
	rsaKey *rsa.PrivateKey
	ecKey  *ecdsa.PrivateKey
}

// ParseSigningKey parses a PEM-encoded private key. Supports PKCS1, PKCS8
// and SEC1 (EC) formats.
func ParseSigningKey(pemData []byte) (*SigningKey, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, ErrInvalidPEMBlock
	}

	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
		}
		return &SigningKey{rsaKey: key}, nil

	case "EC PRIVATE KEY":
		key, err := x509.ParseECPrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
		}
		return &SigningKey{ecKey: key}, nil

	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
		}
		switch k := key.(type) {
		case *rsa.PrivateKey:
			return &SigningKey{rsaKey: k}, nil
		case *ecdsa.PrivateKey:
			return &SigningKey{ecKey: k}, nil
		default:
			return nil, fmt.Errorf("%w: %T", ErrUnsupportedKeyType, key)
		}
	}

	return nil, fmt.Errorf("%w: block type %s", ErrInvalidPrivateKey, block.Type)
}

// ParseSigningKeyString parses a PEM-encoded private key from a string.
func ParseSigningKeyString(pemStr string) (*SigningKey, error) {
	return ParseSigningKey([]byte(pemStr))
}

// IsEC reports whether the key is an elliptic-curve fallback key.
func (k *SigningKey) IsEC() bool { return k.ecKey != nil }

// pssOptions fixes the salt length at the SHA-256 digest size, which is
// what the exchange verifies against. The default "auto" salt does not
// match.
var pssOptions = &rsa.PSSOptions{
	SaltLength: sha256.Size,
	Hash:       crypto.SHA256,
}

// SignMessage signs a message with the key: RSA-PSS with MGF1(SHA-256)
// and a 32-byte salt for RSA keys, ECDSA-SHA-256 for EC keys. The result
// is base64.
func (k *SigningKey) SignMessage(message string) (string, error) {
	hashed := sha256.Sum256([]byte(message))

	var sig []byte
	var err error
	switch {
	case k.rsaKey != nil:
		sig, err = rsa.SignPSS(rand.Reader, k.rsaKey, crypto.SHA256, hashed[:], pssOptions)
	case k.ecKey != nil:
		sig, err = ecdsa.SignASN1(rand.Reader, k.ecKey, hashed[:])
	default:
		return "", ErrUnsupportedKeyType
	}
	if err != nil {
		return "", fmt.Errorf("sign message: %w", err)
	}

	return base64.StdEncoding.EncodeToString(sig), nil
}

// SigningString builds the exact string the exchange verifies: the
// millisecond timestamp, the uppercased HTTP method, and the request path
// with any query string cut at the first '?'. The path must carry the
// /trade-api prefix.
func SigningString(timestamp, method, path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	return timestamp + strings.ToUpper(method) + path
}

// Signature signs the canonical (timestamp, method, path) triple.
func (k *SigningKey) Signature(timestamp, method, path string) (string, error) {
	return k.SignMessage(SigningString(timestamp, method, path))
}
