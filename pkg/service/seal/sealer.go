// Package seal envelope-encrypts the bearer credential for storage in a
// client-held cookie. Token format: v1.<b64url(salt)>.<b64url(iv)>.<b64url(ct)>
// with a fresh 16-byte salt and 12-byte IV per seal, HKDF-SHA256 key
// derivation bound to a fixed context string, and AES-256-GCM.
package seal

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"io"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/crypto/hkdf"

	"github.com/sprintview/sprintview/pkg/domain/model"
)

const (
	versionTag = "v1"
	keyInfo    = "sprintview:credential-cookie"

	saltSize = 16
	ivSize   = 12
	keySize  = 32

	minSecretLen = 16
)

// Sealer seals and unseals credentials with a process-wide secret
type Sealer struct {
	secret []byte
}

// New creates a Sealer. The secret must be at least 16 bytes.
func New(secret string) (*Sealer, error) {
	if len(secret) < minSecretLen {
		return nil, goerr.New("encryption secret too short",
			goerr.V("min_length", minSecretLen))
	}
	return &Sealer{secret: []byte(secret)}, nil
}

// deriveKey derives a per-seal AES key from the process secret and salt
func (s *Sealer) deriveKey(salt []byte) (cipher.AEAD, error) {
	key := make([]byte, keySize)
	kdf := hkdf.New(sha256.New, s.secret, salt, []byte(keyInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, goerr.Wrap(err, "failed to derive key")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create GCM")
	}
	return gcm, nil
}

// Seal encrypts plaintext into a versioned envelope. Salt and IV are fresh
// per call, so the same plaintext never seals to the same token twice.
func (s *Sealer) Seal(plaintext string) (string, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", goerr.Wrap(err, "failed to generate salt")
	}
	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", goerr.Wrap(err, "failed to generate IV")
	}

	gcm, err := s.deriveKey(salt)
	if err != nil {
		return "", err
	}

	ciphertext := gcm.Seal(nil, iv, []byte(plaintext), nil)

	enc := base64.RawURLEncoding
	return versionTag + "." +
		enc.EncodeToString(salt) + "." +
		enc.EncodeToString(iv) + "." +
		enc.EncodeToString(ciphertext), nil
}

// Unseal parses and decrypts a sealed token. Structural problems yield
// model.ErrTokenFormat; any decryption or tag failure yields
// model.ErrTokenAuthentication. There is no partial recovery.
func (s *Sealer) Unseal(token string) (string, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 4 || parts[0] != versionTag {
		return "", goerr.Wrap(model.ErrTokenFormat, "unexpected envelope",
			goerr.V("segments", len(parts)))
	}

	// Strict decoding rejects non-zero trailing padding bits, so a flipped
	// final character cannot alias to the original bytes
	enc := base64.RawURLEncoding.Strict()
	salt, err := enc.DecodeString(parts[1])
	if err != nil || len(salt) != saltSize {
		return "", goerr.Wrap(model.ErrTokenAuthentication, "bad salt segment")
	}
	iv, err := enc.DecodeString(parts[2])
	if err != nil || len(iv) != ivSize {
		return "", goerr.Wrap(model.ErrTokenAuthentication, "bad IV segment")
	}
	ciphertext, err := enc.DecodeString(parts[3])
	if err != nil {
		return "", goerr.Wrap(model.ErrTokenAuthentication, "bad ciphertext segment")
	}

	gcm, err := s.deriveKey(salt)
	if err != nil {
		return "", err
	}

	plaintext, err := gcm.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return "", goerr.Wrap(model.ErrTokenAuthentication, "decryption failed")
	}
	return string(plaintext), nil
}
