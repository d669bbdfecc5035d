package crypto

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// MinSecretLength is the minimum length of a configured signing secret.
const MinSecretLength = 32

const sessionKeyInfo = "signin-gate session mac v1"

// SigningKey is a derived MAC key and the identifier carried alongside
// signed values so verifiers can pick the right key.
type SigningKey struct {
	ID  string
	Key []byte
}

// Keyring holds the session signing keys. The first key signs new values;
// every key is accepted for verification, which lets operators rotate by
// prepending a new secret and dropping the old one after one session lifetime.
type Keyring struct {
	keys []SigningKey
	byID map[string]SigningKey
}

// NewKeyring derives a MAC key from every secret with HKDF-SHA256.
func NewKeyring(secrets [][]byte) (*Keyring, error) {
	if len(secrets) == 0 {
		return nil, fmt.Errorf("at least one signing secret is required")
	}

	kr := &Keyring{
		keys: make([]SigningKey, 0, len(secrets)),
		byID: make(map[string]SigningKey, len(secrets)),
	}
	for i, secret := range secrets {
		if len(secret) < MinSecretLength {
			return nil, fmt.Errorf("signing secret %d must be at least %d bytes, got %d", i, MinSecretLength, len(secret))
		}
		key, err := deriveKey(secret)
		if err != nil {
			return nil, fmt.Errorf("deriving signing key %d: %w", i, err)
		}
		if _, dup := kr.byID[key.ID]; dup {
			return nil, fmt.Errorf("signing secret %d duplicates an earlier secret", i)
		}
		kr.keys = append(kr.keys, key)
		kr.byID[key.ID] = key
	}
	return kr, nil
}

func deriveKey(secret []byte) (SigningKey, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(sessionKeyInfo)), key); err != nil {
		return SigningKey{}, err
	}
	sum := sha256.Sum256(key)
	return SigningKey{
		ID:  base64.RawURLEncoding.EncodeToString(sum[:6]),
		Key: key,
	}, nil
}

// Current returns the key used for signing.
func (k *Keyring) Current() SigningKey {
	return k.keys[0]
}

// Lookup returns the verification key with the given identifier.
func (k *Keyring) Lookup(id string) (SigningKey, bool) {
	key, ok := k.byID[id]
	return key, ok
}

// Len returns the number of keys in the ring.
func (k *Keyring) Len() int {
	return len(k.keys)
}
