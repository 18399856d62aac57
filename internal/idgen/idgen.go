package idgen

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/google/uuid"
)

// TokenBytes is the entropy of an access token. 32 bytes encode to 43
// URL-safe characters.
const TokenBytes = 32

// Generator issues record ids and access tokens.
type Generator interface {
	// NewID returns a unique record identifier.
	NewID() string
	// NewToken returns an unguessable access token.
	NewToken() (string, error)
}

// Random draws tokens from crypto/rand and ids from UUIDv4.
type Random struct{}

// New returns the default generator.
func New() Random {
	return Random{}
}

func (Random) NewID() string {
	return uuid.NewString()
}

func (Random) NewToken() (string, error) {
	b := make([]byte, TokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// TokenPair returns two tokens drawn independently. It never returns
// equal values.
func TokenPair(g Generator) (public, private string, err error) {
	for {
		if public, err = g.NewToken(); err != nil {
			return "", "", err
		}
		if private, err = g.NewToken(); err != nil {
			return "", "", err
		}
		if public != private {
			return public, private, nil
		}
	}
}
