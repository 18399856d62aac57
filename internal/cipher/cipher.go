package cipher

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// KeySize is the size of every derived symmetric key.
const KeySize = 32

// MinSecretSize is the shortest master secret accepted.
const MinSecretSize = 16

// Version is the first byte of every sealed body and part of the AAD, so a
// body cannot be replayed under a different format.
const Version byte = 0x01

// Overhead is the bytes a sealed body adds to its plaintext:
// version + nonce + Poly1305 tag.
const Overhead = 1 + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead

// HKDF info strings for domain separation. Changing one invalidates every
// value derived under it.
const (
	infoMessageKey = "saytruth.message.v1"
)

var ErrMalformed = errors.New("sealed body is malformed")

// Cipher seals message bodies under a key derived from the process master
// secret. It is safe for concurrent use.
type Cipher struct {
	secret []byte
	key    []byte
}

// New derives the message key from secret.
func New(secret []byte) (*Cipher, error) {
	if len(secret) < MinSecretSize {
		return nil, fmt.Errorf("encryption secret must be at least %d bytes, got %d", MinSecretSize, len(secret))
	}
	c := &Cipher{secret: append([]byte(nil), secret...)}
	key, err := c.DeriveKey(infoMessageKey)
	if err != nil {
		return nil, err
	}
	c.key = key
	return c, nil
}

// DeriveKey derives an independent KeySize key from the master secret for
// another purpose named by info.
func (c *Cipher) DeriveKey(info string) ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, c.secret, nil, []byte(info)), key); err != nil {
		return nil, fmt.Errorf("deriving key %q: %w", info, err)
	}
	return key, nil
}

// Seal encrypts plaintext with XChaCha20-Poly1305. The binding (the owning
// link or recipient id) is authenticated, so a body moved to another owner
// fails to open.
//
//	[version: 1] [nonce: 24] [ciphertext+tag: N+16]
func (c *Cipher) Seal(plaintext []byte, binding string) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}

	var nonce [chacha20poly1305.NonceSizeX]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("generating random nonce: %w", err)
	}

	out := make([]byte, 1+len(nonce), Overhead+len(plaintext))
	out[0] = Version
	copy(out[1:], nonce[:])
	return aead.Seal(out, nonce[:], plaintext, aad(Version, binding)), nil
}

// Open reverses Seal.
func (c *Cipher) Open(sealed []byte, binding string) ([]byte, error) {
	if len(sealed) < Overhead {
		return nil, fmt.Errorf("%w: %d bytes, minimum is %d", ErrMalformed, len(sealed), Overhead)
	}
	if sealed[0] != Version {
		return nil, fmt.Errorf("%w: version %d is not supported", ErrMalformed, sealed[0])
	}

	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}

	nonce := sealed[1 : 1+chacha20poly1305.NonceSizeX]
	plaintext, err := aead.Open(nil, nonce, sealed[1+chacha20poly1305.NonceSizeX:], aad(sealed[0], binding))
	if err != nil {
		return nil, fmt.Errorf("decryption failed (wrong key, tampered data or wrong owner): %w", err)
	}
	return plaintext, nil
}

func aad(version byte, binding string) []byte {
	b := make([]byte, 1+len(binding))
	b[0] = version
	copy(b[1:], binding)
	return b
}
