package cryptoops

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/valyala/bytebufferpool"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"gosuda.org/walletconnect/walletconnect/core/wcproto"
)

var (
	ErrInvalidKey       = errors.New("invalid session key")
	ErrInvalidNonce     = errors.New("invalid nonce")
	ErrEncryptionFailed = errors.New("encryption failed")
	ErrDecryptionFailed = errors.New("decryption failed")
)

const (
	// KeySize is the length of the shared session key in bytes.
	KeySize   = 32
	nonceSize = chacha20poly1305.NonceSize

	envelopeInfo = "walletconnect/envelope/1"
)

func wipeMemory(b []byte) {
	b = b[:cap(b)]
	for i := range b {
		b[i] = 0
	}
}

func acquireBuffer() *bytebufferpool.ByteBuffer {
	buffer := bytebufferpool.Get()
	buffer.B = buffer.B[:0]
	return buffer
}

func releaseBuffer(buffer *bytebufferpool.ByteBuffer) {
	wipeMemory(buffer.B)
	bytebufferpool.Put(buffer)
}

// NewSessionKey generates a fresh random session key.
func NewSessionKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}
	return key, nil
}

// EncodeKey returns the hex form used in connection URIs and saved sessions.
func EncodeKey(key []byte) string {
	return hex.EncodeToString(key)
}

// DecodeKey parses a hex session key and checks its length.
func DecodeKey(s string) ([]byte, error) {
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidKey, len(key))
	}
	return key, nil
}

// KeyFingerprint is a short, non-reversible tag for a key, safe to log.
func KeyFingerprint(key []byte) string {
	sum := sha256.Sum256(key)
	return hex.EncodeToString(sum[:4])
}

// Cipher seals and opens envelope payloads with a key derived from the session key.
// Every message carries its own random nonce, so a Cipher holds no mutable state
// and is safe for concurrent use.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher derives the envelope key from sessionKey via HKDF-SHA256.
func NewCipher(sessionKey []byte) (*Cipher, error) {
	if len(sessionKey) != KeySize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidKey, len(sessionKey))
	}

	derived := make([]byte, chacha20poly1305.KeySize)
	defer wipeMemory(derived)
	if _, err := io.ReadFull(hkdf.New(sha256.New, sessionKey, nil, []byte(envelopeInfo)), derived); err != nil {
		return nil, fmt.Errorf("%w: derive: %w", ErrInvalidKey, err)
	}

	aead, err := chacha20poly1305.New(derived)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}
	return &Cipher{aead: aead}, nil
}

// Seal encrypts plaintext under a fresh nonce.
func (c *Cipher) Seal(plaintext []byte) (wcproto.EncryptedPayload, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return wcproto.EncryptedPayload{}, fmt.Errorf("%w: nonce: %w", ErrEncryptionFailed, err)
	}

	buffer := acquireBuffer()
	defer releaseBuffer(buffer)
	buffer.B = c.aead.Seal(buffer.B, nonce, plaintext, nil)

	return wcproto.EncryptedPayload{
		Data:  hex.EncodeToString(buffer.B),
		Nonce: hex.EncodeToString(nonce),
	}, nil
}

// Open authenticates and decrypts a payload. Any tampering yields ErrDecryptionFailed.
func (c *Cipher) Open(payload wcproto.EncryptedPayload) ([]byte, error) {
	nonce, err := hex.DecodeString(payload.Nonce)
	if err != nil || len(nonce) != nonceSize {
		return nil, fmt.Errorf("%w: %w", ErrDecryptionFailed, ErrInvalidNonce)
	}

	buffer := acquireBuffer()
	defer releaseBuffer(buffer)
	buffer.B, err = hex.AppendDecode(buffer.B, []byte(payload.Data))
	if err != nil {
		return nil, fmt.Errorf("%w: data: %w", ErrDecryptionFailed, err)
	}
	if len(buffer.B) < c.aead.Overhead() {
		return nil, ErrDecryptionFailed
	}

	plaintext, err := c.aead.Open(nil, nonce, buffer.B, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}
