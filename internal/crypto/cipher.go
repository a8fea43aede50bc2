package crypto

import (
    "crypto/aes"
    "crypto/cipher"
    "crypto/rand"
    "encoding/hex"
    "errors"
    "fmt"
    "strings"
)

const ivSize = 16

var (
    // ErrMalformedCiphertext means the stored value does not parse as
    // iv:tag:ciphertext. It is a format error, not a decryption failure.
    ErrMalformedCiphertext = errors.New("crypto: malformed ciphertext")
    // ErrInvalidCiphertext means authentication failed: the value parsed
    // but the tag does not match. Callers must not treat this as "no token".
    ErrInvalidCiphertext = errors.New("crypto: invalid ciphertext")
)

// Cipher encrypts and decrypts short secrets with AES-256-GCM. The wire
// format is three colon-delimited hex segments: iv, auth tag, ciphertext.
type Cipher struct {
    aead cipher.AEAD
}

func NewCipher(key []byte) (*Cipher, error) {
    if len(key) != 32 { return nil, fmt.Errorf("crypto: key must be 32 bytes, got %d", len(key)) }
    block, err := aes.NewCipher(key)
    if err != nil { return nil, err }
    aead, err := cipher.NewGCMWithNonceSize(block, ivSize)
    if err != nil { return nil, err }
    return &Cipher{aead: aead}, nil
}

func (c *Cipher) Encrypt(plaintext string) (string, error) {
    iv := make([]byte, ivSize)
    if _, err := rand.Read(iv); err != nil { return "", err }
    sealed := c.aead.Seal(nil, iv, []byte(plaintext), nil)
    // Seal appends the tag to the ciphertext; the stored form keeps them
    // as separate segments.
    split := len(sealed) - c.aead.Overhead()
    ct, tag := sealed[:split], sealed[split:]
    return hex.EncodeToString(iv) + ":" + hex.EncodeToString(tag) + ":" + hex.EncodeToString(ct), nil
}

func (c *Cipher) Decrypt(encrypted string) (string, error) {
    parts := strings.Split(encrypted, ":")
    if len(parts) != 3 { return "", ErrMalformedCiphertext }
    iv, err := hex.DecodeString(parts[0])
    if err != nil || len(iv) != ivSize { return "", ErrMalformedCiphertext }
    tag, err := hex.DecodeString(parts[1])
    if err != nil || len(tag) != c.aead.Overhead() { return "", ErrMalformedCiphertext }
    ct, err := hex.DecodeString(parts[2])
    if err != nil { return "", ErrMalformedCiphertext }
    plain, err := c.aead.Open(nil, iv, append(ct, tag...), nil)
    if err != nil { return "", ErrInvalidCiphertext }
    return string(plain), nil
}

// GenerateKey returns a fresh hex-encoded 32-byte key for initial setup.
func GenerateKey() (string, error) {
    key := make([]byte, 32)
    if _, err := rand.Read(key); err != nil { return "", err }
    return hex.EncodeToString(key), nil
}
