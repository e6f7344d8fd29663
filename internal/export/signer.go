package export

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
)

// Signer computes the file hash and the keyed signature of export bytes.
type Signer struct {
	secret []byte
}

// NewSigner creates a Signer. An empty secret is rejected.
func NewSigner(secret string) (*Signer, error) {
	if secret == "" {
		return nil, errors.New("export signing secret is empty")
	}
	return &Signer{secret: []byte(secret)}, nil
}

// Digest returns hex(SHA-256(data)).
func (s *Signer) Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Sign returns hex(HMAC-SHA256(secret, data)).
func (s *Signer) Sign(data []byte) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

// CheckDigest compares data's digest with want in constant time.
func (s *Signer) CheckDigest(data []byte, want string) bool {
	return subtle.ConstantTimeCompare([]byte(s.Digest(data)), []byte(want)) == 1
}

// CheckSignature compares data's signature with want in constant time.
func (s *Signer) CheckSignature(data []byte, want string) bool {
	got, err := hex.DecodeString(want)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(data)
	return hmac.Equal(mac.Sum(nil), got)
}
