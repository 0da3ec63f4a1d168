package negotiate

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// SealedEnvelope is the base64 AEAD ciphertext with associated nonce and
// version tag protecting SDP and ICE payloads transiting the rendezvous.
type SealedEnvelope struct {
	Version    int    `json:"version"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

const sealedEnvelopeVersion = 1

// deriveHandshakeKey derives a 32-byte AEAD key from (sessionID,
// passphrase, handshakeID) via HKDF-SHA256. Unlike a passphrase-file
// encryption scheme that derives one long-lived key with Argon2id,
// signaling keys are derived fresh per handshake: handshakeID is random
// and single-use, so a slow KDF buys nothing and HKDF is the appropriate
// primitive for expanding (not stretching) key material.
func deriveHandshakeKey(sessionID, passphrase, handshakeID string) ([]byte, error) {
	secret := []byte(passphrase)
	salt := []byte(sessionID)
	info := []byte("beach-signaling:" + handshakeID)
	r := hkdf.New(sha256.New, secret, salt, info)
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive handshake key: %w", err)
	}
	return key, nil
}

// Seal encrypts plaintext (an SDP blob or ICE candidate JSON payload)
// under a key derived from (sessionID, passphrase, handshakeID), or under
// handshakeKey directly if non-nil (an already-established symmetric key
// from a prior message in the same handshake, preferred over re-deriving
// from the passphrase).
func Seal(sessionID, passphrase, handshakeID string, handshakeKey []byte, plaintext []byte) (SealedEnvelope, []byte, error) {
	key := handshakeKey
	var err error
	if key == nil {
		key, err = deriveHandshakeKey(sessionID, passphrase, handshakeID)
		if err != nil {
			return SealedEnvelope{}, nil, err
		}
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return SealedEnvelope{}, nil, fmt.Errorf("new aead: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return SealedEnvelope{}, nil, fmt.Errorf("generate nonce: %w", err)
	}
	ciphertext := aead.Seal(nil, nonce, plaintext, nil)

	env := SealedEnvelope{
		Version:    sealedEnvelopeVersion,
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
	}
	return env, key, nil
}

// Unseal decrypts env using a key derived the same way Seal does, or
// handshakeKey directly if non-nil. Returns the plaintext and the key used,
// so the caller can remember it for subsequent messages in the handshake.
func Unseal(sessionID, passphrase, handshakeID string, handshakeKey []byte, env SealedEnvelope) ([]byte, []byte, error) {
	if env.Version != sealedEnvelopeVersion {
		return nil, nil, fmt.Errorf("unsupported sealed envelope version %d", env.Version)
	}
	key := handshakeKey
	var err error
	if key == nil {
		key, err = deriveHandshakeKey(sessionID, passphrase, handshakeID)
		if err != nil {
			return nil, nil, err
		}
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, nil, fmt.Errorf("new aead: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(env.Nonce)
	if err != nil {
		return nil, nil, fmt.Errorf("decode nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return nil, nil, fmt.Errorf("decode ciphertext: %w", err)
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("decrypt: %w", err)
	}
	return plaintext, key, nil
}
