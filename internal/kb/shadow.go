package kb

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"io"

	bolt "go.etcd.io/bbolt"

	"codenerd/internal/errs"
)

// shadowProbeKey holds an authenticated probe value written once, at first
// unlock, so later unlock attempts can verify the supplied key without
// decrypting user data.
const shadowProbeKey = "__probe__"
const shadowProbeValue = "sovereign-shadow-probe"

// shadowCipher wraps an AEAD cipher derived from the operator-supplied
// shadow key. Standard library crypto/aes + crypto/cipher is used here
// deliberately: no repository in the retrieved example pack carries a
// dedicated authenticated-encryption library, and stdlib GCM is the
// idiomatic, minimal-dependency choice for a single AEAD primitive.
type shadowCipher struct {
	aead cipher.AEAD
}

func newShadowCipher(key string) (*shadowCipher, error) {
	sum := sha256.Sum256([]byte(key))
	block, err := aes.NewCipher(sum[:])
	if err != nil {
		return nil, errs.Wrap(errs.IOError, err, "derive shadow cipher")
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errs.Wrap(errs.IOError, err, "derive shadow AEAD")
	}
	return &shadowCipher{aead: aead}, nil
}

func (c *shadowCipher) seal(plain []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, errs.Wrap(errs.IOError, err, "generate nonce")
	}
	return c.aead.Seal(nonce, nonce, plain, nil), nil
}

func (c *shadowCipher) open(ciphertext []byte) ([]byte, error) {
	ns := c.aead.NonceSize()
	if len(ciphertext) < ns {
		return nil, errs.New(errs.IOError, "shadow ciphertext too short")
	}
	nonce, ct := ciphertext[:ns], ciphertext[ns:]
	plain, err := c.aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, errs.Wrap(errs.IOError, err, "shadow decrypt failed")
	}
	return plain, nil
}

// ShadowUnlocked reports whether the shadow slot has been unlocked for the
// lifetime of this process.
func (s *Store) ShadowUnlocked() bool { return s.shadow != nil }

// Unlock tests key against the stored probe value (writing it on first use)
// and, on success, marks the shadow slot unlocked for the process lifetime.
func (s *Store) Unlock(key string) error {
	candidate, err := newShadowCipher(key)
	if err != nil {
		return err
	}

	var probeCT []byte
	err = s.db.View(func(tx *bolt.Tx) error {
		probeCT = tx.Bucket(bucketName(SlotShadow)).Get([]byte(shadowProbeKey))
		return nil
	})
	if err != nil {
		return errs.Wrap(errs.IOError, err, "read shadow probe")
	}

	if probeCT == nil {
		// First unlock ever: seal the probe value under this key.
		sealed, err := candidate.seal([]byte(shadowProbeValue))
		if err != nil {
			return err
		}
		if err := s.db.Update(func(tx *bolt.Tx) error {
			return tx.Bucket(bucketName(SlotShadow)).Put([]byte(shadowProbeKey), sealed)
		}); err != nil {
			return errs.Wrap(errs.IOError, err, "persist shadow probe")
		}
		s.shadow = candidate
		return nil
	}

	plain, err := candidate.open(probeCT)
	if err != nil || !bytes.Equal(plain, []byte(shadowProbeValue)) {
		return errs.New(errs.ShadowLocked, "shadow key rejected by probe")
	}
	s.shadow = candidate
	return nil
}

func (s *Store) readShadow(key string) ([]byte, error) {
	if !s.ShadowUnlocked() {
		return nil, errs.New(errs.ShadowLocked, "shadow slot locked")
	}
	var ct []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		ct = tx.Bucket(bucketName(SlotShadow)).Get([]byte(key))
		return nil
	})
	if err != nil {
		return nil, errs.Wrap(errs.IOError, err, "read shadow slot")
	}
	if ct == nil {
		return nil, errs.Newf(errs.NotFound, "shadow key %q not found", key)
	}
	return s.shadow.open(ct)
}

func (s *Store) writeShadow(key string, value []byte) error {
	if !s.ShadowUnlocked() {
		return errs.New(errs.ShadowLocked, "shadow slot locked")
	}
	sealed, err := s.shadow.seal(value)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName(SlotShadow)).Put([]byte(key), sealed)
	})
}
