package identity

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/emrgen/docsync/internal/model"
)

var (
	ErrInvalidKey       = errors.New("invalid private key")
	ErrInvalidSignature = errors.New("invalid event signature")
	ErrIDMismatch       = errors.New("event id does not match its content")
)

// LocalSigner signs events with an ed25519 key held in memory.
type LocalSigner struct {
	key ed25519.PrivateKey
	pub string
}

// Generate creates a signer with a fresh random key.
func Generate() (*LocalSigner, error) {
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return newLocalSigner(key), nil
}

// FromHex loads a signer from a hex encoded 32 byte seed.
func FromHex(seed string) (*LocalSigner, error) {
	raw, err := hex.DecodeString(seed)
	if err != nil || len(raw) != ed25519.SeedSize {
		return nil, ErrInvalidKey
	}
	return newLocalSigner(ed25519.NewKeyFromSeed(raw)), nil
}

func newLocalSigner(key ed25519.PrivateKey) *LocalSigner {
	return &LocalSigner{
		key: key,
		pub: hex.EncodeToString(key.Public().(ed25519.PublicKey)),
	}
}

func (s *LocalSigner) PublicKey() string {
	return s.pub
}

// Seed returns the hex encoded seed, suitable for FromHex.
func (s *LocalSigner) Seed() string {
	return hex.EncodeToString(s.key.Seed())
}

// Sign fills in the author, id and signature of tmpl.
// A zero CreatedAt is replaced with the current time.
func (s *LocalSigner) Sign(_ context.Context, tmpl model.EventTemplate) (*model.Event, error) {
	createdAt := tmpl.CreatedAt
	if createdAt == 0 {
		createdAt = time.Now().Unix()
	}

	tags := tmpl.Tags
	if tags == nil {
		tags = model.Tags{}
	}

	ev := &model.Event{
		PubKey:    s.pub,
		CreatedAt: createdAt,
		Kind:      tmpl.Kind,
		Tags:      tags,
		Content:   tmpl.Content,
	}

	id := EventID(ev)
	ev.ID = hex.EncodeToString(id)
	ev.Sig = hex.EncodeToString(ed25519.Sign(s.key, id))

	return ev, nil
}

// EventID hashes the canonical serialization of ev.
func EventID(ev *model.Event) []byte {
	sum := sha256.Sum256(ev.Serialize())
	return sum[:]
}

// Verify checks that the id of ev matches its content and that the signature was made by its author.
func Verify(ev *model.Event) error {
	id := EventID(ev)
	if hex.EncodeToString(id) != ev.ID {
		return ErrIDMismatch
	}

	pub, err := hex.DecodeString(ev.PubKey)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: bad public key", ErrInvalidSignature)
	}
	sig, err := hex.DecodeString(ev.Sig)
	if err != nil {
		return fmt.Errorf("%w: bad encoding", ErrInvalidSignature)
	}
	if !ed25519.Verify(pub, id, sig) {
		return ErrInvalidSignature
	}

	return nil
}
