package revision

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// HashLength is the number of hex characters kept from the sha256 digest.
const HashLength = 32

var (
	// ErrInvalidID is returned when a revision id string cannot be parsed.
	ErrInvalidID = errors.New("invalid revision id, expected format is <generation>-<hash>")
)

// ID identifies one revision of a document as <generation>-<hash>.
type ID struct {
	Generation uint64
	Hash       string
}

// String returns the wire form of the id.
func (id ID) String() string {
	return strconv.FormatUint(id.Generation, 10) + "-" + id.Hash
}

// IsZero reports whether the id is unset.
func (id ID) IsZero() bool {
	return id.Generation == 0 && id.Hash == ""
}

// Compare orders ids by generation, then by hash. It returns -1, 0 or 1.
func Compare(a, b ID) int {
	switch {
	case a.Generation < b.Generation:
		return -1
	case a.Generation > b.Generation:
		return 1
	}
	return strings.Compare(a.Hash, b.Hash)
}

// ComputeHash chains the content hash to the parent hash.
// An empty prevHash marks a root revision.
func ComputeHash(prevHash string, content string) string {
	if prevHash == "" {
		return digest(content)[:HashLength]
	}

	return digest(prevHash + ":" + digest(content))[:HashLength]
}

// New builds the id of a revision at the given generation.
func New(generation uint64, prev *ID, content string) ID {
	prevHash := ""
	if prev != nil {
		prevHash = prev.Hash
	}

	return ID{
		Generation: generation,
		Hash:       ComputeHash(prevHash, content),
	}
}

// Next builds the id of the revision that supersedes prev.
func Next(prev ID, content string) ID {
	return New(prev.Generation+1, &prev, content)
}

// Parse splits a revision id on its first '-'.
func Parse(s string) (ID, error) {
	gen, hash, ok := strings.Cut(s, "-")
	if !ok {
		return ID{}, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}

	generation, err := strconv.ParseUint(gen, 10, 64)
	if err != nil || generation == 0 {
		return ID{}, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}

	return ID{Generation: generation, Hash: hash}, nil
}

// MustParse is Parse for ids known to be valid.
func MustParse(s string) ID {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
