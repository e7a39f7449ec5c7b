// Package fingerprint computes content digests used to detect changed inputs
// and outputs without relying on modification times.
package fingerprint

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMemoSize bounds the number of file digests kept by a Fingerprinter.
const DefaultMemoSize = 4096

// Digest is a lowercase hex SHA-256 content hash.
type Digest string

// Bytes returns the digest of data.
func Bytes(data []byte) Digest {
	sum := sha256.Sum256(data)
	return Digest(hex.EncodeToString(sum[:]))
}

// File streams the file at path through SHA-256.
func File(path string) (Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}

	return Digest(hex.EncodeToString(h.Sum(nil))), nil
}

// Combine folds parts into a single digest. Each part is length-prefixed so
// ("ab", "c") and ("a", "bc") differ. Order matters.
func Combine(parts ...string) Digest {
	h := sha256.New()

	var n [8]byte
	for _, p := range parts {
		binary.BigEndian.PutUint64(n[:], uint64(len(p)))
		h.Write(n[:])
		h.Write([]byte(p))
	}

	return Digest(hex.EncodeToString(h.Sum(nil)))
}

// Fingerprinter memoizes file digests for the duration of one build pass.
// It is safe for concurrent use.
type Fingerprinter struct {
	memo *lru.Cache[string, Digest]
}

// New creates a Fingerprinter holding at most size digests.
// A size <= 0 uses DefaultMemoSize.
func New(size int) (*Fingerprinter, error) {
	if size <= 0 {
		size = DefaultMemoSize
	}

	memo, err := lru.New[string, Digest](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create digest memo: %w", err)
	}

	return &Fingerprinter{memo: memo}, nil
}

// File returns the digest of path, reading it only on the first request.
func (f *Fingerprinter) File(path string) (Digest, error) {
	if d, ok := f.memo.Get(path); ok {
		return d, nil
	}

	d, err := File(path)
	if err != nil {
		return "", err
	}

	f.memo.Add(path, d)
	return d, nil
}

// Reset drops every memoized digest.
func (f *Fingerprinter) Reset() {
	f.memo.Purge()
}
