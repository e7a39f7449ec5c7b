package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Norgate-AV/incgen/internal/fileutil"
	"github.com/Norgate-AV/incgen/internal/fingerprint"
)

// ErrCorruptBlob is returned when a stored blob no longer matches its digest
var ErrCorruptBlob = errors.New("cached artifact does not match its digest")

// SaveBlob stores data under its digest in dir
// Existing blobs are left alone since their content is identical by construction
func SaveBlob(dir string, digest fingerprint.Digest, data []byte) error {
	path, err := blobPath(dir, digest)
	if err != nil {
		return err
	}

	if _, err := os.Stat(path); err == nil {
		return nil
	}

	return fileutil.WriteFileAtomic(path, data, 0o644)
}

// ReadBlob loads a blob and verifies it against its digest
func ReadBlob(dir string, digest fingerprint.Digest) ([]byte, error) {
	path, err := blobPath(dir, digest)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if fingerprint.Bytes(data) != digest {
		return nil, fmt.Errorf("%s: %w", path, ErrCorruptBlob)
	}

	return data, nil
}

// blobPath returns the sharded location of a blob: <dir>/aa/bb/<digest>
func blobPath(dir string, digest fingerprint.Digest) (string, error) {
	d := string(digest)
	if len(d) < 6 || !isHex(d) {
		return "", fmt.Errorf("invalid artifact digest %q", d)
	}

	return filepath.Join(dir, d[:2], d[2:4], d), nil
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}

	return true
}
