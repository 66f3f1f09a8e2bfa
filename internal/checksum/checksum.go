// Package checksum implements MD5/SHA-256 verification over file contents
// and over raw device byte ranges (spec.md §4.6).
package checksum

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"

	"github.com/phytec/partitup/internal/perrors"
)

// Algo identifies which hash function to use.
type Algo int

const (
	MD5 Algo = iota
	SHA256
)

func newHash(algo Algo) hash.Hash {
	if algo == SHA256 {
		return sha256.New()
	}
	return md5.New()
}

// VerifyFile streams path's full contents through algo and compares the
// lowercase-hex digest against expected.
func VerifyFile(path string, expected string, algo Algo) error {
	f, err := os.Open(path)
	if err != nil {
		return perrors.Wrap(perrors.InputMissing, path, err)
	}
	defer f.Close()

	h := newHash(algo)
	if _, err := io.Copy(h, f); err != nil {
		return perrors.Wrap(perrors.ChecksumMismatch, path, err)
	}
	return compare(path, h, expected)
}

// VerifyRaw reads exactly length bytes starting at offset from r (typically
// a device file) and compares its digest against expected.
func VerifyRaw(r io.ReaderAt, offset, length int64, expected string, algo Algo) error {
	h := newHash(algo)
	if _, err := io.Copy(h, io.NewSectionReader(r, offset, length)); err != nil {
		return perrors.Wrap(perrors.ChecksumMismatch, fmt.Sprintf("offset %d length %d", offset, length), err)
	}
	return compare(fmt.Sprintf("offset %d length %d", offset, length), h, expected)
}

// SHA256HexOfRange hashes exactly length bytes starting at offset from r
// and returns the lowercase-hex digest, for callers that need to compare
// two byte ranges (e.g. a freshly-written device range against its source)
// rather than verify against a caller-supplied expected value.
func SHA256HexOfRange(r io.ReaderAt, offset, length int64) (string, error) {
	h := newHash(SHA256)
	if _, err := io.Copy(h, io.NewSectionReader(r, offset, length)); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func compare(context string, h hash.Hash, expected string) error {
	got := hex.EncodeToString(h.Sum(nil))
	if !strings.EqualFold(got, expected) {
		return perrors.New(perrors.ChecksumMismatch,
			fmt.Sprintf("%s: expected %s, got %s", context, expected, got))
	}
	return nil
}
