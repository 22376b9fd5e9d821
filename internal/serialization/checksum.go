package serialization

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// Checksum returns the hex SHA-256 digest of data.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ChecksumReader returns the hex SHA-256 digest of everything read from r.
func ChecksumReader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ChecksumFile returns the hex SHA-256 digest of a file, e.g. an exported
// artifact, without loading it into memory.
func ChecksumFile(path string) (string, error) {
	//nolint:gosec // G304: path is chosen by the user
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	sum, err := ChecksumReader(f)
	if err != nil {
		return "", fmt.Errorf("checksum %s: %w", path, err)
	}
	return sum, nil
}

// ValidateChecksum compares a computed digest against an expected one.
// Returns ErrChecksumMismatch if they differ.
func ValidateChecksum(computed, expected string) error {
	if computed != expected {
		return fmt.Errorf("%w: got %s, expected %s", ErrChecksumMismatch, computed, expected)
	}
	return nil
}
