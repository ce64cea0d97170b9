package diskprep

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/opencontainers/go-digest"
	"github.com/sirupsen/logrus"
)

// ValidateFileWithDigest validates filePath against expectedDigest, trusting
// a fresh digest sidecar file when present and re-computing otherwise.
// Adapted from internal/disk/validator.go, with logrus replacing the
// dropped virtual-kubelet/log indirection.
func ValidateFileWithDigest(log *logrus.Entry, filePath string, expectedDigest digest.Digest) error {
	fileInfo, err := os.Stat(filePath)
	if err != nil {
		return fmt.Errorf("checking file: %w", err)
	}

	digestFilePath := digestFilePath(filePath)
	digestFileInfo, err := os.Stat(digestFilePath)
	isNotExist := os.IsNotExist(err)
	if err != nil && !isNotExist {
		return fmt.Errorf("checking digest file: %w", err)
	}

	if isNotExist || !digestFileInfo.ModTime().After(fileInfo.ModTime()) {
		log.Warnf("digest file for %s missing or stale, computing manually", filePath)
		return ComputeAndVerifyFileDigest(filePath, expectedDigest)
	}

	stored, err := os.ReadFile(digestFilePath)
	if err != nil {
		return fmt.Errorf("reading digest file: %w", err)
	}
	if expectedDigest.String() != string(stored) {
		return fmt.Errorf("digest mismatch: got %s, expected %s", string(stored), expectedDigest)
	}
	return nil
}

// ComputeAndVerifyFileDigest recomputes filePath's digest and compares it
// against expectedDigest, caching the result on success.
func ComputeAndVerifyFileDigest(filePath string, expectedDigest digest.Digest) error {
	f, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer f.Close()

	verifier := expectedDigest.Verifier()
	if _, err := io.Copy(verifier, f); err != nil {
		return err
	}
	if !verifier.Verified() {
		return errors.New("digest verification failed")
	}
	return writeDigestFile(filePath, expectedDigest)
}
