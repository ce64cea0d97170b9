package diskprep

import (
	"errors"
	"io"
	"os"

	"github.com/opencontainers/go-digest"
)

// digestFileSuffix names the cached-digest sidecar file, adapted from
// internal/disk/digest.go.
const digestFileSuffix = ".digest"

func writeDigestFile(filePath string, d digest.Digest) error {
	digestFilePath := digestFilePath(filePath)
	f, err := os.Create(digestFilePath)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(d.String()); err != nil {
		return errors.Join(err, f.Close())
	}
	return f.Close()
}

func digestFilePath(filePath string) string {
	return filePath + digestFileSuffix
}

// ReadRecordedDigest reads the digest sidecar written by a prior
// RecordDigest/DecompressDefaultImage call, if one exists.
func ReadRecordedDigest(filePath string) (d digest.Digest, ok bool, err error) {
	data, err := os.ReadFile(digestFilePath(filePath))
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, err
	}
	d, err = digest.Parse(string(data))
	if err != nil {
		return "", false, err
	}
	return d, true, nil
}

// RecordDigest computes filePath's canonical digest and writes its sidecar,
// used the first time a freshly provisioned default.raw is accepted.
func RecordDigest(filePath string) (digest.Digest, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	digester := digest.Canonical.Digester()
	if _, err := io.Copy(digester.Hash(), f); err != nil {
		return "", err
	}
	d := digester.Digest()
	if err := writeDigestFile(filePath, d); err != nil {
		return "", err
	}
	return d, nil
}
