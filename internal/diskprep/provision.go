// Package diskprep prepares the per-project instance disk from the cached,
// provisioned base image, per spec.md §4.7. Compression/digest helpers are
// adapted from internal/disk; the sparse-copy/clonefile derivation logic is
// new.
package diskprep

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/opencontainers/go-digest"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// ErrProvisionFailed indicates the base-image provisioning session reported
// VIBEBOX_PROVISION_FAILED.
var ErrProvisionFailed = fmt.Errorf("base image provisioning failed")

// CacheDir resolves the global cache directory holding the provisioned
// default.raw template, e.g. ~/.cache/vibebox.
type CacheDir struct {
	Dir string
}

func (c CacheDir) DefaultImagePath() string {
	return c.Dir + "/default.raw"
}

// BaseImagePath is the already-downloaded-and-decompressed boot media a
// provisioning session boots from, per spec.md §4.7 step 1. Acquiring it
// (download, checksum, decompression) is the one-shot bootstrap spec.md §1
// places out of scope; the supervisor only requires it to already exist.
func (c CacheDir) BaseImagePath() string {
	return c.Dir + "/base.raw"
}

// CompressedImagePath is a portable gzip archive of the provisioned
// template, produced once provisioning succeeds so the cache directory can
// be backed up or copied to another host without shipping the raw disk.
func (c CacheDir) CompressedImagePath() string {
	return c.Dir + "/default.raw.gz"
}

// archiveMetaPath sidecar stores the uncompressed image's digest and size
// next to its .gz archive, so RestoreDefaultImageIfNeeded can validate a
// restored image without the original default.raw around to re-derive them
// from.
func (c CacheDir) archiveMetaPath() string {
	return c.CompressedImagePath() + ".meta"
}

// RemovePartialDefaultImage deletes a partially-written default.raw after a
// failed provisioning run, per spec.md §4.7 step 1 and scenario S6.
func RemovePartialDefaultImage(cache CacheDir) error {
	err := os.Remove(cache.DefaultImagePath())
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// ArchiveDefaultImage compresses a freshly provisioned default.raw into its
// portable .gz form, recording the uncompressed digest and size alongside
// it so it can be restored and validated later without the original file.
func ArchiveDefaultImage(cache CacheDir) error {
	info, err := os.Stat(cache.DefaultImagePath())
	if err != nil {
		return err
	}
	d, ok, err := ReadRecordedDigest(cache.DefaultImagePath())
	if err != nil {
		return err
	}
	if !ok {
		if d, err = RecordDigest(cache.DefaultImagePath()); err != nil {
			return err
		}
	}
	if err := CompressLogFile(cache.DefaultImagePath(), cache.CompressedImagePath()); err != nil {
		return err
	}
	meta := fmt.Sprintf("%s %d", d, info.Size())
	return os.WriteFile(cache.archiveMetaPath(), []byte(meta), 0o644)
}

// RestoreDefaultImageIfNeeded decompresses the cached default.raw.gz back
// into default.raw when the raw template is missing (e.g. a cache
// directory restored from backup) but the compressed archive survived,
// verifying the result against the digest recorded at archive time.
func RestoreDefaultImageIfNeeded(log *logrus.Entry, cache CacheDir) error {
	if _, err := os.Stat(cache.DefaultImagePath()); err == nil {
		return nil
	}
	if _, err := os.Stat(cache.CompressedImagePath()); err != nil {
		return nil // nothing to restore from; caller will reprovision
	}
	expectedDigest, uncompressedSize, err := readArchiveMeta(cache)
	if err != nil {
		return fmt.Errorf("reading archive metadata: %w", err)
	}
	log.Info("restoring default.raw from compressed cache archive")
	got, err := DecompressDefaultImage(cache.CompressedImagePath(), cache.DefaultImagePath(), uncompressedSize)
	if err != nil {
		return fmt.Errorf("restoring default image from archive: %w", err)
	}
	if got != expectedDigest {
		return fmt.Errorf("restored default image digest mismatch: got %s, expected %s", got, expectedDigest)
	}
	return nil
}

func readArchiveMeta(cache CacheDir) (digest.Digest, int64, error) {
	raw, err := os.ReadFile(cache.archiveMetaPath())
	if err != nil {
		return "", 0, err
	}
	parts := strings.Fields(string(raw))
	if len(parts) != 2 {
		return "", 0, fmt.Errorf("malformed archive metadata %q", string(raw))
	}
	size, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("parsing archive metadata size: %w", err)
	}
	return digest.Digest(parts[0]), size, nil
}

// EnsureInstanceDisk derives <project>/.vibebox/instance.raw from the
// cached default.raw if it does not already exist. configuredSize is the
// disk size requested by vibebox.toml's box.disk_gb, in bytes. When the
// configured size exceeds the template's size, the file is pre-allocated to
// configuredSize and the template streamed in sparsely; resizeNeeded
// reports whether the guest must grow its root filesystem on first boot.
//
// If the instance disk already exists, its size is left untouched even if
// it differs from configuredSize (spec.md §4.7 step 3): a warning is logged
// and resizeNeeded is always false in that case.
func EnsureInstanceDisk(log *logrus.Entry, defaultImagePath, instancePath string, configuredSize int64) (resizeNeeded bool, err error) {
	if _, err := os.Stat(instancePath); err == nil {
		return checkExistingSize(log, instancePath, configuredSize)
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("stat instance disk: %w", err)
	}

	templateInfo, err := os.Stat(defaultImagePath)
	if err != nil {
		return false, fmt.Errorf("stat default image: %w", err)
	}

	if configuredSize <= templateInfo.Size() {
		if err := cloneTemplate(defaultImagePath, instancePath); err != nil {
			return false, fmt.Errorf("cloning default image: %w", err)
		}
		return false, nil
	}

	if err := streamSparseCopy(defaultImagePath, instancePath, configuredSize); err != nil {
		return false, fmt.Errorf("streaming sparse copy: %w", err)
	}
	return true, nil
}

func checkExistingSize(log *logrus.Entry, instancePath string, configuredSize int64) (bool, error) {
	info, err := os.Stat(instancePath)
	if err != nil {
		return false, fmt.Errorf("stat instance disk: %w", err)
	}
	if info.Size() != configuredSize {
		log.Warnf("instance disk size %d differs from configured %d; preserving existing disk", info.Size(), configuredSize)
	}
	return false, nil
}

// cloneTemplate uses an APFS clonefile reflink whenever the configured size
// does not exceed the template's (the common case), falling back to a plain
// copy on any clonefile error (e.g. cross-volume instance directories).
func cloneTemplate(src, dst string) error {
	_ = os.Remove(dst)
	if err := unix.Clonefile(src, dst, 0); err == nil {
		return nil
	}
	return CopyFile(src, dst)
}

// CopyFile plainly copies src to dst, used both as cloneTemplate's
// cross-volume fallback and to seed a provisioning session's working disk
// from the cached base image.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

// streamSparseCopy pre-allocates dst to size, then streams src in, skipping
// writes of all-zero chunks so the result stays sparse. Adapted from
// internal/disk/compression.go's DecompressFileWithPath skip-write loop.
func streamSparseCopy(src, dst string, size int64) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() {
		err = firstNonNil(err, out.Close())
	}()

	if err := out.Truncate(size); err != nil {
		return fmt.Errorf("truncating instance disk: %w", err)
	}

	const blockSize = 64 << 10
	buf := make([]byte, 4<<20)
	zero := make([]byte, blockSize)
	var offset int64

	for {
		n, rerr := in.Read(buf)
		if n > 0 {
			for i := 0; i < n; {
				end := i + blockSize
				if end > n {
					end = n
				}
				chunk := buf[i:end]
				i = end

				if !bytes.Equal(chunk, zero[:len(chunk)]) {
					if _, serr := out.Seek(offset, io.SeekStart); serr != nil {
						return fmt.Errorf("seeking instance disk: %w", serr)
					}
					if _, werr := out.Write(chunk); werr != nil {
						return fmt.Errorf("writing instance disk: %w", werr)
					}
				}
				offset += int64(len(chunk))
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return fmt.Errorf("reading default image: %w", rerr)
		}
	}

	return out.Sync()
}

func firstNonNil(a, b error) error {
	if a != nil {
		return a
	}
	return b
}
