package diskprep

import (
	"errors"
	"io"
	"os"
	"runtime"

	"github.com/klauspost/pgzip"
	"github.com/opencontainers/go-digest"
)

// compressionBlockSize matches the teacher's internal/disk/compression.go
// concurrency block size for pgzip.
const compressionBlockSize = 100000

// CompressLogFile gzips src into dst using pgzip's parallel writer. It is
// used to archive a prior run's vm_manager.log before internal/ensure
// truncates it for a newly spawned supervisor, and by ArchiveDefaultImage
// to produce default.raw.gz. Adapted from internal/disk/compression.go's
// CompressFileWithPath.
func CompressLogFile(srcPath, dstPath string) (err error) {
	in, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, in.Close()) }()

	out, err := os.Create(dstPath)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, out.Close()) }()

	w, err := pgzip.NewWriterLevel(out, pgzip.DefaultCompression)
	if err != nil {
		return err
	}
	if err := w.SetConcurrency(compressionBlockSize, runtime.NumCPU()); err != nil {
		return err
	}

	if _, err := io.Copy(w, in); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return out.Sync()
}

// DecompressDefaultImage streams src (a gzip-compressed cached template)
// into dst, truncated to at least uncompressedSize bytes, skipping
// all-zero chunks to keep the result sparse. Adapted verbatim in spirit
// from internal/disk/compression.go's DecompressFileWithPath.
func DecompressDefaultImage(srcPath, dstPath string, uncompressedSize int64) (d digest.Digest, err error) {
	in, err := os.Open(srcPath)
	if err != nil {
		return "", err
	}
	defer func() { err = errors.Join(err, in.Close()) }()

	out, err := os.Create(dstPath)
	if err != nil {
		return "", err
	}
	defer func() { err = errors.Join(err, out.Close()) }()

	if err := out.Truncate(uncompressedSize); err != nil {
		return "", err
	}

	r, err := pgzip.NewReader(in)
	if err != nil {
		return "", err
	}

	digester := digest.Canonical.Digester()
	h := digester.Hash()

	const blockSize = 64 << 10
	buf := make([]byte, 4<<20)
	zero := make([]byte, blockSize)
	var offset int64

	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
			for i := 0; i < n; {
				end := i + blockSize
				if end > n {
					end = n
				}
				chunk := buf[i:end]
				i = end
				if string(chunk) != string(zero[:len(chunk)]) {
					if _, serr := out.Seek(offset, io.SeekStart); serr != nil {
						return "", serr
					}
					if _, werr := out.Write(chunk); werr != nil {
						return "", werr
					}
				}
				offset += int64(len(chunk))
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return "", rerr
		}
	}

	d = digester.Digest()
	if err := writeDigestFile(dstPath, d); err != nil {
		return "", err
	}
	return d, nil
}
