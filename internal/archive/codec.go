package archive

import (
	"archive/tar"
	"bytes"
	"errors"
	"io"
	"slices"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/keithlinneman/linnemanlabs-assets/internal/pathutil"
	"github.com/keithlinneman/linnemanlabs-assets/internal/xerrors"
)

const (
	// DefaultMaxFile is the largest single entry the codec will extract.
	DefaultMaxFile int64 = 32 * 1024 * 1024 // 32MB

	// DefaultMaxTotal bounds the extracted size of one archive.
	DefaultMaxTotal int64 = 256 * 1024 * 1024 // 256MB
)

var (
	// ErrNoItem is returned by Extract for a path the archive does not hold.
	ErrNoItem = errors.New("archive: no such item")

	// ErrUnknownFormat is returned by Open when the payload is not a
	// recognized container.
	ErrUnknownFormat = errors.New("archive: unknown container format")
)

// Handle is an opened archive. Implementations must be safe for concurrent
// readers.
type Handle interface {
	HasItem(path string) bool
	Extract(path string) ([]byte, error)
	ListPaths() []string
}

// Codec opens raw archive bytes into a Handle.
type Codec interface {
	Open(data []byte) (Handle, error)
}

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// TarCodec opens plain, gzip or zstd compressed tar streams into memory.
// Zero limits fall back to the package defaults.
type TarCodec struct {
	MaxFile  int64
	MaxTotal int64
}

func (c TarCodec) limits() (int64, int64) {
	maxFile, maxTotal := c.MaxFile, c.MaxTotal
	if maxFile <= 0 {
		maxFile = DefaultMaxFile
	}
	if maxTotal <= 0 {
		maxTotal = DefaultMaxTotal
	}
	return maxFile, maxTotal
}

// Sniff reports whether data looks like a container TarCodec can open.
func Sniff(data []byte) bool {
	return bytes.HasPrefix(data, gzipMagic) || bytes.HasPrefix(data, zstdMagic) || isTar(data)
}

func isTar(data []byte) bool {
	// ustar magic lives at offset 257 of the first header block
	return len(data) >= 262 && string(data[257:262]) == "ustar"
}

func (c TarCodec) Open(data []byte) (Handle, error) {
	var r io.Reader
	switch {
	case bytes.HasPrefix(data, gzipMagic):
		gr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, xerrors.Wrap(err, "open gzip")
		}
		defer gr.Close()
		r = gr
	case bytes.HasPrefix(data, zstdMagic):
		zr, err := zstd.NewReader(bytes.NewReader(data), zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, xerrors.Wrap(err, "open zstd")
		}
		defer zr.Close()
		r = zr
	case isTar(data):
		r = bytes.NewReader(data)
	default:
		return nil, xerrors.WithStack(ErrUnknownFormat)
	}
	return c.extract(r)
}

// extract reads every regular entry of a tar stream into memory.
func (c TarCodec) extract(r io.Reader) (*memArchive, error) {
	maxFile, maxTotal := c.limits()
	files := make(map[string][]byte)
	tr := tar.NewReader(r)

	var totalBytes int64
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, xerrors.Wrap(err, "read tar header")
		}

		name, err := pathutil.CleanRelative(hdr.Name)
		if err != nil {
			return nil, xerrors.Wrap(err, "archive entry")
		}
		if name == "" {
			continue
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			continue
		case tar.TypeReg:
			if hdr.Size > maxFile {
				return nil, xerrors.Newf("entry %s exceeds max size (%d > %d)", name, hdr.Size, maxFile)
			}
			body, err := io.ReadAll(io.LimitReader(tr, maxFile+1))
			if err != nil {
				return nil, xerrors.Wrapf(err, "read %s", name)
			}
			if int64(len(body)) > maxFile {
				return nil, xerrors.Newf("entry %s exceeds max size after read", name)
			}
			totalBytes += int64(len(body))
			if totalBytes > maxTotal {
				return nil, xerrors.Newf("total extracted size exceeds limit (%d bytes, max %d)", totalBytes, maxTotal)
			}
			files[name] = body
		default:
			// links and devices have no meaning for asset payloads
			return nil, xerrors.Newf("unsupported entry type in archive: %s (type=%d)", name, hdr.Typeflag)
		}
	}
	return newMemArchive(files), nil
}

type memArchive struct {
	files map[string][]byte
	paths []string
}

func newMemArchive(files map[string][]byte) *memArchive {
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	slices.Sort(paths)
	return &memArchive{files: files, paths: paths}
}

func (m *memArchive) HasItem(p string) bool {
	_, ok := m.files[p]
	return ok
}

// Extract returns a copy so callers may keep or mutate the bytes.
func (m *memArchive) Extract(p string) ([]byte, error) {
	b, ok := m.files[p]
	if !ok {
		return nil, xerrors.Wrapf(ErrNoItem, "extract %s", p)
	}
	return bytes.Clone(b), nil
}

func (m *memArchive) ListPaths() []string { return slices.Clone(m.paths) }
