package transport

import (
	"context"
	"errors"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/keithlinneman/linnemanlabs-assets/internal/pathutil"
	"github.com/keithlinneman/linnemanlabs-assets/internal/xerrors"
)

// FileFetcher reads identifiers from the local filesystem. With Root set,
// relative identifiers resolve beneath Root and may not escape it.
type FileFetcher struct {
	Root     string
	MaxBytes int64
}

func filePath(id string) (string, error) {
	if !strings.HasPrefix(id, "file://") {
		return id, nil
	}
	u, err := url.Parse(id)
	if err != nil {
		return "", xerrors.Wrapf(err, "parse %s", id)
	}
	return u.Path, nil
}

func (f FileFetcher) Fetch(ctx context.Context, id string, _ Hints) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := filePath(id)
	if err != nil {
		return nil, err
	}
	if p == "" {
		return nil, xerrors.Newf("empty file identifier %q", id)
	}

	var file *os.File
	if f.Root != "" && !filepath.IsAbs(p) {
		rel, err := pathutil.CleanRelative(p)
		if err != nil {
			return nil, xerrors.Wrapf(err, "file %s", id)
		}
		file, err = os.OpenInRoot(f.Root, filepath.FromSlash(rel))
		if err != nil {
			return nil, fileErr(err, id)
		}
	} else {
		file, err = os.Open(p)
		if err != nil {
			return nil, fileErr(err, id)
		}
	}
	defer file.Close()

	data, err := readLimited(file, f.MaxBytes)
	if err != nil {
		return nil, xerrors.Wrapf(err, "read %s", id)
	}
	return data, nil
}

func fileErr(err error, id string) error {
	if errors.Is(err, fs.ErrNotExist) {
		return xerrors.Wrapf(xerrors.Mark(err, ErrNotFound), "open %s", id)
	}
	return xerrors.Wrapf(err, "open %s", id)
}
