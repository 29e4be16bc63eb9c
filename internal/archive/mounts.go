package archive

import (
	"context"
	_ "crypto/sha256" // registers the digest algorithm
	"strings"

	"github.com/opencontainers/go-digest"
	"golang.org/x/sync/errgroup"

	"github.com/keithlinneman/linnemanlabs-assets/internal/xerrors"
)

// MountSpec describes an archive to mount at startup.
type MountSpec struct {
	Prefix   string
	Location string
	// Digest pins the archive content when set.
	Digest digest.Digest
}

// ParseMountSpec parses "prefix=location[@digest]", for example
// "ui=s3://assets/ui.tar.zst@sha256:9f86...".
func ParseMountSpec(s string) (MountSpec, error) {
	prefix, rest, ok := strings.Cut(s, "=")
	if !ok || prefix == "" || rest == "" {
		return MountSpec{}, xerrors.Newf("mount %q: want prefix=location[@digest]", s)
	}
	spec := MountSpec{Prefix: normalizePrefix(prefix), Location: rest}
	// digests are algorithm:hex, so the last '@' followed by a ':' is the pin
	if i := strings.LastIndex(rest, "@"); i >= 0 && strings.Contains(rest[i+1:], ":") {
		d, err := digest.Parse(rest[i+1:])
		if err != nil {
			return MountSpec{}, xerrors.Wrapf(err, "mount %q: digest", s)
		}
		spec.Location = rest[:i]
		spec.Digest = d
	}
	if spec.Location == "" {
		return MountSpec{}, xerrors.Newf("mount %q: empty location", s)
	}
	return spec, nil
}

// FetchFunc retrieves the raw bytes at location.
type FetchFunc func(ctx context.Context, location string) ([]byte, error)

// OpenMounts fetches and mounts every mount in parallel. A digest mismatch or
// fetch failure on any mount fails the whole call; mounts opened before the
// failure stay registered.
func OpenMounts(ctx context.Context, idx *Index, specs []MountSpec, fetch FetchFunc) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, spec := range specs {
		g.Go(func() error {
			data, err := fetch(gctx, spec.Location)
			if err != nil {
				return xerrors.Wrapf(err, "fetch mount %s", spec.Prefix)
			}
			if spec.Digest != "" {
				if got := spec.Digest.Algorithm().FromBytes(data); got != spec.Digest {
					return xerrors.Newf("mount %s: digest mismatch: expected %s, got %s", spec.Prefix, spec.Digest, got)
				}
			}
			if _, err := idx.MountBytes(spec.Prefix, data); err != nil {
				return err
			}
			return nil
		})
	}
	return g.Wait()
}
