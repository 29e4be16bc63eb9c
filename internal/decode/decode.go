// Package decode turns classified payloads into typed content.
//
// Each content kind has one Decoder. Decoders run on worker goroutines and
// must not touch shared loader state; they only build the value they
// return.
package decode

import (
	"context"
	"errors"
	"fmt"

	"github.com/keithlinneman/linnemanlabs-assets/internal/archive"
	"github.com/keithlinneman/linnemanlabs-assets/internal/content"
	"github.com/keithlinneman/linnemanlabs-assets/internal/xerrors"
)

var (
	// ErrNoDecoder means no decoder is registered for the kind.
	ErrNoDecoder = errors.New("decode: no decoder for kind")
	// ErrMalformed marks payloads a decoder rejected.
	ErrMalformed = errors.New("decode: malformed payload")
)

// Hints carry declared properties of the payload.
type Hints struct {
	Format    string
	SubFormat string
	// Width and Height, when set, must match the decoded image.
	Width  int
	Height int
}

type Decoder interface {
	Decode(ctx context.Context, id string, data []byte, h Hints) (content.Content, error)
}

type DecoderFunc func(ctx context.Context, id string, data []byte, h Hints) (content.Content, error)

func (f DecoderFunc) Decode(ctx context.Context, id string, data []byte, h Hints) (content.Content, error) {
	return f(ctx, id, data, h)
}

// Registry maps content kinds to decoders.
type Registry struct {
	decoders map[content.Kind]Decoder
}

// NewRegistry returns a registry holding the default decoder for every
// kind. Texture archives are opened with codec.
func NewRegistry(codec archive.Codec) *Registry {
	if codec == nil {
		codec = archive.TarCodec{}
	}
	r := &Registry{decoders: make(map[content.Kind]Decoder)}
	r.Register(content.KindImage, ImageDecoder{})
	r.Register(content.KindModel, ModelDecoder{})
	r.Register(content.KindSkeleton, SkeletonDecoder{})
	r.Register(content.KindSkinset, SkinsetDecoder{})
	r.Register(content.KindNodeGraph, NodeGraphDecoder{})
	r.Register(content.KindFont, FontDecoder{})
	r.Register(content.KindTextureArchive, ArchiveDecoder{Codec: codec})
	return r
}

// Register installs d for kind, replacing the default.
func (r *Registry) Register(kind content.Kind, d Decoder) {
	r.decoders[kind] = d
}

// Decode runs the decoder for kind. Every failure is marked ErrMalformed
// unless the decoder was missing.
func (r *Registry) Decode(ctx context.Context, kind content.Kind, id string, data []byte, h Hints) (content.Content, error) {
	d, ok := r.decoders[kind]
	if !ok {
		return nil, xerrors.Wrapf(ErrNoDecoder, "decode %s as %s", id, kind)
	}
	c, err := d.Decode(ctx, id, data, h)
	if err != nil {
		return nil, xerrors.Mark(xerrors.Wrapf(err, "decode %s as %s", id, kind), ErrMalformed)
	}
	if err := checkVariant(kind, c); err != nil {
		return nil, err
	}
	return c, nil
}

// checkVariant makes sure a decoder returned the variant for its kind.
func checkVariant(kind content.Kind, c content.Content) error {
	var got content.Kind
	switch c.(type) {
	case *content.Image:
		got = content.KindImage
	case *content.Skinset:
		got = content.KindSkinset
	case *content.SkeletalAnimation:
		got = content.KindSkeleton
	case *content.Model:
		got = content.KindModel
	case *content.Font:
		got = content.KindFont
	case *content.NodeGraph:
		got = content.KindNodeGraph
	case *content.ArchiveWrapper:
		got = content.KindTextureArchive
	case nil:
		return xerrors.Newf("decoder for %s returned no content", kind)
	default:
		panic(fmt.Sprintf("decode: unhandled content variant %T", c))
	}
	if got != kind {
		return xerrors.Newf("decoder for %s returned %s", kind, got)
	}
	return nil
}
