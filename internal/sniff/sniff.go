// Package sniff classifies raw payloads into a content kind.
//
// Classification runs a fixed precedence: an explicit format hint wins,
// then the archive-block hint, JSON framing, PNG, glTF/FBX binary headers,
// JPEG and finally the sfnt OTTO tag. Nothing here decodes the payload
// beyond the headers needed to tell formats apart.
package sniff

import (
	"bytes"
	"errors"
	"image/jpeg"

	"github.com/tidwall/gjson"

	"github.com/keithlinneman/linnemanlabs-assets/internal/content"
	"github.com/keithlinneman/linnemanlabs-assets/internal/xerrors"
)

// ErrUnclassified is returned when no rule matches the payload.
var ErrUnclassified = errors.New("sniff: unrecognized payload")

type Hints struct {
	// Format is a declared format or kind name ("png", "gltf", "skeleton").
	// A recognized value bypasses sniffing entirely.
	Format string
	// ArchiveBlock marks the payload as a texture archive.
	ArchiveBlock bool
}

var (
	pngMagic  = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}
	glbMagic  = []byte("glTF")
	fbxMagic  = []byte("Kaydara FBX Binary  \x00")
	jpegMagic = []byte{0xff, 0xd8, 0xff}
	ottoMagic = []byte("OTTO")
)

// discriminators maps the JSON "type" field to a kind. Unknown values fall
// back to a node graph.
var discriminators = map[string]content.Kind{
	"image":     content.KindImage,
	"skinset":   content.KindSkinset,
	"skeleton":  content.KindSkeleton,
	"model":     content.KindModel,
	"nodegraph": content.KindNodeGraph,
}

// Classify returns the content kind of data.
func Classify(data []byte, h Hints) (content.Kind, error) {
	if h.Format != "" {
		if k := content.ParseKind(h.Format); k != content.KindUnknown {
			return k, nil
		}
	}
	if h.ArchiveBlock {
		return content.KindTextureArchive, nil
	}
	if k, ok := classifyJSON(data); ok {
		return k, nil
	}
	switch {
	case bytes.HasPrefix(data, pngMagic):
		return content.KindImage, nil
	case bytes.HasPrefix(data, glbMagic), bytes.HasPrefix(data, fbxMagic):
		return content.KindModel, nil
	case bytes.HasPrefix(data, jpegMagic) && validJPEG(data):
		return content.KindImage, nil
	case bytes.HasPrefix(data, ottoMagic):
		return content.KindFont, nil
	}
	return content.KindUnknown, xerrors.WithStack(ErrUnclassified)
}

// IsPNG reports whether data starts with the PNG signature. The loader
// probes PNGs for an appended archive section.
func IsPNG(data []byte) bool { return bytes.HasPrefix(data, pngMagic) }

func classifyJSON(data []byte) (content.Kind, bool) {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 || trimmed[0] != '{' || !gjson.ValidBytes(trimmed) {
		return content.KindUnknown, false
	}
	if typ := gjson.GetBytes(trimmed, "type"); typ.Exists() {
		if k, ok := discriminators[typ.String()]; ok {
			return k, true
		}
		return content.KindNodeGraph, true
	}
	if gjson.GetBytes(trimmed, "nodes").IsArray() {
		// glTF JSON also has a nodes array; its asset block tells them apart
		if gjson.GetBytes(trimmed, "asset.version").Exists() {
			return content.KindModel, true
		}
		return content.KindNodeGraph, true
	}
	return content.KindUnknown, false
}

// validJPEG decodes only the header segments.
func validJPEG(data []byte) bool {
	_, err := jpeg.DecodeConfig(bytes.NewReader(data))
	return err == nil
}
