package decode

import (
	"bytes"
	"context"
	"encoding/binary"

	"github.com/tidwall/gjson"
	"github.com/tidwall/jsonc"

	"github.com/keithlinneman/linnemanlabs-assets/internal/content"
	"github.com/keithlinneman/linnemanlabs-assets/internal/xerrors"
)

const (
	glbHeaderLen = 12
	glbChunkJSON = 0x4E4F534A // "JSON"
	fbxHeaderLen = 27
)

var (
	glbMagic = []byte("glTF")
	fbxMagic = []byte("Kaydara FBX Binary  \x00")
)

// ModelDecoder reads model container headers: binary glTF (GLB), glTF JSON
// and binary FBX. Geometry stays opaque; only the scene shape is counted.
type ModelDecoder struct{}

func (ModelDecoder) Decode(ctx context.Context, id string, data []byte, _ Hints) (content.Content, error) {
	switch {
	case bytes.HasPrefix(data, glbMagic):
		return decodeGLB(id, data)
	case bytes.HasPrefix(data, fbxMagic):
		return decodeFBX(id, data)
	case looksJSON(data):
		m := content.NewModel(id)
		m.Container = "gltf"
		if err := fillGLTF(m, jsonc.ToJSON(data)); err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, xerrors.New("unrecognized model container")
	}
}

func decodeGLB(id string, data []byte) (*content.Model, error) {
	if len(data) < glbHeaderLen+8 {
		return nil, xerrors.Newf("glb too short: %d bytes", len(data))
	}
	version := binary.LittleEndian.Uint32(data[4:8])
	length := binary.LittleEndian.Uint32(data[8:12])
	if int(length) > len(data) {
		return nil, xerrors.Newf("glb declares %d bytes, have %d", length, len(data))
	}
	if version != 2 {
		return nil, xerrors.Newf("unsupported glb version %d", version)
	}

	chunkLen := binary.LittleEndian.Uint32(data[12:16])
	chunkType := binary.LittleEndian.Uint32(data[16:20])
	if chunkType != glbChunkJSON {
		return nil, xerrors.Newf("first glb chunk is 0x%08x, want JSON", chunkType)
	}
	end := glbHeaderLen + 8 + int(chunkLen)
	if end > int(length) {
		return nil, xerrors.Newf("glb JSON chunk overruns container")
	}

	m := content.NewModel(id)
	m.Container = "glb"
	m.Version = version
	if err := fillGLTF(m, data[glbHeaderLen+8:end]); err != nil {
		return nil, err
	}
	return m, nil
}

func fillGLTF(m *content.Model, doc []byte) error {
	if !gjson.ValidBytes(doc) {
		return xerrors.New("gltf JSON is not valid")
	}
	asset := gjson.GetBytes(doc, "asset.version")
	if !asset.Exists() {
		return xerrors.New("gltf JSON has no asset.version")
	}
	if m.Version == 0 {
		// "2.0" -> 2
		m.Version = uint32(asset.Float())
	}
	res := gjson.GetManyBytes(doc, "meshes.#", "nodes.#", "materials.#")
	m.Meshes = int(res[0].Int())
	m.Nodes = int(res[1].Int())
	m.Materials = int(res[2].Int())
	return nil
}

func decodeFBX(id string, data []byte) (*content.Model, error) {
	if len(data) < fbxHeaderLen {
		return nil, xerrors.Newf("fbx header truncated: %d bytes", len(data))
	}
	m := content.NewModel(id)
	m.Container = "fbx"
	m.Version = binary.LittleEndian.Uint32(data[23:27])
	if m.Version < 7000 || m.Version > 9000 {
		return nil, xerrors.Newf("fbx version %d out of range", m.Version)
	}
	return m, nil
}
