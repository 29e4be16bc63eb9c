package decode

import (
	"context"
	"encoding/json"

	"github.com/tidwall/jsonc"

	"github.com/keithlinneman/linnemanlabs-assets/internal/content"
	"github.com/keithlinneman/linnemanlabs-assets/internal/xerrors"
)

// The JSON kinds accept comments and trailing commas; authoring tools for
// these files are usually text editors.

func unmarshalJSONC(data []byte, v any) error {
	if err := json.Unmarshal(jsonc.ToJSON(data), v); err != nil {
		return xerrors.Wrap(err, "json")
	}
	return nil
}

type SkeletonDecoder struct{}

type skeletonDoc struct {
	Bones []content.Bone `json:"bones"`
	Clips []content.Clip `json:"clips"`
}

func (SkeletonDecoder) Decode(ctx context.Context, id string, data []byte, _ Hints) (content.Content, error) {
	var doc skeletonDoc
	if err := unmarshalJSONC(data, &doc); err != nil {
		return nil, err
	}
	if len(doc.Bones) == 0 {
		return nil, xerrors.New("skeleton has no bones")
	}
	seen := make(map[string]bool, len(doc.Bones))
	for i, b := range doc.Bones {
		if b.Name == "" || seen[b.Name] {
			return nil, xerrors.Newf("bone %d: empty or duplicate name %q", i, b.Name)
		}
		seen[b.Name] = true
		// parents precede children so poses can be built in one pass
		if b.Parent < -1 || b.Parent >= i {
			return nil, xerrors.Newf("bone %q: parent %d must precede it", b.Name, b.Parent)
		}
	}
	return content.NewSkeletalAnimation(id, doc.Bones, doc.Clips), nil
}

type SkinsetDecoder struct{}

type skinsetDoc struct {
	Skeleton string         `json:"skeleton"`
	Skins    []content.Skin `json:"skins"`
}

func (SkinsetDecoder) Decode(ctx context.Context, id string, data []byte, _ Hints) (content.Content, error) {
	var doc skinsetDoc
	if err := unmarshalJSONC(data, &doc); err != nil {
		return nil, err
	}
	s := content.NewSkinset(id)
	s.Skeleton = doc.Skeleton
	s.Skins = doc.Skins
	return s, nil
}

type NodeGraphDecoder struct{}

type nodeGraphDoc struct {
	Type  string         `json:"type"`
	Nodes []content.Node `json:"nodes"`
}

func (NodeGraphDecoder) Decode(ctx context.Context, id string, data []byte, _ Hints) (content.Content, error) {
	var doc nodeGraphDoc
	if err := unmarshalJSONC(data, &doc); err != nil {
		return nil, err
	}
	for i, n := range doc.Nodes {
		for _, c := range n.Children {
			if c < 0 || c >= len(doc.Nodes) || c == i {
				return nil, xerrors.Newf("node %d (%s): child index %d out of range", i, n.Name, c)
			}
		}
	}
	g := content.NewNodeGraph(id)
	g.Type = doc.Type
	g.Nodes = doc.Nodes
	return g, nil
}
