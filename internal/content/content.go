package content

import (
	"context"
	"fmt"
	"image"

	"github.com/keithlinneman/linnemanlabs-assets/internal/assert"
)

// Content is a decoded resource. Implemented only by the variants in this
// package.
type Content interface {
	ID() string
	Kind() Kind
	isContent()
}

type base struct{ id string }

func (b base) ID() string { return b.id }
func (base) isContent()   {}

// Image is a decoded raster.
type Image struct {
	base
	Format string // png or jpeg
	Width  int
	Height int
	Pixels image.Image
	// EmbeddedArchive is set when the payload carried an archive section
	// after the image data.
	EmbeddedArchive bool
	// Trailer holds that section until the loader mounts it.
	Trailer []byte
}

func NewImage(id string) *Image { return &Image{base: base{id: id}} }
func (*Image) Kind() Kind       { return KindImage }

// Skin binds a named mesh skin to a list of bone names.
type Skin struct {
	Name  string   `json:"name"`
	Bones []string `json:"bones"`
}

// Skinset groups skins that share a skeleton.
type Skinset struct {
	base
	Skeleton string
	Skins    []Skin
}

func NewSkinset(id string) *Skinset { return &Skinset{base: base{id: id}} }
func (*Skinset) Kind() Kind         { return KindSkinset }

// Bone is one joint of a skeleton. Parent is -1 for roots.
type Bone struct {
	Name   string `json:"name"`
	Parent int    `json:"parent"`
}

// Clip is a named animation over a skeleton.
type Clip struct {
	Name     string  `json:"name"`
	Duration float64 `json:"duration"`
}

// SkeletalAnimation is a skeleton definition plus its clips.
type SkeletalAnimation struct {
	base
	Bones []Bone
	Clips []Clip

	index map[string]int
}

func NewSkeletalAnimation(id string, bones []Bone, clips []Clip) *SkeletalAnimation {
	s := &SkeletalAnimation{base: base{id: id}, Bones: bones, Clips: clips}
	s.index = make(map[string]int, len(bones))
	for i, b := range bones {
		s.index[b.Name] = i
	}
	return s
}

func (*SkeletalAnimation) Kind() Kind { return KindSkeleton }

// BoneIndex resolves a bone by name. A missing bone is a structural mismatch
// between a skin and its skeleton: it is reported and resolves to the root.
func (s *SkeletalAnimation) BoneIndex(ctx context.Context, name string) int {
	if i, ok := s.index[name]; ok {
		return i
	}
	assert.Violation(ctx, "bone not found in skeleton", "skeleton", s.id, "bone", name)
	return 0
}

// ParentOf returns the parent index of bone i, or -1 for roots and
// out-of-range indexes.
func (s *SkeletalAnimation) ParentOf(ctx context.Context, i int) int {
	if i < 0 || i >= len(s.Bones) {
		assert.Violation(ctx, "bone index out of range", "skeleton", s.id, "index", i)
		return -1
	}
	return s.Bones[i].Parent
}

// Model describes a decoded model container.
type Model struct {
	base
	Container string // glb, gltf or fbx
	Version   uint32
	Meshes    int
	Nodes     int
	Materials int
}

func NewModel(id string) *Model { return &Model{base: base{id: id}} }
func (*Model) Kind() Kind       { return KindModel }

// Font is an sfnt font reduced to its table directory.
type Font struct {
	base
	Flavor string // OTTO for CFF outlines, "" for TrueType
	Tables []string
}

func NewFont(id string) *Font { return &Font{base: base{id: id}} }
func (*Font) Kind() Kind      { return KindFont }

// Node is one entry of a node graph. Children index into the owning graph.
type Node struct {
	Name     string         `json:"name"`
	Type     string         `json:"type,omitempty"`
	Children []int          `json:"children,omitempty"`
	Props    map[string]any `json:"props,omitempty"`
}

// NodeGraph is the fallback structured content for JSON payloads.
type NodeGraph struct {
	base
	Type  string
	Nodes []Node
}

func NewNodeGraph(id string) *NodeGraph { return &NodeGraph{base: base{id: id}} }
func (*NodeGraph) Kind() Kind           { return KindNodeGraph }

// Archive is the read side of an opened archive container.
type Archive interface {
	HasItem(path string) bool
	Extract(path string) ([]byte, error)
	ListPaths() []string
}

// ArchiveWrapper holds an opened texture archive.
type ArchiveWrapper struct {
	base
	Archive Archive
}

func NewArchiveWrapper(id string, a Archive) *ArchiveWrapper {
	return &ArchiveWrapper{base: base{id: id}, Archive: a}
}

func (*ArchiveWrapper) Kind() Kind { return KindTextureArchive }

// Summary is a short human readable description used in logs and the
// debug endpoint.
func Summary(c Content) string {
	switch v := c.(type) {
	case *Image:
		return fmt.Sprintf("image %s %dx%d", v.Format, v.Width, v.Height)
	case *Skinset:
		return fmt.Sprintf("skinset skins=%d", len(v.Skins))
	case *SkeletalAnimation:
		return fmt.Sprintf("skeleton bones=%d clips=%d", len(v.Bones), len(v.Clips))
	case *Model:
		return fmt.Sprintf("model %s v%d meshes=%d", v.Container, v.Version, v.Meshes)
	case *Font:
		return fmt.Sprintf("font tables=%d", len(v.Tables))
	case *NodeGraph:
		return fmt.Sprintf("nodegraph nodes=%d", len(v.Nodes))
	case *ArchiveWrapper:
		return fmt.Sprintf("archive items=%d", len(v.Archive.ListPaths()))
	case nil:
		return "nil"
	default:
		panic(fmt.Sprintf("content: unhandled variant %T", c))
	}
}
