package content

import "strings"

// Kind tags the content type a payload classifies as.
type Kind int

const (
	KindUnknown Kind = iota
	KindImage
	KindSkinset
	KindSkeleton
	KindModel
	KindFont
	KindNodeGraph
	KindTextureArchive
)

var kindNames = [...]string{
	KindUnknown:        "unknown",
	KindImage:          "image",
	KindSkinset:        "skinset",
	KindSkeleton:       "skeleton",
	KindModel:          "model",
	KindFont:           "font",
	KindNodeGraph:      "nodegraph",
	KindTextureArchive: "texture-archive",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// ParseKind maps a declared format or discriminator to a Kind. Both kind
// names and common file formats are accepted.
func ParseKind(s string) Kind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "image", "png", "jpg", "jpeg", "texture":
		return KindImage
	case "skinset":
		return KindSkinset
	case "skeleton", "skeletalanimation", "animation":
		return KindSkeleton
	case "model", "gltf", "glb", "fbx":
		return KindModel
	case "font", "otf", "ttf":
		return KindFont
	case "nodegraph", "graph", "nodes":
		return KindNodeGraph
	case "texture-archive", "archive", "tar", "tgz":
		return KindTextureArchive
	default:
		return KindUnknown
	}
}
