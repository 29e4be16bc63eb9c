package aggregate

import "slices"

var imageExtensions = []string{"png", "jpg", "jpeg"}

// SelectMain picks the entry whose content represents the root:
//
//  1. a model entry, gltf or glb ahead of fbx;
//  2. the root URL itself when it names an image, so an archive section
//     embedded in it survives;
//  3. the largest entry in an accepted texture format, where a candidate
//     must beat the current best in both width and height;
//  4. the root URL when the manifest is empty.
//
// ok is false when nothing qualifies.
func SelectMain(rootURL string, manifest []Descriptor, accepted []string) (Descriptor, bool) {
	var fbx *Descriptor
	for i, d := range manifest {
		switch d.format() {
		case "gltf", "glb":
			return d, true
		case "fbx":
			if fbx == nil {
				fbx = &manifest[i]
			}
		}
	}
	if fbx != nil {
		return *fbx, true
	}

	if slices.Contains(imageExtensions, extension(rootURL)) {
		return Descriptor{ID: rootURL}, true
	}

	var (
		best  Descriptor
		found bool
	)
	for _, d := range manifest {
		if !slices.Contains(accepted, d.format()) {
			continue
		}
		if !found || (d.Width > best.Width && d.Height > best.Height) {
			best, found = d, true
		}
	}
	if found {
		return best, true
	}

	if len(manifest) == 0 && rootURL != "" {
		return Descriptor{ID: rootURL}, true
	}
	return Descriptor{}, false
}
