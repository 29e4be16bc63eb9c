package archive

import (
	"bytes"
	"encoding/binary"
)

var pngMagic = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

// TrailingSection returns the bytes that follow a PNG's IEND chunk. Images
// produced by the asset pipeline can carry a texture archive appended
// after the image data; ok is false when there is nothing after IEND or
// the chunk stream is malformed.
func TrailingSection(png []byte) ([]byte, bool) {
	if !bytes.HasPrefix(png, pngMagic) {
		return nil, false
	}
	off := len(pngMagic)
	for off+8 <= len(png) {
		n := int(binary.BigEndian.Uint32(png[off:]))
		typ := string(png[off+4 : off+8])
		// length + type + data + crc
		end := off + 8 + n + 4
		if n < 0 || end > len(png) || end < off {
			return nil, false
		}
		if typ == "IEND" {
			if end == len(png) {
				return nil, false
			}
			return png[end:], true
		}
		off = end
	}
	return nil, false
}
