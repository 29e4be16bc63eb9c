package decode

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder

	"github.com/tidwall/jsonc"

	"github.com/keithlinneman/linnemanlabs-assets/internal/archive"
	"github.com/keithlinneman/linnemanlabs-assets/internal/content"
	"github.com/keithlinneman/linnemanlabs-assets/internal/log"
	"github.com/keithlinneman/linnemanlabs-assets/internal/xerrors"
)

// maxPixels bounds images before the full decode allocates for them.
const maxPixels = 16384 * 16384

// ImageDecoder decodes PNG and JPEG rasters, and JSON image records of the
// form {"type":"image","format":"png","data":"<base64>"}.
type ImageDecoder struct{}

type imageRecord struct {
	Format string `json:"format"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Data   string `json:"data"`
}

func (ImageDecoder) Decode(ctx context.Context, id string, data []byte, h Hints) (content.Content, error) {
	if looksJSON(data) {
		var rec imageRecord
		if err := json.Unmarshal(jsonc.ToJSON(data), &rec); err != nil {
			return nil, xerrors.Wrap(err, "image record")
		}
		raw, err := base64.StdEncoding.DecodeString(rec.Data)
		if err != nil {
			return nil, xerrors.Wrap(err, "image record data")
		}
		if h.Width == 0 && h.Height == 0 {
			h.Width, h.Height = rec.Width, rec.Height
		}
		data = raw
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, xerrors.Wrap(err, "image header")
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width*cfg.Height > maxPixels {
		return nil, xerrors.Newf("image dimensions %dx%d out of range", cfg.Width, cfg.Height)
	}
	if (h.Width != 0 && h.Width != cfg.Width) || (h.Height != 0 && h.Height != cfg.Height) {
		// declared sizes come from manifests that can lag the payload
		log.FromContext(ctx).Warn(ctx, "image size differs from declared size",
			"id", id, "width", cfg.Width, "height", cfg.Height,
			"declared_width", h.Width, "declared_height", h.Height)
	}

	pixels, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, xerrors.Wrap(err, "image data")
	}

	img := content.NewImage(id)
	img.Format = format
	img.Width = cfg.Width
	img.Height = cfg.Height
	img.Pixels = pixels
	if format == "png" {
		img.Trailer, img.EmbeddedArchive = archive.TrailingSection(data)
	}
	return img, nil
}

func looksJSON(data []byte) bool {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '{'
}
