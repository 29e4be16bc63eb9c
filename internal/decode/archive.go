package decode

import (
	"context"

	"github.com/keithlinneman/linnemanlabs-assets/internal/archive"
	"github.com/keithlinneman/linnemanlabs-assets/internal/content"
)

// ArchiveDecoder opens texture archives.
type ArchiveDecoder struct {
	Codec archive.Codec
}

func (d ArchiveDecoder) Decode(ctx context.Context, id string, data []byte, _ Hints) (content.Content, error) {
	h, err := d.Codec.Open(data)
	if err != nil {
		return nil, err
	}
	return content.NewArchiveWrapper(id, h), nil
}
