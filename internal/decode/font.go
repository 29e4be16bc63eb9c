package decode

import (
	"context"
	"encoding/binary"

	"github.com/keithlinneman/linnemanlabs-assets/internal/content"
	"github.com/keithlinneman/linnemanlabs-assets/internal/xerrors"
)

const (
	sfntHeaderLen   = 12
	sfntRecordLen   = 16
	sfntMaxTables   = 256
	sfntTrueTypeTag = 0x00010000
)

// FontDecoder parses the sfnt table directory of OpenType and TrueType
// fonts.
type FontDecoder struct{}

func (FontDecoder) Decode(ctx context.Context, id string, data []byte, _ Hints) (content.Content, error) {
	if len(data) < sfntHeaderLen {
		return nil, xerrors.Newf("sfnt header truncated: %d bytes", len(data))
	}
	f := content.NewFont(id)
	switch tag := binary.BigEndian.Uint32(data[0:4]); {
	case string(data[0:4]) == "OTTO":
		f.Flavor = "OTTO"
	case tag == sfntTrueTypeTag, string(data[0:4]) == "true":
	default:
		return nil, xerrors.Newf("unknown sfnt version 0x%08x", tag)
	}

	n := int(binary.BigEndian.Uint16(data[4:6]))
	if n == 0 || n > sfntMaxTables {
		return nil, xerrors.Newf("sfnt table count %d out of range", n)
	}
	if len(data) < sfntHeaderLen+n*sfntRecordLen {
		return nil, xerrors.Newf("sfnt directory truncated: %d tables in %d bytes", n, len(data))
	}

	f.Tables = make([]string, 0, n)
	for i := range n {
		rec := data[sfntHeaderLen+i*sfntRecordLen:]
		offset := binary.BigEndian.Uint32(rec[8:12])
		length := binary.BigEndian.Uint32(rec[12:16])
		if uint64(offset)+uint64(length) > uint64(len(data)) {
			return nil, xerrors.Newf("sfnt table %q overruns font", rec[0:4])
		}
		f.Tables = append(f.Tables, string(rec[0:4]))
	}
	return f, nil
}
