package transport

import (
	"context"
	"errors"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/keithlinneman/linnemanlabs-assets/internal/xerrors"
)

// S3API is the subset of the S3 client the fetcher uses.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Fetcher fetches s3://bucket/key identifiers.
type S3Fetcher struct {
	Client   S3API
	MaxBytes int64
}

// ParseS3 splits "s3://bucket/some/key" into bucket and key.
func ParseS3(id string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(id, "s3://")
	if !ok {
		return "", "", xerrors.Newf("not an s3 identifier: %s", id)
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", xerrors.Newf("s3 identifier %s: want s3://bucket/key", id)
	}
	return bucket, key, nil
}

func (f S3Fetcher) Fetch(ctx context.Context, id string, _ Hints) ([]byte, error) {
	if f.Client == nil {
		return nil, xerrors.Wrapf(ErrUnsupportedScheme, "fetch %s: no S3 client configured", id)
	}
	bucket, key, err := ParseS3(id)
	if err != nil {
		return nil, err
	}

	out, err := f.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			err = xerrors.Mark(err, ErrNotFound)
		}
		return nil, xerrors.Wrapf(err, "get S3 object s3://%s/%s", bucket, key)
	}
	defer out.Body.Close()

	if out.ContentLength != nil && f.MaxBytes > 0 && *out.ContentLength > f.MaxBytes {
		return nil, xerrors.Wrapf(ErrTooLarge, "s3://%s/%s: %d bytes", bucket, key, *out.ContentLength)
	}
	data, err := readLimited(out.Body, f.MaxBytes)
	if err != nil {
		return nil, xerrors.Wrapf(err, "read s3://%s/%s", bucket, key)
	}
	return data, nil
}
