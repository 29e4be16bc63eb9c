package transport

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type fakeS3 struct {
	objects map[string]string
	err     error
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{Message: aws.String("not found")}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: aws.Int64(int64(len(body))),
	}, nil
}

func TestParseS3(t *testing.T) {
	tests := []struct {
		id, bucket, key string
		wantErr         bool
	}{
		{"s3://assets/tex/a.png", "assets", "tex/a.png", false},
		{"s3://assets/", "", "", true},
		{"s3://assets", "", "", true},
		{"s3:///key", "", "", true},
		{"https://assets/key", "", "", true},
	}
	for _, tt := range tests {
		b, k, err := ParseS3(tt.id)
		if (err != nil) != tt.wantErr || b != tt.bucket || k != tt.key {
			t.Fatalf("ParseS3(%q) = %q, %q, %v", tt.id, b, k, err)
		}
	}
}

func TestS3Fetcher(t *testing.T) {
	f := S3Fetcher{Client: &fakeS3{objects: map[string]string{"assets/tex/a.png": "A"}}}

	got, err := f.Fetch(t.Context(), "s3://assets/tex/a.png", Hints{})
	if err != nil || string(got) != "A" {
		t.Fatalf("Fetch = %q, %v", got, err)
	}
	if _, err := f.Fetch(t.Context(), "s3://assets/missing.png", Hints{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing err = %v, want ErrNotFound", err)
	}
}

func TestS3Fetcher_Errors(t *testing.T) {
	f := S3Fetcher{Client: &fakeS3{err: errors.New("access denied")}}
	_, err := f.Fetch(t.Context(), "s3://assets/a.png", Hints{})
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want a non-NotFound error", err)
	}

	if _, err := (S3Fetcher{}).Fetch(t.Context(), "s3://a/b", Hints{}); !errors.Is(err, ErrUnsupportedScheme) {
		t.Fatalf("nil client err = %v", err)
	}

	big := S3Fetcher{Client: &fakeS3{objects: map[string]string{"b/k": "0123456789"}}, MaxBytes: 3}
	if _, err := big.Fetch(t.Context(), "s3://b/k", Hints{}); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("err = %v, want ErrTooLarge", err)
	}
}
