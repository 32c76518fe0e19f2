package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/cleared-dev/trustrecon/internal/model"
)

// GCSSource serves statements uploaded to gs://<Bucket>/<Prefix>/<trustAccountID>/.
// It assumes Application Default Credentials are configured.
type GCSSource struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSSource creates a storage client for bucket. Call Close when done.
func NewGCSSource(ctx context.Context, bucket, prefix string) (*GCSSource, error) {
	if bucket == "" {
		return nil, &model.ValidationError{Field: "statements.bucket", Reason: "required for gcs source"}
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &GCSSource{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}, nil
}

// Close releases the storage client.
func (s *GCSSource) Close() error {
	return s.client.Close()
}

// objectPrefix returns the object-name prefix holding an account's statements.
func (s *GCSSource) objectPrefix(trustAccountID string) string {
	if s.prefix == "" {
		return trustAccountID + "/"
	}
	return s.prefix + "/" + trustAccountID + "/"
}

// Latest implements Source. The most recently updated supported object wins.
func (s *GCSSource) Latest(ctx context.Context, trustAccountID string) (*RawStatement, error) {
	bkt := s.client.Bucket(s.bucket)
	it := bkt.Objects(ctx, &storage.Query{Prefix: s.objectPrefix(trustAccountID)})

	var newest *storage.ObjectAttrs
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list GCS objects: %w", err)
		}
		if FormatFromName(attrs.Name) == "" {
			continue
		}
		if newest == nil || attrs.Updated.After(newest.Updated) ||
			(attrs.Updated.Equal(newest.Updated) && attrs.Name > newest.Name) {
			newest = attrs
		}
	}
	if newest == nil {
		return nil, &model.NotFoundError{Resource: "statement for account", ID: trustAccountID}
	}

	r, err := bkt.Object(newest.Name).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("open GCS object reader: %w", err)
	}
	defer r.Close()

	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read GCS object: %w", err)
	}

	name := path.Base(newest.Name)
	return &RawStatement{
		ID:       fmt.Sprintf("gs://%s/%s#%d", s.bucket, newest.Name, newest.Generation),
		FileName: name,
		Format:   FormatFromName(name),
		Raw:      raw,
	}, nil
}
