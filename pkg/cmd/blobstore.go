package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/dukex/flowrun/pkg/blobstore"
)

// NewBlobStore opens the store behind blobURL: "s3://bucket" or
// "file:///path". An empty url disables externalization.
func NewBlobStore(ctx context.Context, blobURL string, s3 blobstore.S3Config) (blobstore.Store, error) {
	provider, location, found := strings.Cut(blobURL, "://")

	switch {
	case blobURL == "":
		return nil, nil
	case found && provider == "s3":
		s3.Bucket = strings.Trim(location, "/")

		store, err := blobstore.NewS3Store(ctx, s3)
		if err != nil {
			return nil, fmt.Errorf("failed to open s3 blob store: %w", err)
		}

		return store, nil
	case found && provider == "file":
		return blobstore.NewFileStore(location), nil
	case !found:
		return blobstore.NewFileStore(blobURL), nil
	default:
		return nil, fmt.Errorf("unsupported blob store: %s", provider)
	}
}
