package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/pixland/pixops/internal/types"
)

// ErrImageNotFound is returned when an update matches no image record.
var ErrImageNotFound = errors.New("image not found")

// ImageStore is the slice of the photo database the operational tools need.
type ImageStore interface {
	// Name identifies the backend and database, e.g. "mongodb/pixland".
	Name() string
	CountImages(ctx context.Context) (int64, error)
	// EachImage streams every image, projected to id, url, blobName and metadata,
	// stopping at the first error fn returns. A record that cannot be mapped is
	// still passed to fn, with DecodeErr set.
	EachImage(ctx context.Context, fn func(types.Image) error) error
	// SetDetectedFaces overwrites metadata.detectedFaces and status, leaving other fields untouched.
	SetDetectedFaces(ctx context.Context, img types.Image, faces []types.DetectedFace, status string) error
	// SampleImages returns up to limit images with all mapped fields.
	SampleImages(ctx context.Context, limit int) ([]types.Image, error)
	Close(ctx context.Context)
}

// Open connects to the database named by uri, picking the backend from its scheme.
func Open(ctx context.Context, uri string) (ImageStore, error) {
	scheme, _, _ := strings.Cut(uri, "://")
	switch strings.ToLower(scheme) {
	case "mongodb", "mongodb+srv":
		return NewMongo(ctx, uri)
	case "postgres", "postgresql":
		return NewPostgres(ctx, uri)
	default:
		return nil, fmt.Errorf("unsupported database scheme %q", scheme)
	}
}

// nonNilFaces makes sure an empty face list is written as [] rather than null.
func nonNilFaces(faces []types.DetectedFace) []types.DetectedFace {
	if faces == nil {
		return []types.DetectedFace{}
	}
	return faces
}
