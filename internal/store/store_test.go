package store

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/pixland/pixops/internal/types"
)

func TestDatabaseName(t *testing.T) {
	tests := []struct {
		uri  string
		want string
	}{
		{"mongodb://localhost:27017/photos", "photos"},
		{"mongodb://localhost:27017/photos?retryWrites=true&w=majority", "photos"},
		{"mongodb://user:pw@a:27017,b:27017/pixland_prod?replicaSet=rs0", "pixland_prod"},
		{"mongodb://localhost:27017/", DefaultDatabase},
		{"mongodb://localhost:27017", DefaultDatabase},
	}

	for _, tt := range tests {
		got, err := DatabaseName(tt.uri)
		if err != nil {
			t.Errorf("DatabaseName(%q) error: %v", tt.uri, err)
			continue
		}
		if got != tt.want {
			t.Errorf("DatabaseName(%q) = %q, want %q", tt.uri, got, tt.want)
		}
	}
}

func TestOpen_UnsupportedScheme(t *testing.T) {
	if _, err := Open(context.Background(), "mysql://localhost/pixland"); err == nil {
		t.Fatal("expected error for unsupported scheme")
	}
}

func TestNonNilFaces(t *testing.T) {
	if got := nonNilFaces(nil); got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", got)
	}
}

func TestDecodeImage_LegacyRecordsStayInTheStream(t *testing.T) {
	goodID, legacyID, brokenID := primitive.NewObjectID(), primitive.NewObjectID(), primitive.NewObjectID()
	docs := []bson.M{
		{"_id": goodID, "url": "https://blob/a.jpg", "metadata": bson.M{"detectedFaces": bson.A{}}},
		{"_id": legacyID, "url": "https://blob/legacy.jpg", "metadata": bson.M{
			"detectedFaces": bson.A{bson.M{"descriptor": "azure-persisted-face-id", "indexed": true}},
		}},
		{"_id": brokenID, "url": "https://blob/broken.jpg", "metadata": "not-a-document"},
		{"_id": primitive.NewObjectID(), "url": "https://blob/b.jpg"},
	}

	var images []types.Image
	for _, doc := range docs {
		raw, err := bson.Marshal(doc)
		if err != nil {
			t.Fatal(err)
		}
		images = append(images, decodeImage(raw))
	}

	if len(images) != 4 {
		t.Fatalf("Expected every record to be delivered, got %d", len(images))
	}

	legacy := images[1]
	if legacy.DecodeErr != nil {
		t.Fatalf("Legacy descriptor must decode, got %v", legacy.DecodeErr)
	}
	if legacy.ID != legacyID.Hex() || len(legacy.Metadata.DetectedFaces) != 1 {
		t.Errorf("Unexpected legacy image %+v", legacy)
	}
	if legacy.Indexed(types.DescriptorDim) {
		t.Error("Legacy descriptor must be re-indexed")
	}

	broken := images[2]
	if broken.DecodeErr == nil {
		t.Fatal("Expected DecodeErr for a malformed metadata field")
	}
	if broken.ID != brokenID.Hex() || broken.URL != "https://blob/broken.jpg" {
		t.Errorf("Expected id and url to survive, got %+v", broken)
	}

	if images[3].DecodeErr != nil || images[3].URL != "https://blob/b.jpg" {
		t.Errorf("Record after the bad ones must decode normally, got %+v", images[3])
	}
}

// requireDocker fails the test when no Docker daemon is reachable.
// We wrap this in a function to recover from panics inside testcontainers (e.g. socket not found)
func requireDocker(t *testing.T, ctx context.Context) {
	t.Helper()
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("testcontainers panicked: %v", r)
			}
		}()
		_, err = testcontainers.NewDockerClientWithOpts(ctx)
		return
	}()
	if err != nil {
		t.Fatalf("Docker not available, cannot run integration test: %v", err)
	}
}

// exerciseStore runs the same scenario against any backend. seed must insert the
// given images so that EachImage returns them in slice order.
func exerciseStore(t *testing.T, ctx context.Context, s ImageStore, seed func([]types.Image)) {
	t.Helper()

	descriptor := make([]float64, types.DescriptorDim)
	descriptor[0] = 0.25

	seed([]types.Image{
		{ID: "img-1", URL: "https://blob/one.jpg", BlobName: "one.jpg", Status: "processing"},
		{ID: "img-2", URL: "https://blob/two.jpg", BlobName: "two.jpg", Status: types.StatusReady,
			Metadata: types.Metadata{DetectedFaces: []types.DetectedFace{{Descriptor: descriptor, Indexed: true}}}},
	})

	n, err := s.CountImages(ctx)
	if err != nil {
		t.Fatalf("CountImages failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("Expected 2 images, got %d", n)
	}

	var seen []types.Image
	if err := s.EachImage(ctx, func(img types.Image) error {
		seen = append(seen, img)
		return nil
	}); err != nil {
		t.Fatalf("EachImage failed: %v", err)
	}
	if len(seen) != 2 {
		t.Fatalf("Expected 2 streamed images, got %d", len(seen))
	}
	if seen[0].URL != "https://blob/one.jpg" || seen[0].ID == "" {
		t.Errorf("Unexpected first image %+v", seen[0])
	}
	if !seen[1].Indexed(types.DescriptorDim) {
		t.Errorf("Expected second image to carry a 512-d descriptor")
	}

	// Stopping early propagates the callback error.
	stop := errors.New("stop")
	if err := s.EachImage(ctx, func(types.Image) error { return stop }); !errors.Is(err, stop) {
		t.Errorf("Expected callback error to propagate, got %v", err)
	}

	newFace := types.DetectedFace{
		Descriptor:    []float64{0.1, 0.2, 0.3},
		FaceRectangle: types.FaceRectangle{Top: 2, Left: 1, Width: 3, Height: 4},
		Indexed:       true,
	}
	if err := s.SetDetectedFaces(ctx, seen[0], []types.DetectedFace{newFace}, types.StatusReady); err != nil {
		t.Fatalf("SetDetectedFaces failed: %v", err)
	}
	if err := s.SetDetectedFaces(ctx, seen[1], nil, types.StatusReady); err != nil {
		t.Fatalf("SetDetectedFaces (clear) failed: %v", err)
	}

	sample, err := s.SampleImages(ctx, 10)
	if err != nil {
		t.Fatalf("SampleImages failed: %v", err)
	}
	if len(sample) != 2 {
		t.Fatalf("Expected 2 sampled images, got %d", len(sample))
	}
	byURL := map[string]types.Image{}
	for _, img := range sample {
		byURL[img.URL] = img
	}

	first := byURL["https://blob/one.jpg"]
	if first.Status != types.StatusReady {
		t.Errorf("Expected status ready, got %q", first.Status)
	}
	if first.BlobName != "one.jpg" {
		t.Errorf("Partial update must keep blobName, got %q", first.BlobName)
	}
	if len(first.Metadata.DetectedFaces) != 1 || len(first.Metadata.DetectedFaces[0].Descriptor) != 3 {
		t.Fatalf("Unexpected faces after update: %+v", first.Metadata.DetectedFaces)
	}
	if first.Metadata.DetectedFaces[0].FaceRectangle != newFace.FaceRectangle {
		t.Errorf("Rectangle mismatch: %+v", first.Metadata.DetectedFaces[0].FaceRectangle)
	}

	second := byURL["https://blob/two.jpg"]
	if second.Metadata.DetectedFaces == nil || len(second.Metadata.DetectedFaces) != 0 {
		t.Errorf("Expected an empty (not missing) face list, got %#v", second.Metadata.DetectedFaces)
	}

	missing := types.Image{ID: "does-not-exist", Ref: "does-not-exist"}
	if err := s.SetDetectedFaces(ctx, missing, nil, types.StatusReady); !errors.Is(err, ErrImageNotFound) {
		t.Errorf("Expected ErrImageNotFound, got %v", err)
	}
}

type noopLogger struct{}

func (n noopLogger) Printf(format string, v ...interface{}) {}
