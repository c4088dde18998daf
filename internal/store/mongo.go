package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/x/mongo/driver/connstring"

	"github.com/pixland/pixops/internal/types"
)

// DefaultDatabase is used when the URI names no database.
const DefaultDatabase = "pixland"

const imagesCollection = "images"

// Mongo manages the MongoDB connection and the images collection.
type Mongo struct {
	client *mongo.Client
	dbName string
	images *mongo.Collection
}

// NewMongo connects, pings the primary and selects the images collection.
func NewMongo(ctx context.Context, uri string) (*Mongo, error) {
	dbName, err := DatabaseName(uri)
	if err != nil {
		return nil, err
	}

	client, err := mongo.Connect(ctx, options.Client().
		ApplyURI(uri).
		SetServerSelectionTimeout(10*time.Second))
	if err != nil {
		return nil, err
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping failed: %w", err)
	}

	return &Mongo{
		client: client,
		dbName: dbName,
		images: client.Database(dbName).Collection(imagesCollection),
	}, nil
}

// DatabaseName returns the database named in the URI path, without query parameters,
// falling back to DefaultDatabase.
func DatabaseName(uri string) (string, error) {
	cs, err := connstring.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("invalid MongoDB URI: %w", err)
	}
	if cs.Database == "" {
		return DefaultDatabase, nil
	}
	return cs.Database, nil
}

func (s *Mongo) Name() string {
	return "mongodb/" + s.dbName
}

// Close terminates the client connection.
func (s *Mongo) Close(ctx context.Context) {
	s.client.Disconnect(ctx)
}

func (s *Mongo) CountImages(ctx context.Context) (int64, error) {
	return s.images.CountDocuments(ctx, bson.M{})
}

func (s *Mongo) EachImage(ctx context.Context, fn func(types.Image) error) error {
	opts := options.Find().SetProjection(bson.M{"_id": 1, "url": 1, "blobName": 1, "metadata": 1})
	return s.each(ctx, opts, fn)
}

func (s *Mongo) SampleImages(ctx context.Context, limit int) ([]types.Image, error) {
	var out []types.Image
	opts := options.Find().SetLimit(int64(limit))
	err := s.each(ctx, opts, func(img types.Image) error {
		out = append(out, img)
		return nil
	})
	return out, err
}

func (s *Mongo) each(ctx context.Context, opts *options.FindOptions, fn func(types.Image) error) error {
	cur, err := s.images.Find(ctx, bson.M{}, opts)
	if err != nil {
		return err
	}
	defer cur.Close(ctx)

	for cur.Next(ctx) {
		if err := fn(decodeImage(cur.Current)); err != nil {
			return err
		}
	}
	return cur.Err()
}

func (s *Mongo) SetDetectedFaces(ctx context.Context, img types.Image, faces []types.DetectedFace, status string) error {
	res, err := s.images.UpdateOne(ctx,
		bson.M{"_id": img.Ref},
		bson.M{"$set": bson.M{
			"metadata.detectedFaces": nonNilFaces(faces),
			"status":                 status,
		}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: %s", ErrImageNotFound, img.ID)
	}
	return nil
}

// decodeImage maps one document. A document that does not fit the image schema is
// still returned, with its id, its url when readable and DecodeErr set, so a single
// bad record never ends the stream.
func decodeImage(raw bson.Raw) types.Image {
	var img types.Image
	if err := bson.Unmarshal(raw, &img); err != nil {
		id := raw.Lookup("_id")
		img = types.Image{DecodeErr: fmt.Errorf("failed to decode image %v: %w", id, err)}
		if oid, ok := id.ObjectIDOK(); ok {
			img.Ref = oid
		} else {
			img.Ref = id.String()
		}
		if url, ok := raw.Lookup("url").StringValueOK(); ok {
			img.URL = url
		}
	}
	img.ID = refString(img.Ref)
	return img
}

func refString(ref any) string {
	if oid, ok := ref.(primitive.ObjectID); ok {
		return oid.Hex()
	}
	return fmt.Sprint(ref)
}
