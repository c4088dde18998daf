package types

import (
	"encoding/json"

	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
)

// DescriptorDim is the length of an ArcFace descriptor.
const DescriptorDim = 512

// StatusReady marks an image whose faces have been (re)computed.
const StatusReady = "ready"

// Image is a stored photo record. Only the fields the tooling reads or writes are mapped.
type Image struct {
	// Ref is the store's native key (a Mongo ObjectID, a Postgres text id).
	Ref      any      `bson:"_id" json:"-"`
	ID       string   `bson:"-" json:"id"`
	URL      string   `bson:"url" json:"url"`
	BlobName string   `bson:"blobName" json:"blobName"`
	Status   string   `bson:"status" json:"status"`
	Metadata Metadata `bson:"metadata" json:"metadata"`

	// DecodeErr is set by the store when the record could not be mapped.
	// Such an image carries only Ref, ID and whatever URL could be read.
	DecodeErr error `bson:"-" json:"-"`
}

// Metadata holds the face detection results for an image
type Metadata struct {
	DetectedFaces []DetectedFace `bson:"detectedFaces" json:"detectedFaces"`
}

// DetectedFace is one face found in an image
type DetectedFace struct {
	Descriptor    Descriptor    `bson:"descriptor" json:"descriptor"`
	FaceRectangle FaceRectangle `bson:"faceRectangle" json:"faceRectangle"`
	Indexed       bool          `bson:"indexed" json:"indexed"`
}

// Descriptor is a face embedding. Legacy records hold other shapes here (an Azure
// persisted face id string, for one); those decode to nil so the image is re-indexed.
type Descriptor []float64

func (d *Descriptor) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	*d = nil
	if t != bsontype.Array {
		return nil
	}
	values, err := bsoncore.Array(data).Values()
	if err != nil {
		return nil
	}
	out := make(Descriptor, 0, len(values))
	for _, v := range values {
		switch v.Type {
		case bsontype.Double:
			out = append(out, v.Double())
		case bsontype.Int32:
			out = append(out, float64(v.Int32()))
		case bsontype.Int64:
			out = append(out, float64(v.Int64()))
		default:
			return nil
		}
	}
	*d = out
	return nil
}

func (d *Descriptor) UnmarshalJSON(data []byte) error {
	var v []float64
	if json.Unmarshal(data, &v) != nil {
		*d = nil
		return nil
	}
	*d = v
	return nil
}

// FaceRectangle uses the top/left/width/height convention of the image schema.
type FaceRectangle struct {
	Top    float64 `bson:"top" json:"top"`
	Left   float64 `bson:"left" json:"left"`
	Width  float64 `bson:"width" json:"width"`
	Height float64 `bson:"height" json:"height"`
}

// FaceArea is the x/y/w/h box returned by the embedding service.
type FaceArea struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Rectangle remaps the service box onto the stored rectangle convention.
func (a FaceArea) Rectangle() FaceRectangle {
	return FaceRectangle{
		Top:    a.Y,
		Left:   a.X,
		Width:  a.W,
		Height: a.H,
	}
}

// Indexed reports whether the image already carries descriptors of length dim.
// Every face must qualify; a single stale descriptor sends the image back through
// the embedding service.
func (img Image) Indexed(dim int) bool {
	faces := img.Metadata.DetectedFaces
	if len(faces) == 0 {
		return false
	}
	for _, f := range faces {
		if len(f.Descriptor) != dim {
			return false
		}
	}
	return true
}

// ErrorResult captures the error object returned by the embedding service on failure
type ErrorResult struct {
	Error string `json:"error"`
}
