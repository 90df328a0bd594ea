package session

import (
	"context"
	"time"
)

// Location is a best-effort GPS fix attached to a weight capture.
type Location struct {
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Accuracy  float64   `json:"accuracy"`
	Timestamp time.Time `json:"timestamp"`
}

// Photo is one captured debris photo reference.
type Photo struct {
	ID        string    `json:"id"`
	ImageData []byte    `json:"image_data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Signature is the receiving party's sign-off.
type Signature struct {
	ImageData  []byte    `json:"image_data,omitempty"`
	Strokes    int       `json:"strokes"`
	CapturedAt time.Time `json:"captured_at"`
}

// Empty reports whether nothing was drawn.
func (s Signature) Empty() bool {
	return len(s.ImageData) == 0 && s.Strokes == 0
}

// LocationProvider yields the device's current position. Failure is non-fatal
// to the calling transition; location is best-effort metadata.
type LocationProvider interface {
	CurrentLocation(ctx context.Context) (Location, error)
}

// PhotoCapturer drives the device camera. Failure aborts only that capture
// attempt, never the session.
type PhotoCapturer interface {
	CapturePhoto(ctx context.Context) (Photo, error)
}

// SignatureCapturer drives the signature pad. Implemented by the UI layer;
// the manager consumes the captured value.
type SignatureCapturer interface {
	CaptureSignature(ctx context.Context) (Signature, error)
}
