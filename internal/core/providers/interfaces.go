package providers

import "context"

// Image is the prepared payload handed to a backend.
type Image struct {
	Bytes     []byte
	Base64    string
	MediaType string
	// Extension 含前导点，例如 ".jpg"
	Extension string
}

// Backend produces the raw diagnosis reply for one image.
type Backend interface {
	Name() string
	Invoke(ctx context.Context, img Image) (string, error)
}

// Lifecycle is implemented by backends that hold resources.
type Lifecycle interface {
	Initialize() error
	Cleanup() error
}
