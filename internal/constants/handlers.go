package constants

// Web handler constants
const (
	// MaxUploadSize is the maximum size of a multipart upload in bytes (20MB).
	// Face images are small; anything larger is almost certainly a mistake.
	MaxUploadSize = 20 << 20

	// EventChannelBuffer is the buffer size for job event channels
	EventChannelBuffer = 100

	// DefaultSimilarLimit is the default limit for similarity search endpoints
	DefaultSimilarLimit = 50
)
