package processor

// ImageProcessor prepares an uploaded image for storage.
type ImageProcessor interface {
	// Process returns the bytes to store and their MIME type. Images it
	// cannot or need not change are returned unchanged.
	Process(data []byte, mimeType string) ([]byte, string, error)
}
