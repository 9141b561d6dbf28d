package domain

// Message upload states of an image message. Text messages have none.
const (
	UploadPending   = "pending"
	UploadUploading = "uploading"
	UploadComplete  = "complete"
	UploadFailed    = "failed"
)

const (
	// LoadingImageURL is shown while an image upload is in flight.
	LoadingImageURL = "https://www.google.com/images/spin-32.gif?a"

	// FailedImageURL marks an image message whose upload did not complete.
	FailedImageURL = "/images/upload_failed.svg"
)

// Message is one chat message. Exactly one of Text and ImageURL is set.
type Message struct {
	ID            string `json:"id"`
	UserID        string `json:"user_id"`
	Name          string `json:"name"`
	ProfilePicURL string `json:"profile_pic_url,omitempty"`
	Text          string `json:"text,omitempty"`
	ImageURL      string `json:"image_url,omitempty"`
	StorageURI    string `json:"storage_uri,omitempty"`
	UploadState   string `json:"upload_state,omitempty"`

	// Timestamp is assigned by the store in Unix milliseconds.
	Timestamp int64 `json:"timestamp"`

	// Revision increases with every update of the record.
	Revision int `json:"revision"`
}

// IsImage reports whether m is an image message.
func (m *Message) IsImage() bool {
	return m.Text == "" && (m.ImageURL != "" || m.UploadState != "")
}

// Settled reports whether the image fields can no longer change.
func (m *Message) Settled() bool {
	return m.UploadState == "" || m.UploadState == UploadComplete || m.UploadState == UploadFailed
}

// Less orders messages by timestamp, then by ID.
func (m *Message) Less(other *Message) bool {
	if m.Timestamp != other.Timestamp {
		return m.Timestamp < other.Timestamp
	}
	return m.ID < other.ID
}
