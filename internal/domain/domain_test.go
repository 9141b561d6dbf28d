package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProfilePicURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", PlaceholderProfilePic},
		{"https://lh3.googleusercontent.com/a/abc", "https://lh3.googleusercontent.com/a/abc?sz=150"},
		{"https://lh3.googleusercontent.com/a/abc?sz=64", "https://lh3.googleusercontent.com/a/abc?sz=64"},
		{"https://example.com/me.png", "https://example.com/me.png"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ProfilePicURL(tt.in), tt.in)
	}
}

func TestAuthViewExclusive(t *testing.T) {
	out := NewAuthView(nil)
	assert.False(t, out.SignedIn)
	assert.True(t, out.ShowSignIn)
	assert.False(t, out.ShowProfile)

	in := NewAuthView(&Profile{UID: "u", DisplayName: "Ada"})
	assert.True(t, in.SignedIn)
	assert.Equal(t, "Ada", in.UserName)
	assert.Equal(t, PlaceholderProfilePic, in.UserPic)
	assert.NotEqual(t, in.ShowProfile, in.ShowSignIn)
}

func TestMessageOrdering(t *testing.T) {
	a := &Message{ID: "a", Timestamp: 9}
	b := &Message{ID: "b", Timestamp: 10}
	c := &Message{ID: "c", Timestamp: 10}

	// Numeric, not lexicographic: 9 < 10.
	assert.True(t, a.Less(b))
	assert.True(t, b.Less(c))
	assert.False(t, c.Less(b))
}

func TestMessageKinds(t *testing.T) {
	text := &Message{Text: "hi"}
	assert.False(t, text.IsImage())
	assert.True(t, text.Settled())

	img := &Message{ImageURL: LoadingImageURL, UploadState: UploadPending}
	assert.True(t, img.IsImage())
	assert.False(t, img.Settled())

	img.UploadState = UploadFailed
	assert.True(t, img.Settled())
}

func TestModelRoundTrip(t *testing.T) {
	m := &Message{ID: "m", UserID: "u", Name: "Ada", Text: "hi", Timestamp: 42, Revision: 2}
	assert.Equal(t, m, MessageToModel(m).ToDomain())
	assert.Equal(t, "messages", MessageModel{}.TableName())
}
