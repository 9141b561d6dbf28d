package domain

import "strings"

// PlaceholderProfilePic is shown for users without a photo.
const PlaceholderProfilePic = "/images/profile_placeholder.svg"

// Profile is the signed-in user as reported by the identity provider.
type Profile struct {
	UID         string `json:"uid"`
	DisplayName string `json:"display_name"`
	PhotoURL    string `json:"photo_url,omitempty"`
	Email       string `json:"email,omitempty"`
}

// ProfilePicURL returns the URL to render for a profile picture.
// Google hosted pictures without a query are requested at 150px.
func ProfilePicURL(url string) string {
	if url == "" {
		return PlaceholderProfilePic
	}
	if strings.Contains(url, "googleusercontent.com") && !strings.Contains(url, "?") {
		return url + "?sz=150"
	}
	return url
}

// AuthView is the header state of the page for one session.
// ShowProfile and ShowSignIn are always opposite.
type AuthView struct {
	SignedIn    bool   `json:"signed_in"`
	UserName    string `json:"user_name,omitempty"`
	UserPic     string `json:"user_pic,omitempty"`
	ShowProfile bool   `json:"show_profile"`
	ShowSignIn  bool   `json:"show_sign_in"`
}

// NewAuthView builds the view for p; a nil profile is the signed-out view.
func NewAuthView(p *Profile) AuthView {
	if p == nil {
		return AuthView{ShowSignIn: true}
	}
	return AuthView{
		SignedIn:    true,
		UserName:    p.DisplayName,
		UserPic:     ProfilePicURL(p.PhotoURL),
		ShowProfile: true,
	}
}
