package feed

import (
	"bytes"
	"html"
	"html/template"
	"strconv"
	"strings"

	"github.com/weiawesome/friendlychat/internal/domain"
)

// Card is one rendered message in the feed.
type Card struct {
	ID        string
	Timestamp int64
	Name      string
	Text      string
	PicURL    string
	ImageURL  string
	Visible   bool
}

var cardTemplate = template.Must(template.New("card").Parse(
	`<div class="message-container{{if .Visible}} visible{{end}}" id="{{.ID}}" data-timestamp="{{.Timestamp}}">` +
		`<div class="spacing"><div class="pic" style="background-image: url({{.PicURL}})"></div></div>` +
		`<div class="message">{{if .Text}}{{.TextHTML}}{{else if .ImageSrc}}<img src="{{.ImageSrc}}" data-autoscroll>{{end}}</div>` +
		`<div class="name">{{.Name}}</div>` +
		`</div>`))

type cardView struct {
	ID        string
	Timestamp int64
	Visible   bool
	Name      string
	PicURL    string
	Text      string
	TextHTML  template.HTML
	ImageSrc  string
}

// textHTML escapes text and keeps its line breaks.
func textHTML(text string) template.HTML {
	return template.HTML(strings.ReplaceAll(html.EscapeString(text), "\n", "<br>"))
}

// cacheBust appends a query value so the browser reloads an image whose
// URL it has seen before.
func cacheBust(url string, nowMs int64) string {
	sep := "?"
	if strings.Contains(url, "?") {
		sep = "&"
	}
	return url + sep + strconv.FormatInt(nowMs, 10)
}

func renderCard(c *Card, nowMs int64) (string, error) {
	v := cardView{
		ID:        c.ID,
		Timestamp: c.Timestamp,
		Visible:   c.Visible,
		Name:      c.Name,
		PicURL:    domain.ProfilePicURL(c.PicURL),
		Text:      c.Text,
	}
	if c.Text != "" {
		v.TextHTML = textHTML(c.Text)
	} else if c.ImageURL != "" {
		v.ImageSrc = cacheBust(c.ImageURL, nowMs)
	}

	var buf bytes.Buffer
	if err := cardTemplate.Execute(&buf, v); err != nil {
		return "", err
	}
	return buf.String(), nil
}
