package email

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strings"
	texttemplate "text/template"
	"time"
)

//go:embed templates/alert.html templates/alert.txt
var templateFS embed.FS

// RenderedEmail holds the pre-rendered email content ready for transmission.
type RenderedEmail struct {
	Subject  string
	BodyHTML string
	BodyText string
}

type paragraph struct {
	Text  string
	Items []string
}

type templateData struct {
	Subject    string
	Body       string
	Paragraphs []paragraph
	SenderName string
	SentAt     string
}

// Renderer turns a plain-text alert body into HTML and text parts using the
// embedded templates. html/template escapes every value.
type Renderer struct {
	html       *template.Template
	text       *texttemplate.Template
	senderName string
	loc        *time.Location
}

// NewRenderer parses the embedded templates. loc controls the timestamp shown
// in the footer; nil means UTC.
func NewRenderer(senderName string, loc *time.Location) (*Renderer, error) {
	if loc == nil {
		loc = time.UTC
	}
	htmlTmpl, err := template.ParseFS(templateFS, "templates/alert.html")
	if err != nil {
		return nil, fmt.Errorf("renderer: failed to parse alert.html: %w", err)
	}
	txtTmpl, err := texttemplate.ParseFS(templateFS, "templates/alert.txt")
	if err != nil {
		return nil, fmt.Errorf("renderer: failed to parse alert.txt: %w", err)
	}
	return &Renderer{html: htmlTmpl, text: txtTmpl, senderName: senderName, loc: loc}, nil
}

// Render builds both parts. Blank lines separate paragraphs; consecutive
// lines starting with "- " become a list.
func (r *Renderer) Render(subject, body string, at time.Time) (*RenderedEmail, error) {
	data := templateData{
		Subject:    subject,
		Body:       strings.TrimSpace(body),
		Paragraphs: splitParagraphs(body),
		SenderName: r.senderName,
		SentAt:     at.In(r.loc).Format("Mon, Jan 2 at 3:04 PM MST"),
	}

	var htmlBuf, txtBuf bytes.Buffer
	if err := r.html.Execute(&htmlBuf, data); err != nil {
		return nil, fmt.Errorf("renderer: failed to render HTML: %w", err)
	}
	if err := r.text.Execute(&txtBuf, data); err != nil {
		return nil, fmt.Errorf("renderer: failed to render text: %w", err)
	}
	return &RenderedEmail{Subject: subject, BodyHTML: htmlBuf.String(), BodyText: txtBuf.String()}, nil
}

func splitParagraphs(body string) []paragraph {
	var out []paragraph
	var text []string
	var items []string
	flush := func() {
		if len(text) > 0 {
			out = append(out, paragraph{Text: strings.Join(text, " ")})
			text = nil
		}
		if len(items) > 0 {
			out = append(out, paragraph{Items: items})
			items = nil
		}
	}
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "- "):
			if len(text) > 0 {
				flush()
			}
			items = append(items, strings.TrimPrefix(line, "- "))
		default:
			if len(items) > 0 {
				flush()
			}
			text = append(text, line)
		}
	}
	flush()
	return out
}
