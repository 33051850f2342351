package export

import (
	"bytes"
	"html/template"
	"strings"
	"time"
)

var digestTemplate = template.Must(template.New("digest").Funcs(template.FuncMap{
	"lower": strings.ToLower,
	"join":  strings.Join,
}).Parse(digestTemplateHTML))

// TemplateData holds data for digest template rendering.
type TemplateData struct {
	UserName    string
	GeneratedAt time.Time
	Ideas       []TemplateIdea
}

// TemplateIdea holds one idea for the template.
type TemplateIdea struct {
	Title    string
	Content  string
	IdeaType string
	Tags     []string
	Author   string
	Likes    int
	Date     string
}

// RenderDigestHTML renders the digest template with provided data.
func RenderDigestHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := digestTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const digestTemplateHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>Liked Ideas &middot; {{.UserName}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; color: #222; }
    h1 { border-bottom: 2px solid #7c3aed; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    .idea { padding: 1rem; margin: 1rem 0; border: 1px solid #ddd; border-radius: 6px; page-break-inside: avoid; }
    .idea h2 { margin: 0 0 0.25rem; }
    .idea .byline { color: #666; font-size: 0.85em; margin-bottom: 0.5rem; }
    .stage { display: inline-block; padding: 2px 8px; border-radius: 10px; background: #ede9fe; color: #6d28d9; font-size: 0.8em; text-transform: uppercase; }
    .tags { color: #888; font-size: 0.85em; margin-top: 0.5rem; }
  </style>
</head>
<body>
  <h1>Liked Ideas</h1>
  <div class="meta">Saved by {{.UserName}} &middot; {{.GeneratedAt.Format "Jan 2, 2006"}} &middot; {{len .Ideas}} ideas</div>
  {{range .Ideas}}
  <div class="idea">
    <h2>{{.Title}}</h2>
    <div class="byline">{{.Author}} &middot; {{.Date}} &middot; <span class="stage">{{lower .IdeaType}}</span> &middot; {{.Likes}} likes</div>
    <p>{{.Content}}</p>
    {{if .Tags}}<div class="tags">#{{join .Tags " #"}}</div>{{end}}
  </div>
  {{end}}
</body>
</html>`
