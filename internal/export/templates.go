package export

import (
	"bytes"
	"embed"
	"encoding/base64"
	"html/template"
	"net/http"
	"strings"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var summaryTemplate *template.Template

func init() {
	funcMap := template.FuncMap{
		"lower": strings.ToLower,
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
	}

	templateContent, err := templateFS.ReadFile("templates/summary.html")
	if err != nil {
		// Fallback to built-in template if file not found
		summaryTemplate = template.Must(template.New("summary").Funcs(funcMap).Parse(fallbackTemplate))
		return
	}

	summaryTemplate = template.Must(template.New("summary").Funcs(funcMap).Parse(string(templateContent)))
}

// TemplateData holds data for summary template rendering
type TemplateData struct {
	DesignID    string
	Width       int
	Height      int
	Snapshot    template.URL
	GeneratedAt time.Time
	Markers     []TemplateMarker
	Comments    []TemplateComment
}

// SnapshotDataURL inlines the design bytes as an image source for the canvas
// backdrop. The template.URL type marks the value trusted; html/template
// would otherwise reject the data scheme in a src attribute.
func SnapshotDataURL(data []byte) template.URL {
	if len(data) == 0 {
		return ""
	}
	mime := http.DetectContentType(data)
	return template.URL("data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data))
}

// TemplateMarker positions one annotation over the design canvas
type TemplateMarker struct {
	Number   int
	X        float64
	Y        float64
	Resolved bool
}

// TemplateComment is one row of the comment table
type TemplateComment struct {
	Number    int
	Text      string
	Status    string
	CreatedAt time.Time
}

// RenderSummaryHTML renders the review summary template with provided data
func RenderSummaryHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := summaryTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// fallbackTemplate is used if the embedded template fails to load
const fallbackTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>Review summary {{.DesignID}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    .canvas { position: relative; border: 1px solid #ccc; background: #fafafa; }
    .snapshot { position: absolute; left: 0; top: 0; width: 100%; height: 100%; }
    .marker { position: absolute; width: 18px; height: 18px; border-radius: 50%;
      color: #fff; font-size: 11px; text-align: center; line-height: 18px;
      transform: translate(-50%, -50%); }
    .marker.open { background: #d33; }
    .marker.resolved { background: #2a2; }
    table { width: 100%; border-collapse: collapse; margin-top: 2rem; }
    th, td { text-align: left; padding: 0.4rem; border-bottom: 1px solid #ddd; }
  </style>
</head>
<body>
  <h1>Review summary</h1>
  <div class="meta">Design {{.DesignID}} | {{.GeneratedAt.Format "Jan 2, 2006 15:04"}}</div>
  <div class="canvas" style="width: {{.Width}}px; height: {{.Height}}px;">
    {{if .Snapshot}}<img class="snapshot" src="{{.Snapshot}}" alt="">{{end}}
    {{range .Markers}}
    <span class="marker {{if .Resolved}}resolved{{else}}open{{end}}" style="left: {{.X}}px; top: {{.Y}}px;">{{.Number}}</span>
    {{end}}
  </div>
  {{if .Comments}}
  <table>
    <tr><th>#</th><th>Comment</th><th>Status</th><th>Created</th></tr>
    {{range .Comments}}
    <tr><td>{{.Number}}</td><td>{{.Text}}</td><td>{{.Status | lower}}</td><td>{{formatDate .CreatedAt "Jan 2, 2006"}}</td></tr>
    {{end}}
  </table>
  {{else}}
  <p>No review comments.</p>
  {{end}}
</body>
</html>`
