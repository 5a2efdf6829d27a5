package report

import (
	"bytes"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"time"

	"github.com/devicelab-dev/screencast-runner/pkg/core"
)

// HTMLConfig contains configuration for HTML gallery generation.
type HTMLConfig struct {
	OutputPath string // Path to write the HTML file
	Title      string // Page title (default: "Screencast Recordings")
}

// HTMLData contains all data needed for the HTML template.
type HTMLData struct {
	Title       string
	GeneratedAt string
	Summary     Summary
	Recordings  []RecordingHTMLData
}

// RecordingHTMLData contains a recording formatted for HTML.
type RecordingHTMLData struct {
	core.RecordingResult
	StatusClass string
	GifSrc      string // Relative to the HTML file
	DurationStr string
	SizeStr     string
}

// GenerateHTML renders index as a gallery next to recordings.json.
func GenerateHTML(outputDir string, index *Index, cfg HTMLConfig) error {
	if cfg.Title == "" {
		cfg.Title = "Screencast Recordings"
	}
	if cfg.OutputPath == "" {
		cfg.OutputPath = filepath.Join(outputDir, HTMLFile)
	}

	data := buildHTMLData(index, cfg, filepath.Dir(cfg.OutputPath))

	html, err := renderHTML(data)
	if err != nil {
		return fmt.Errorf("render html: %w", err)
	}
	if err := os.WriteFile(cfg.OutputPath, []byte(html), 0o644); err != nil {
		return fmt.Errorf("write html: %w", err)
	}
	return nil
}

func buildHTMLData(index *Index, cfg HTMLConfig, baseDir string) HTMLData {
	data := HTMLData{
		Title:       cfg.Title,
		GeneratedAt: time.Now().Format("2006-01-02 15:04:05"),
		Summary:     computeSummary(index.Recordings),
	}

	// Newest first
	for i := len(index.Recordings) - 1; i >= 0; i-- {
		r := index.Recordings[i]
		rd := RecordingHTMLData{
			RecordingResult: r,
			StatusClass:     string(r.Status),
			DurationStr:     "-",
			SizeStr:         formatBytes(r.GifSize),
		}
		if r.EndTime != nil {
			rd.DurationStr = formatDuration(r.EndTime.Sub(r.StartTime))
		}
		if r.GifPath != "" {
			if rel, err := filepath.Rel(baseDir, r.GifPath); err == nil {
				rd.GifSrc = filepath.ToSlash(rel)
			} else {
				rd.GifSrc = r.GifPath
			}
		}
		data.Recordings = append(data.Recordings, rd)
	}
	return data
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
}

func formatBytes(n int64) string {
	switch {
	case n <= 0:
		return "-"
	case n < 1024:
		return fmt.Sprintf("%d B", n)
	case n < 1024*1024:
		return fmt.Sprintf("%.1f KB", float64(n)/1024)
	default:
		return fmt.Sprintf("%.1f MB", float64(n)/(1024*1024))
	}
}

func renderHTML(data HTMLData) (string, error) {
	tmpl, err := template.New("recordings").Parse(htmlTemplate)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const htmlTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{.Title}}</title>
    <style>
        :root {
            --bg-primary: #ffffff;
            --bg-secondary: #f9fafb;
            --text-primary: #111827;
            --text-secondary: #6b7280;
            --border: #e5e7eb;
            --passed: #10b981;
            --failed: #ef4444;
        }
        body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", sans-serif; margin: 0; background: var(--bg-secondary); color: var(--text-primary); }
        header { background: var(--bg-primary); border-bottom: 1px solid var(--border); padding: 16px 24px; }
        header h1 { margin: 0; font-size: 20px; }
        .summary { color: var(--text-secondary); font-size: 14px; margin-top: 4px; }
        main { display: grid; grid-template-columns: repeat(auto-fill, minmax(360px, 1fr)); gap: 16px; padding: 24px; }
        .card { background: var(--bg-primary); border: 1px solid var(--border); border-radius: 8px; overflow: hidden; }
        .card img { width: 100%; display: block; background: #000; }
        .card .body { padding: 12px 16px; font-size: 14px; }
        .card h2 { font-size: 16px; margin: 0 0 6px; }
        .meta { color: var(--text-secondary); }
        .status { display: inline-block; padding: 1px 8px; border-radius: 10px; font-size: 12px; color: #fff; }
        .status.completed { background: var(--passed); }
        .status.failed { background: var(--failed); }
        .error { color: var(--failed); white-space: pre-wrap; margin-top: 6px; }
    </style>
</head>
<body>
<header>
    <h1>{{.Title}}</h1>
    <div class="summary">{{.Summary.Total}} recordings, {{.Summary.Completed}} completed, {{.Summary.Failed}} failed. Generated {{.GeneratedAt}}</div>
</header>
<main>
{{range .Recordings}}
    <div class="card">
        {{if .GifSrc}}<img src="{{.GifSrc}}" alt="{{.Name}}" loading="lazy">{{end}}
        <div class="body">
            <h2>{{.Name}} <span class="status {{.StatusClass}}">{{.Status}}</span></h2>
            <div class="meta">{{.FlowID}} &middot; {{.StartTime.Format "2006-01-02 15:04:05"}} &middot; {{.DurationStr}} &middot; {{.SizeStr}}</div>
            <div class="meta">{{.StepsExecuted}} steps{{if .StepsSkipped}}, {{.StepsSkipped}} skipped{{end}}</div>
            {{if .Error}}<div class="error">{{.Error}}</div>{{end}}
        </div>
    </div>
{{end}}
</main>
</body>
</html>
`
