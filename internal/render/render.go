package render

import (
	"fmt"
	"strings"
	"sync"
	"text/template"

	"github.com/opsgrid/alarmd/internal/domain/notification"
)

const defaultSubject = `[{{.severity}}] {{.title}}`

const defaultContent = `Alarm: {{.title}}
Severity: {{.severity}}
{{- if .host}}
Host: {{.host}}
{{- end}}
{{- if .service}}
Service: {{.service}}
{{- end}}
{{- if .description}}

{{.description}}
{{- end}}`

const defaultHTML = `<h2>{{.title}}</h2>
<p><strong>Severity:</strong> {{.severity}}</p>
{{- if .host}}
<p><strong>Host:</strong> {{.host}}</p>
{{- end}}
{{- if .service}}
<p><strong>Service:</strong> {{.service}}</p>
{{- end}}
{{- if .description}}
<p>{{.description}}</p>
{{- end}}`

type templateSet struct {
	subject *template.Template
	content *template.Template
	html    *template.Template
}

// TemplateRenderer renders alarm field maps through named template sets.
// The empty template ID resolves to the built-in default set.
type TemplateRenderer struct {
	mu   sync.RWMutex
	sets map[string]*templateSet
}

func NewTemplateRenderer() *TemplateRenderer {
	r := &TemplateRenderer{sets: make(map[string]*templateSet)}
	// The built-in templates are static and must parse.
	if err := r.Register("", defaultSubject, defaultContent, defaultHTML); err != nil {
		panic(err)
	}
	return r
}

// Register parses and stores a template set under the given ID. The HTML
// template may be empty.
func (r *TemplateRenderer) Register(id, subject, content, html string) error {
	set := &templateSet{}
	var err error
	if set.subject, err = template.New("subject").Parse(subject); err != nil {
		return fmt.Errorf("parsing subject template %q: %w", id, err)
	}
	if set.content, err = template.New("content").Parse(content); err != nil {
		return fmt.Errorf("parsing content template %q: %w", id, err)
	}
	if html != "" {
		if set.html, err = template.New("html").Parse(html); err != nil {
			return fmt.Errorf("parsing html template %q: %w", id, err)
		}
	}

	r.mu.Lock()
	r.sets[id] = set
	r.mu.Unlock()
	return nil
}

// Render produces messages for the alarm field map. Unknown template IDs
// fall back to the default set.
func (r *TemplateRenderer) Render(fields map[string]interface{}, templateID string) (*notification.Rendered, error) {
	r.mu.RLock()
	set, ok := r.sets[templateID]
	if !ok {
		set = r.sets[""]
	}
	r.mu.RUnlock()

	out := &notification.Rendered{}
	var err error
	if out.Subject, err = execute(set.subject, fields); err != nil {
		return nil, fmt.Errorf("rendering subject: %w", err)
	}
	if out.Content, err = execute(set.content, fields); err != nil {
		return nil, fmt.Errorf("rendering content: %w", err)
	}
	if set.html != nil {
		if out.HTMLContent, err = execute(set.html, fields); err != nil {
			return nil, fmt.Errorf("rendering html: %w", err)
		}
	}
	return out, nil
}

func execute(t *template.Template, fields map[string]interface{}) (string, error) {
	var b strings.Builder
	if err := t.Execute(&b, fields); err != nil {
		return "", err
	}
	return b.String(), nil
}
