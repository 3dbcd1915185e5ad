package httpapi

import (
	"fmt"
	"html/template"
	"net/http"
	"sort"
	"strings"

	"github.com/humlab-sead/sead-authority-service-sub000/internal/reconcile"
)

// previewTmpl renders the embeddable preview document referenced by the
// manifest's preview URL. Kept deliberately plain: the page is shown inside
// a small iframe by reconciliation clients.
var previewTmpl = template.Must(template.New("preview").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>{{.Label}}</title></head>
<body style="margin:8px;font-family:sans-serif;font-size:13px">
<h2 style="margin:0 0 4px 0;font-size:15px">{{.Label}}</h2>
<p style="margin:0 0 8px 0;color:#666">{{.EntityType}}</p>
{{- if .Description}}
<p style="margin:0 0 8px 0">{{.Description}}</p>
{{- end}}
{{- if .Fields}}
<table style="border-collapse:collapse">
{{- range .Fields}}
<tr><td style="padding:1px 8px 1px 0;color:#666">{{.Name}}</td><td>{{.Value}}</td></tr>
{{- end}}
</table>
{{- end}}
</body>
</html>`))

type previewField struct {
	Name  string
	Value string
}

type previewPage struct {
	Label       string
	EntityType  string
	Description string
	Fields      []previewField
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing id parameter")
		return
	}

	p, err := s.svc.Preview(r.Context(), id)
	if err != nil {
		s.writeLookupError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := previewTmpl.Execute(w, buildPreviewPage(p)); err != nil {
		s.log.ErrorContext(r.Context(), "render preview", "id", id, "error", err)
	}
}

func buildPreviewPage(p *reconcile.Preview) previewPage {
	page := previewPage{
		Label:       p.Label,
		EntityType:  p.EntityType,
		Description: p.Description,
	}

	names := make([]string, 0, len(p.Extras))
	for name := range p.Extras {
		if name == "description" {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		page.Fields = append(page.Fields, previewField{
			Name:  strings.ReplaceAll(name, "_", " "),
			Value: stringifyExtra(p.Extras[name]),
		})
	}
	return page
}

func stringifyExtra(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}
