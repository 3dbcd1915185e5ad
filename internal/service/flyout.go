package service

import (
	"context"
	"fmt"
	"html/template"
	"sort"
	"strings"
)

// FlyoutResult is the inline preview payload shown while hovering a
// candidate.
type FlyoutResult struct {
	ID   string `json:"id"`
	HTML string `json:"html"`
}

// flyoutTmpl renders the hover card. html/template escapes label and field
// values coming from the authority database.
var flyoutTmpl = template.Must(template.New("flyout").Parse(`<div class="flyout">
<p class="flyout-label"><strong>{{.Label}}</strong> <span class="flyout-type">({{.Type}})</span></p>
{{- if .Description}}
<p class="flyout-description">{{.Description}}</p>
{{- end}}
{{- if .Fields}}
<ul class="flyout-fields">
{{- range .Fields}}
<li><span class="field-name">{{.Name}}</span>: {{.Value}}</li>
{{- end}}
</ul>
{{- end}}
</div>`))

type flyoutField struct {
	Name  string
	Value string
}

// Flyout renders the HTML hover preview for a canonical id.
func (s *Service) Flyout(ctx context.Context, ref string) (FlyoutResult, error) {
	p, err := s.Preview(ctx, ref)
	if err != nil {
		return FlyoutResult{}, err
	}

	fields := make([]flyoutField, 0, len(p.Extras))
	for name, value := range p.Extras {
		if name == "description" {
			continue
		}
		fields = append(fields, flyoutField{
			Name:  strings.ReplaceAll(name, "_", " "),
			Value: fmt.Sprint(value),
		})
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].Name < fields[j].Name })

	var b strings.Builder
	err = flyoutTmpl.Execute(&b, struct {
		Label       string
		Type        string
		Description string
		Fields      []flyoutField
	}{
		Label:       p.Label,
		Type:        p.EntityType,
		Description: p.Description,
		Fields:      fields,
	})
	if err != nil {
		return FlyoutResult{}, fmt.Errorf("service: flyout render: %w", err)
	}

	id := ref
	if p.EntityType != "" {
		id = fmt.Sprintf("%s/%s/%d", strings.TrimRight(s.opts.IdentifierSpace, "/"), p.EntityType, p.ID)
	}
	return FlyoutResult{ID: id, HTML: b.String()}, nil
}
