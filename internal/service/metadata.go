package service

import (
	"strings"

	"github.com/humlab-sead/sead-authority-service-sub000/internal/reconcile"
)

// Manifest is the static service descriptor returned on metadata requests.
// Shapes follow the reconciliation protocol manifest document.
type Manifest struct {
	Name            string                 `json:"name"`
	IdentifierSpace string                 `json:"identifierSpace"`
	SchemaSpace     string                 `json:"schemaSpace"`
	DefaultTypes    []reconcile.EntityType `json:"defaultTypes"`
	View            ManifestView           `json:"view"`
	Preview         ManifestPreview        `json:"preview"`
	Suggest         ManifestSuggest        `json:"suggest"`
}

type ManifestView struct {
	URL string `json:"url"`
}

type ManifestPreview struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type ManifestSuggest struct {
	Entity   SuggestEndpoint `json:"entity"`
	Type     SuggestEndpoint `json:"type"`
	Property SuggestEndpoint `json:"property"`
}

type SuggestEndpoint struct {
	ServiceURL  string `json:"service_url"`
	ServicePath string `json:"service_path"`
}

// Metadata builds the manifest from configuration and the registry.
func (s *Service) Metadata() Manifest {
	base := strings.TrimRight(s.opts.BaseURL, "/")

	types := make([]reconcile.EntityType, 0)
	for _, strat := range s.registry.All() {
		types = append(types, reconcile.EntityType{ID: strat.Name(), Name: strat.DisplayName()})
	}

	return Manifest{
		Name:            s.opts.ServiceName,
		IdentifierSpace: s.opts.IdentifierSpace,
		SchemaSpace:     s.opts.SchemaSpace,
		DefaultTypes:    types,
		View:            ManifestView{URL: base + "/preview?id={{id}}"},
		Preview: ManifestPreview{
			URL:    base + "/flyout/entity?id={{id}}",
			Width:  350,
			Height: 200,
		},
		Suggest: ManifestSuggest{
			Entity:   SuggestEndpoint{ServiceURL: base, ServicePath: "/suggest/entity"},
			Type:     SuggestEndpoint{ServiceURL: base, ServicePath: "/suggest/type"},
			Property: SuggestEndpoint{ServiceURL: base, ServicePath: "/suggest/property"},
		},
	}
}
