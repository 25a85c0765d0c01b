package plugins

import (
	"net/url"

	"github.com/samber/lo"

	"github.com/amaumene/lapis/internal/models"
)

// Registry indexes the available plugins in priority order.
// Registration happens once at startup; after Freeze the registry is
// read-only and may be shared by any number of job workers.
type Registry struct {
	importers []Importer
	exporters []Exporter
	names     map[Kind]map[string]bool
	frozen    bool
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		names: map[Kind]map[string]bool{
			KindImporter: {},
			KindExporter: {},
		},
	}
}

// Register adds a plugin under the given kind.
// Plugins registered earlier take priority over later ones.
func (r *Registry) Register(p Plugin, kind Kind) error {
	if r.frozen {
		return &ConfigurationError{Reason: "registry is frozen"}
	}
	if p == nil {
		return &ConfigurationError{Reason: "plugin cannot be nil"}
	}

	desc := p.Describe()
	if desc.Name == "" {
		return &ConfigurationError{Reason: "plugin name cannot be empty"}
	}

	names, ok := r.names[kind]
	if !ok {
		return &ConfigurationError{Plugin: desc.Name, Reason: "unknown plugin kind " + string(kind)}
	}
	if names[desc.Name] {
		return &DuplicateNameError{Name: desc.Name, Kind: kind}
	}

	switch kind {
	case KindImporter:
		importer, ok := p.(Importer)
		if !ok {
			return &ConfigurationError{Plugin: desc.Name, Reason: "does not implement the importer contract"}
		}
		r.importers = append(r.importers, importer)
	case KindExporter:
		exporter, ok := p.(Exporter)
		if !ok {
			return &ConfigurationError{Plugin: desc.Name, Reason: "does not implement the exporter contract"}
		}
		r.exporters = append(r.exporters, exporter)
	}

	names[desc.Name] = true
	return nil
}

// Freeze ends registration
func (r *Registry) Freeze() {
	r.frozen = true
}

// ResolveImporter returns the first importer accepting u.
// Returns false when nothing matches, which callers treat as a skip.
func (r *Registry) ResolveImporter(u *url.URL) (Importer, bool) {
	return lo.Find(r.importers, func(importer Importer) bool {
		return importer.Matches(u)
	})
}

// ResolveExporter returns the first exporter supporting the media kind
func (r *Registry) ResolveExporter(kind models.MediaKind) (Exporter, error) {
	exporter, ok := lo.Find(r.exporters, func(exporter Exporter) bool {
		return exporter.Supports(kind)
	})
	if !ok {
		return nil, &NoExporterError{MediaKind: kind}
	}
	return exporter, nil
}

// Exporter returns an exporter by name
func (r *Registry) Exporter(name string) (Exporter, bool) {
	return lo.Find(r.exporters, func(exporter Exporter) bool {
		return exporter.Describe().Name == name
	})
}

// Importers returns importer descriptors in priority order
func (r *Registry) Importers() []Descriptor {
	return lo.Map(r.importers, func(importer Importer, _ int) Descriptor {
		return importer.Describe()
	})
}

// Exporters returns exporter descriptors in priority order
func (r *Registry) Exporters() []Descriptor {
	return lo.Map(r.exporters, func(exporter Exporter, _ int) Descriptor {
		return exporter.Describe()
	})
}
