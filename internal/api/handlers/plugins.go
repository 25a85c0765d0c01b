package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/amaumene/lapis/internal/plugins"
)

// PluginLister lists registered plugins. Implemented by *plugins.Registry.
type PluginLister interface {
	Importers() []plugins.Descriptor
	Exporters() []plugins.Descriptor
}

// PluginsHandler lists the loaded plugins in resolution order
type PluginsHandler struct {
	registry PluginLister
	logger   *logrus.Logger
}

// NewPluginsHandler creates a new plugins handler
func NewPluginsHandler(registry PluginLister, logger *logrus.Logger) *PluginsHandler {
	return &PluginsHandler{registry: registry, logger: logger}
}

// PluginInfo describes one loaded plugin
type PluginInfo struct {
	Name           string   `json:"name"`
	Version        string   `json:"version"`
	Priority       int      `json:"priority"`
	MaxConcurrency int      `json:"max_concurrency"`
	Rules          []string `json:"rules,omitempty"`
}

// PluginsResponse represents the plugins response
type PluginsResponse struct {
	Importers []PluginInfo `json:"importers"`
	Exporters []PluginInfo `json:"exporters"`
}

func toInfo(d plugins.Descriptor, _ int) PluginInfo {
	return PluginInfo{
		Name:           d.Name,
		Version:        d.Version,
		Priority:       d.Priority,
		MaxConcurrency: d.MaxConcurrency,
		Rules:          d.Rules,
	}
}

// ServeHTTP handles the plugins endpoint
func (h *PluginsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := PluginsResponse{
		Importers: lo.Map(h.registry.Importers(), toInfo),
		Exporters: lo.Map(h.registry.Exporters(), toInfo),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}
