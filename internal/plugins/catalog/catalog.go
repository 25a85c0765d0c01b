// Package catalog lists the built-in plugins and builds the registry from configuration.
package catalog

import (
	"errors"
	"fmt"
	"sort"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/amaumene/lapis/internal/config"
	"github.com/amaumene/lapis/internal/models"
	"github.com/amaumene/lapis/internal/plugins"
	"github.com/amaumene/lapis/internal/plugins/exporters"
	"github.com/amaumene/lapis/internal/plugins/importers"
)

// Factory constructs a plugin from its options
type Factory struct {
	Kind     plugins.Kind
	Priority int // Used when the configuration does not set one
	New      func(opts plugins.Options) (plugins.Plugin, error)
}

// Factories is the compile-time list of available plugins
var Factories = map[string]Factory{
	"tumblr":      {Kind: plugins.KindImporter, Priority: 10, New: importers.NewTumblr},
	"gyazo":       {Kind: plugins.KindImporter, Priority: 20, New: importers.NewGyazo},
	"deviantart":  {Kind: plugins.KindImporter, Priority: 30, New: importers.NewDeviantArt},
	"fourchan":    {Kind: plugins.KindImporter, Priority: 40, New: importers.NewFourChan},
	"derpibooru":  {Kind: plugins.KindImporter, Priority: 50, New: importers.NewDerpibooru},
	"artstation":  {Kind: plugins.KindImporter, Priority: 60, New: importers.NewArtStation},
	"drawcrowd":   {Kind: plugins.KindImporter, Priority: 70, New: importers.NewDrawCrowd},
	"flickr":      {Kind: plugins.KindImporter, Priority: 80, New: importers.NewFlickr},
	"tinypic":     {Kind: plugins.KindImporter, Priority: 90, New: importers.NewTinypic},
	"gifscom":     {Kind: plugins.KindImporter, Priority: 100, New: importers.NewGifsCom},
	"e621":        {Kind: plugins.KindImporter, Priority: 110, New: importers.NewE621},
	"furaffinity": {Kind: plugins.KindImporter, Priority: 120, New: importers.NewFurAffinity},

	"imgur":    {Kind: plugins.KindExporter, Priority: 10, New: exporters.NewImgur},
	"rawvideo": {Kind: plugins.KindExporter, Priority: 20, New: exporters.NewRawVideo},
}

type candidate struct {
	name       string
	factory    Factory
	cfg        config.PluginConfig
	configured bool
	priority   int
}

// Build constructs, orders and registers the enabled plugins, then freezes the registry.
// Plugins without a configuration section that cannot start for lack of
// settings are left out; any other construction failure is fatal.
func Build(factories map[string]Factory, cfgs map[string]config.PluginConfig, requester *plugins.Requester, logger *logrus.Logger) (*plugins.Registry, error) {
	for name := range cfgs {
		if _, ok := factories[name]; !ok {
			return nil, &plugins.ConfigurationError{Plugin: name, Reason: "unknown plugin"}
		}
	}

	candidates := make([]candidate, 0, len(factories))
	for name, factory := range factories {
		cfg, configured := cfgs[name]
		if !cfg.IsEnabled() {
			logger.WithField("plugin", name).Info("Plugin disabled by configuration")
			continue
		}
		priority := factory.Priority
		if configured && cfg.Priority != 0 {
			priority = cfg.Priority
		}
		candidates = append(candidates, candidate{
			name:       name,
			factory:    factory,
			cfg:        cfg,
			configured: configured,
			priority:   priority,
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].priority != candidates[j].priority {
			return candidates[i].priority < candidates[j].priority
		}
		return candidates[i].name < candidates[j].name
	})

	registry := plugins.NewRegistry()
	for _, c := range candidates {
		p, err := c.factory.New(plugins.Options{
			Requester:      requester,
			Logger:         logger,
			Priority:       c.priority,
			MaxConcurrency: c.cfg.MaxConcurrency,
			Settings:       c.cfg.Settings,
		})
		if err != nil {
			var cfgErr *plugins.ConfigurationError
			if !c.configured && errors.As(err, &cfgErr) {
				logger.WithFields(logrus.Fields{
					"plugin": c.name,
					"reason": cfgErr.Reason,
				}).Warn("Plugin not configured, skipping")
				continue
			}
			if errors.As(err, &cfgErr) {
				return nil, err
			}
			return nil, &plugins.ConfigurationError{Plugin: c.name, Reason: "failed to initialize", Cause: err}
		}

		if err := registry.Register(p, c.factory.Kind); err != nil {
			return nil, err
		}

		desc := p.Describe()
		logger.WithFields(logrus.Fields{
			"plugin":          desc.Name,
			"kind":            desc.Kind,
			"priority":        desc.Priority,
			"max_concurrency": desc.MaxConcurrency,
		}).Debug("Registered plugin")
	}
	registry.Freeze()

	if err := Verify(registry); err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"importers": lo.Map(registry.Importers(), func(d plugins.Descriptor, _ int) string { return d.Name }),
		"exporters": lo.Map(registry.Exporters(), func(d plugins.Descriptor, _ int) string { return d.Name }),
	}).Info("Plugin registry ready")

	return registry, nil
}

// Verify checks that the registry can import something and export every media kind
func Verify(registry *plugins.Registry) error {
	if len(registry.Importers()) == 0 {
		return &plugins.ConfigurationError{Reason: "no importer is enabled"}
	}
	for _, kind := range models.MediaKinds {
		if _, err := registry.ResolveExporter(kind); err != nil {
			return &plugins.ConfigurationError{Reason: fmt.Sprintf("%s media cannot be exported", kind), Cause: err}
		}
	}
	return nil
}
