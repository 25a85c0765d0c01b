package catalog

import (
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amaumene/lapis/internal/config"
	"github.com/amaumene/lapis/internal/models"
	"github.com/amaumene/lapis/internal/plugins"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func disabled() *bool {
	b := false
	return &b
}

func names(descs []plugins.Descriptor) []string {
	out := make([]string, len(descs))
	for i, d := range descs {
		out[i] = d.Name
	}
	return out
}

func TestBuild_Defaults(t *testing.T) {
	cfgs := map[string]config.PluginConfig{
		"imgur": {Settings: map[string]interface{}{"client_id": "cid"}},
	}

	registry, err := Build(Factories, cfgs, &plugins.Requester{}, quietLogger())
	require.NoError(t, err)

	importerNames := names(registry.Importers())
	assert.NotContains(t, importerNames, "tumblr", "tumblr without api_key is left out")
	assert.Equal(t, "gyazo", importerNames[0])
	assert.Equal(t, []string{"imgur", "rawvideo"}, names(registry.Exporters()))

	for _, kind := range models.MediaKinds {
		_, err := registry.ResolveExporter(kind)
		assert.NoError(t, err)
	}

	// Frozen after build
	p, err := Factories["gifscom"].New(plugins.Options{})
	require.NoError(t, err)
	assert.Error(t, registry.Register(p, plugins.KindImporter))
}

func TestBuild_PriorityAndConcurrency(t *testing.T) {
	cfgs := map[string]config.PluginConfig{
		"imgur":   {Settings: map[string]interface{}{"client_id": "cid"}},
		"tinypic": {Priority: 1, MaxConcurrency: 5},
		"gyazo":   {Priority: 1},
		"flickr":  {Enabled: disabled()},
	}

	registry, err := Build(Factories, cfgs, &plugins.Requester{}, quietLogger())
	require.NoError(t, err)

	descs := registry.Importers()
	// Ties are broken by name
	assert.Equal(t, "gyazo", descs[0].Name)
	assert.Equal(t, "tinypic", descs[1].Name)
	assert.Equal(t, 5, descs[1].MaxConcurrency)
	assert.Equal(t, plugins.DefaultMaxConcurrency, descs[0].MaxConcurrency)
	assert.NotContains(t, names(descs), "flickr")
}

func TestBuild_ConfigurationErrors(t *testing.T) {
	tests := []struct {
		name string
		cfgs map[string]config.PluginConfig
	}{
		{
			name: "unknown plugin",
			cfgs: map[string]config.PluginConfig{
				"imgur":   {Settings: map[string]interface{}{"client_id": "cid"}},
				"myspace": {},
			},
		},
		{
			name: "configured plugin missing settings",
			cfgs: map[string]config.PluginConfig{
				"imgur":  {Settings: map[string]interface{}{"client_id": "cid"}},
				"tumblr": {},
			},
		},
		{
			name: "no image exporter",
			cfgs: map[string]config.PluginConfig{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(Factories, tt.cfgs, &plugins.Requester{}, quietLogger())
			var cfgErr *plugins.ConfigurationError
			assert.ErrorAs(t, err, &cfgErr)
		})
	}
}

func TestBuild_NoExporterIsReportedAtStartup(t *testing.T) {
	cfgs := map[string]config.PluginConfig{
		"imgur": {Enabled: disabled()},
	}
	_, err := Build(Factories, cfgs, &plugins.Requester{}, quietLogger())

	var noExporter *plugins.NoExporterError
	require.ErrorAs(t, err, &noExporter)
	assert.Equal(t, models.MediaKindImage, noExporter.MediaKind)
}

func TestBuild_FactoryFailureIsWrapped(t *testing.T) {
	factories := map[string]Factory{
		"broken": {Kind: plugins.KindImporter, New: func(plugins.Options) (plugins.Plugin, error) {
			return nil, errors.New("boom")
		}},
	}
	_, err := Build(factories, nil, &plugins.Requester{}, quietLogger())

	var cfgErr *plugins.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "broken", cfgErr.Plugin)
}

func TestVerify_RequiresImporter(t *testing.T) {
	registry := plugins.NewRegistry()
	registry.Freeze()
	assert.Error(t, Verify(registry))
}
