package plugins

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cast"
)

// Options is what a plugin constructor receives from the catalog
type Options struct {
	Requester      *Requester
	Logger         *logrus.Logger
	Priority       int
	MaxConcurrency int
	Settings       map[string]interface{}
}

// String returns a string setting or def when it is unset
func (o Options) String(key, def string) string {
	if v, ok := o.Settings[key]; ok && v != nil {
		return cast.ToString(v)
	}
	return def
}

// Duration returns a duration setting or def when it is unset or invalid
func (o Options) Duration(key string, def time.Duration) time.Duration {
	if v, ok := o.Settings[key]; ok && v != nil {
		if d, err := cast.ToDurationE(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}

// Entry returns a logger scoped to the plugin
func (o Options) Entry(name string) *logrus.Entry {
	logger := o.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return logger.WithField("plugin", name)
}

// Base implements Describe for concrete plugins
type Base struct {
	desc Descriptor
}

// NewBase builds the descriptor of a plugin
func NewBase(name, version string, kind Kind, opts Options, rules Rules) Base {
	maxConcurrency := opts.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultMaxConcurrency
	}
	return Base{desc: Descriptor{
		Name:           name,
		Version:        version,
		Kind:           kind,
		Rules:          rules.Strings(),
		Priority:       opts.Priority,
		MaxConcurrency: maxConcurrency,
	}}
}

// Describe returns the plugin descriptor
func (b Base) Describe() Descriptor {
	return b.desc
}

// Name returns the plugin name
func (b Base) Name() string {
	return b.desc.Name
}
