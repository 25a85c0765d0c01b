package plugins

import (
	"errors"
	"fmt"

	"github.com/amaumene/lapis/internal/models"
)

// ErrorClass tells the pipeline whether an operation may be retried
type ErrorClass int

const (
	Permanent ErrorClass = iota
	Transient
)

func (c ErrorClass) String() string {
	if c == Transient {
		return "transient"
	}
	return "permanent"
}

// FetchError is returned by Importer.Fetch
type FetchError struct {
	Plugin string
	URL    string
	Class  ErrorClass
	Cause  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s via %s (%s): %v", e.URL, e.Plugin, e.Class, e.Cause)
}

func (e *FetchError) Unwrap() error {
	return e.Cause
}

// NewFetchError creates a fetch error
func NewFetchError(plugin, url string, class ErrorClass, cause error) *FetchError {
	return &FetchError{Plugin: plugin, URL: url, Class: class, Cause: cause}
}

// UploadError is returned by Exporter.Upload
type UploadError struct {
	Plugin string
	ItemID string
	Class  ErrorClass
	Cause  error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload %s via %s (%s): %v", e.ItemID, e.Plugin, e.Class, e.Cause)
}

func (e *UploadError) Unwrap() error {
	return e.Cause
}

// NewUploadError creates an upload error
func NewUploadError(plugin, itemID string, class ErrorClass, cause error) *UploadError {
	return &UploadError{Plugin: plugin, ItemID: itemID, Class: class, Cause: cause}
}

// IsTransient reports whether err is a fetch or upload error marked as retryable
func IsTransient(err error) bool {
	var fetchErr *FetchError
	if errors.As(err, &fetchErr) {
		return fetchErr.Class == Transient
	}
	var uploadErr *UploadError
	if errors.As(err, &uploadErr) {
		return uploadErr.Class == Transient
	}
	return false
}

// DuplicateNameError is returned when a plugin name is registered twice for the same kind
type DuplicateNameError struct {
	Name string
	Kind Kind
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("%s %q already registered", e.Kind, e.Name)
}

// NoExporterError is returned when no exporter supports a media kind
type NoExporterError struct {
	MediaKind models.MediaKind
}

func (e *NoExporterError) Error() string {
	return fmt.Sprintf("no exporter supports %s media", e.MediaKind)
}

// ConfigurationError is fatal at startup
type ConfigurationError struct {
	Plugin string
	Reason string
	Cause  error
}

func (e *ConfigurationError) Error() string {
	msg := e.Reason
	if e.Plugin != "" {
		msg = fmt.Sprintf("plugin %s: %s", e.Plugin, e.Reason)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return "configuration error: " + msg
}

func (e *ConfigurationError) Unwrap() error {
	return e.Cause
}
