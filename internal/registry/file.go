package registry

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/imagery-cli/internal/model"
)

// File is the on-disk registry document.
type File struct {
	Providers []model.Provider `yaml:"providers"`
}

// Parse decodes and validates a registry document. Unknown keys are rejected
// so typos in limit names surface at load time.
func Parse(data []byte) ([]model.Provider, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, eris.Wrap(err, "registry: decode yaml")
	}
	if err := model.ValidateProviders(f.Providers); err != nil {
		return nil, eris.Wrap(err, "registry: validate")
	}
	return f.Providers, nil
}

// LoadFile reads and validates the registry file at path.
func LoadFile(path string) ([]model.Provider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "registry: read %s", path)
	}
	ps, err := Parse(data)
	if err != nil {
		return nil, eris.Wrapf(err, "registry: load %s", path)
	}
	return ps, nil
}

// FileSource reads the registry file on every call. Wrap it in a
// CachedSource to avoid re-reading per entity.
type FileSource struct {
	Path string
}

// Providers implements Source.
func (f FileSource) Providers(_ context.Context) ([]model.Provider, error) {
	return LoadFile(f.Path)
}
