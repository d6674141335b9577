package book

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadManifest reads a book manifest from a YAML or JSON file.
func LoadManifest(path string) (*Book, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path is provided by the operator
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return DecodeManifest(bytes.NewReader(data))
}

// DecodeManifest decodes, normalizes and validates a manifest. JSON input is
// accepted since it is valid YAML.
func DecodeManifest(r io.Reader) (*Book, error) {
	var b Book
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&b); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrNoChapters
		}
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	b.Normalize()
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return &b, nil
}
