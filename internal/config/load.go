package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads a pipeline file. Files ending in .yaml or .yml are decoded as
// YAML; everything else as JSON. Unknown JSON fields are rejected.
func Load(path string) (Pipeline, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Pipeline{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return DecodeYAML(b)
	default:
		return DecodeJSON(b)
	}
}

// DecodeJSON decodes a JSON pipeline.
func DecodeJSON(b []byte) (Pipeline, error) {
	var p Pipeline
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return Pipeline{}, fmt.Errorf("config: decode json: %w", err)
	}
	p.fillOptions()
	return p, nil
}

// DecodeYAML decodes a YAML pipeline.
func DecodeYAML(b []byte) (Pipeline, error) {
	var p Pipeline
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return Pipeline{}, fmt.Errorf("config: decode yaml: %w", err)
	}
	p.fillOptions()
	return p, nil
}

func (p *Pipeline) fillOptions() {
	if p.Options == nil {
		p.Options = Options{}
	}
	if p.Parser.Options == nil {
		p.Parser.Options = Options{}
	}
}
