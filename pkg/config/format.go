package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// format is a config file encoding selected by file extension.
type format struct {
	name      string
	marshal   func(v interface{}) ([]byte, error)
	unmarshal func(data []byte, v interface{}) error
}

var (
	yamlFormat = format{name: "YAML", marshal: yaml.Marshal, unmarshal: yaml.Unmarshal}
	jsonFormat = format{name: "JSON", marshal: marshalJSON, unmarshal: json.Unmarshal}
)

func marshalJSON(v interface{}) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// formatFor picks JSON for ".json" and YAML for everything else.
func formatFor(path string) format {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return jsonFormat
	}
	return yamlFormat
}

// Load decodes the file at path into target, as JSON or YAML by extension.
func Load(path string, target interface{}) error {
	f := formatFor(path)
	// #nosec G304 -- the path comes from the operator (-config flag).
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s file %s: %w", f.name, path, err)
	}
	if err := f.unmarshal(data, target); err != nil {
		return fmt.Errorf("decode %s file %s: %w", f.name, path, err)
	}
	return nil
}

// Save writes config to path in the format implied by the extension.
// The file is created 0600.
func Save(path string, config interface{}) error {
	f := formatFor(path)
	data, err := f.marshal(config)
	if err != nil {
		return fmt.Errorf("encode %s: %w", f.name, err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write %s file %s: %w", f.name, path, err)
	}
	return nil
}
