package yamlutil

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// UnmarshalStrict decodes YAML with unknown-field checking enabled, so typos
// in configuration keys fail loudly instead of being silently dropped.
func UnmarshalStrict(data []byte, v interface{}) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	if err := decoder.Decode(v); err != nil {
		errStr := err.Error()
		if strings.Contains(errStr, "field") && strings.Contains(errStr, "not found") {
			return fmt.Errorf("unknown configuration field (check for typos): %w", err)
		}
		return err
	}

	return nil
}

// LoadFileStrict reads a YAML file and strictly decodes it into v.
func LoadFileStrict(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := UnmarshalStrict(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}
