// Package jsonfile overwrites the JSON document read by the web page.
package jsonfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ericogr/aeroponic-to-json/pkg/output"
	"github.com/ericogr/aeroponic-to-json/pkg/sensor"
)

type JSONFileOutput struct {
	path string
}

func NewJSONFile(path string) output.Output { return &JSONFileOutput{path: path} }

// Publish writes the reading as indented JSON, replacing previous content.
// The parent directory is created when missing. Errors wrap the underlying
// *fs.PathError, so fs.ErrPermission can be detected by the caller.
func (j *JSONFileOutput) Publish(r sensor.Reading) error {
	if dir := filepath.Dir(j.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encode reading: %w", err)
	}
	if err := os.WriteFile(j.path, append(b, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", j.path, err)
	}
	return nil
}

func (j *JSONFileOutput) Close() error { return nil }
