package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/wesleyorama2/storeload/internal/loadtest/engine"
)

// EncodeJSON writes result as indented JSON.
func EncodeJSON(w io.Writer, result *engine.TestResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	return nil
}

// WriteJSONFile writes result to path, replacing any existing file.
func WriteJSONFile(path string, result *engine.TestResult) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create result file: %w", err)
	}
	if err := EncodeJSON(f, result); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
