// Package credstore reads and writes provider credential files and
// OS keyring secrets. It is a pure I/O adapter: missing or unreadable
// sources are reported as absent, never as errors the caller must handle.
package credstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/j-veylop/quotameter/internal/logger"
)

// ReadFile returns the raw credential JSON at path, or nil when the
// file is missing, unreadable, or not valid JSON.
func ReadFile(path string) []byte {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	if !json.Valid(data) {
		logger.Warn("credential file is not valid JSON", "path", path)
		return nil
	}
	return data
}

// WriteFile writes credential data atomically via a temp file rename.
// Returns false on any failure; credential persistence is best-effort.
func WriteFile(path string, data []byte) bool {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			logger.Error("failed to create credential directory", "path", dir, "error", err)
			return false
		}
	}

	tmpFile := path + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o600); err != nil {
		logger.Error("failed to write credential temp file", "path", tmpFile, "error", err)
		return false
	}

	if err := os.Rename(tmpFile, path); err != nil {
		if removeErr := os.Remove(tmpFile); removeErr != nil {
			logger.Error("failed to remove temp file", "error", removeErr)
		}
		logger.Error("failed to rename credential temp file", "path", path, "error", err)
		return false
	}

	return true
}

// SetFields returns a copy of a JSON object document with the given
// top-level fields replaced. Every field not named in updates keeps its
// original raw bytes, so values written by external CLIs survive
// untouched. A json.RawMessage update is spliced in verbatim.
func SetFields(doc []byte, updates map[string]any) ([]byte, error) {
	obj := make(map[string]json.RawMessage)
	if len(doc) > 0 {
		if err := json.Unmarshal(doc, &obj); err != nil {
			return nil, fmt.Errorf("failed to parse credential document: %w", err)
		}
	}

	for key, value := range updates {
		if raw, ok := value.(json.RawMessage); ok {
			obj[key] = raw
			continue
		}
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("failed to encode field %s: %w", key, err)
		}
		obj[key] = encoded
	}

	return json.Marshal(obj)
}
