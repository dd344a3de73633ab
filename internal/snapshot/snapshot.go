// Package snapshot implements the whole-file snapshot persistence chosen by
// spec §9 for simplicity and atomicity: every store listed in spec §6
// rewrites its entire backing file on each mutation, via a temp file plus
// atomic rename, so a crash mid-write leaves either the prior or the new
// snapshot intact — never a torn write (spec §7).
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Save serializes v as pretty-printed JSON (spec §6: "each a pretty-printed
// JSON object... or array") and atomically replaces path's contents.
func Save(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("snapshot: create directory: %w", err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("snapshot: marshal: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("snapshot: write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("snapshot: rename: %w", err)
	}
	return nil
}

// Load deserializes the file at path into v. A missing file is not an
// error: v is left unmodified so the caller starts from its zero value,
// matching "rehydrated at process start" semantics for a fresh deployment.
func Load(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("snapshot: read: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("snapshot: unmarshal: %w", err)
	}
	return nil
}
