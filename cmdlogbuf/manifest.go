package cmdlogbuf

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/natefinch/atomic"
	"github.com/tailscale/hujson"
)

// Manifest records which log file is current so the engine can find its log
// after a restart. The log buffer never writes it; callers rewrite it with
// SaveManifest after a completed rotation.
type Manifest struct {
	CurrentFile string `json:"current_file"`
	FileNum     uint32 `json:"file_num"`
}

// SaveManifest writes the manifest atomically; a crash mid-write leaves the
// previous manifest intact.
func SaveManifest(path string, m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	data = append(data, '\n')
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write manifest %s: %w", path, err)
	}
	return nil
}

// LoadManifest reads a manifest written by SaveManifest. Comments and
// trailing commas are tolerated, so hand edits don't brick the engine.
func LoadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Manifest{}, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}
	var m Manifest
	if err := json.Unmarshal(standardized, &m); err != nil {
		return Manifest{}, fmt.Errorf("failed to decode manifest %s: %w", path, err)
	}
	if m.CurrentFile == "" {
		return Manifest{}, fmt.Errorf("manifest %s has no current file", path)
	}
	return m, nil
}
