package resolver

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stwalsh4118/cadence/internal/logger"
)

// SweepArtifacts removes downloaded artifacts left behind by a previous run.
// Only files named after a download stem and last modified before cutoff are removed,
// so unrelated files in the directory survive.
func SweepArtifacts(dir string, cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read artifact directory: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !isArtifactName(entry.Name()) {
			continue
		}

		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Log.Warn().
				Err(err).
				Str("path", path).
				Msg("Failed to remove orphaned artifact")
			continue
		}
		removed++
	}

	if removed > 0 {
		logger.Log.Info().
			Int("removed", removed).
			Str("artifact_dir", dir).
			Msg("Orphaned artifacts cleaned up")
	}

	return removed, nil
}

// isArtifactName checks the file stem is a UUID, which is how downloads are named
func isArtifactName(name string) bool {
	stem, _, _ := strings.Cut(name, ".")
	_, err := uuid.Parse(stem)
	return err == nil
}
