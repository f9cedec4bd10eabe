package journal

import (
	"fmt"
	"os"
	"time"
)

// CleanupStats reports what Cleanup removed.
type CleanupStats struct {
	FilesRemoved  int
	BytesFreed    int64
	OldestRemoved time.Time
	NewestRemoved time.Time
}

// Cleanup removes closed journal files last modified before the retention
// window. The file currently being written is never removed.
func (j *Journal) Cleanup() (CleanupStats, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	var stats CleanupStats
	if j.config.RetentionDays <= 0 {
		return stats, nil
	}
	cutoff := j.config.Now().AddDate(0, 0, -j.config.RetentionDays)

	current := ""
	if j.file != nil {
		current = j.file.Name()
	}

	for _, path := range Files(j.config.Dir, j.config.FilePrefix) {
		if path == current {
			continue
		}
		info, err := os.Stat(path)
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			return stats, fmt.Errorf("failed to remove %s: %w", path, err)
		}

		stats.FilesRemoved++
		stats.BytesFreed += info.Size()
		mod := info.ModTime()
		if stats.OldestRemoved.IsZero() || mod.Before(stats.OldestRemoved) {
			stats.OldestRemoved = mod
		}
		if mod.After(stats.NewestRemoved) {
			stats.NewestRemoved = mod
		}
	}
	return stats, nil
}
