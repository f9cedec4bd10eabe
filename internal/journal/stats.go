package journal

import "os"

// Stats describes the journal on disk.
type Stats struct {
	TotalFiles      int
	TotalSizeBytes  int64
	CurrentFileSize int64
	LastSequence    int64
}

// Stats returns file and sequence statistics.
func (j *Journal) Stats() Stats {
	j.mu.Lock()
	defer j.mu.Unlock()

	stats := Stats{
		LastSequence:    j.sequence,
		CurrentFileSize: j.size,
	}
	for _, path := range Files(j.config.Dir, j.config.FilePrefix) {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		stats.TotalFiles++
		stats.TotalSizeBytes += info.Size()
	}
	return stats
}
