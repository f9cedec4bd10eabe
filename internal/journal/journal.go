// Package journal is an append-only, rotating JSON-lines record of alert
// notifications, readable back with Replay.
package journal

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/yairfalse/driftwatch/types"
)

// DefaultPrefix names journal files "<prefix>-<timestamp>.jsonl".
const DefaultPrefix = "driftwatch"

// Entry is one journal line.
type Entry struct {
	Timestamp time.Time   `json:"timestamp"`
	Sequence  int64       `json:"sequence"`
	Event     string      `json:"event"`
	Alert     types.Alert `json:"alert"`
}

// Config holds journal settings.
type Config struct {
	Dir        string
	FilePrefix string
	// MaxFileBytes rotates to a new file once the current one reaches it. Zero never rotates.
	MaxFileBytes int64
	// RetentionDays is used by Cleanup. Zero keeps everything.
	RetentionDays int
	Now           func() time.Time
}

// Journal appends entries to the newest file in Dir.
type Journal struct {
	mu       sync.Mutex
	config   Config
	file     *os.File
	writer   *bufio.Writer
	size     int64
	sequence int64
}

// Open creates Dir if needed and resumes numbering after the last entry
// already on disk.
func Open(config Config) (*Journal, error) {
	if config.Dir == "" {
		return nil, errors.New("journal directory is required")
	}
	if config.FilePrefix == "" {
		config.FilePrefix = DefaultPrefix
	}
	if config.Now == nil {
		config.Now = func() time.Time { return time.Now().UTC() }
	}
	if err := os.MkdirAll(config.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	j := &Journal{config: config}
	files := Files(config.Dir, config.FilePrefix)
	if len(files) > 0 {
		j.sequence = lastSequence(files[len(files)-1])
	}
	if err := j.openFile(); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *Journal) openFile() error {
	name := fmt.Sprintf("%s-%s.jsonl", j.config.FilePrefix, j.config.Now().Format("20060102-150405.000000000"))
	path := filepath.Join(j.config.Dir, name)

	file, err := os.OpenFile(filepath.Clean(path), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open journal file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return fmt.Errorf("failed to stat journal file: %w", err)
	}

	j.file = file
	j.writer = bufio.NewWriter(file)
	j.size = info.Size()
	return nil
}

// Append writes one entry and syncs it to disk.
func (j *Journal) Append(event string, alert types.Alert) (Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		return Entry{}, errors.New("journal is closed")
	}
	if j.config.MaxFileBytes > 0 && j.size >= j.config.MaxFileBytes {
		if err := j.rotate(); err != nil {
			return Entry{}, err
		}
	}

	entry := Entry{
		Timestamp: j.config.Now(),
		Sequence:  j.sequence + 1,
		Event:     event,
		Alert:     alert,
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to marshal entry: %w", err)
	}
	line = append(line, '\n')

	if _, err := j.writer.Write(line); err != nil {
		return Entry{}, fmt.Errorf("failed to write entry: %w", err)
	}
	if err := j.writer.Flush(); err != nil {
		return Entry{}, fmt.Errorf("failed to flush: %w", err)
	}
	if err := j.file.Sync(); err != nil {
		return Entry{}, fmt.Errorf("failed to sync: %w", err)
	}

	j.sequence = entry.Sequence
	j.size += int64(len(line))
	return entry, nil
}

// Rotate closes the current file and starts a new one.
func (j *Journal) Rotate() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.rotate()
}

func (j *Journal) rotate() error {
	if err := j.closeFile(); err != nil {
		return err
	}
	return j.openFile()
}

// Close flushes and closes the current file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.closeFile()
}

func (j *Journal) closeFile() error {
	if j.file == nil {
		return nil
	}
	err := errors.Join(j.writer.Flush(), j.file.Close())
	j.file = nil
	j.writer = nil
	return err
}

// Files lists journal files in dir, oldest first.
func Files(dir, prefix string) []string {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	files, err := filepath.Glob(filepath.Join(dir, prefix+"-*.jsonl"))
	if err != nil {
		return nil
	}
	// The timestamp in the name sorts lexically.
	slices.Sort(files)
	return files
}

// lastSequence returns the sequence of the final complete entry in path.
func lastSequence(path string) int64 {
	var last int64
	_ = readFile(path, func(e Entry) error {
		last = e.Sequence
		return nil
	})
	return last
}

// Replay calls fn for every entry in dir with a timestamp after since, in
// write order. A torn final line is skipped.
func Replay(dir, prefix string, since time.Time, fn func(Entry) error) error {
	for _, path := range Files(dir, prefix) {
		err := readFile(path, func(e Entry) error {
			if !e.Timestamp.After(since) {
				return nil
			}
			return fn(e)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func readFile(path string, fn func(Entry) error) error {
	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("failed to open journal file: %w", err)
	}
	defer func() { _ = file.Close() }()

	reader := bufio.NewReader(file)
	for {
		line, err := reader.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			// No trailing newline means the write was interrupted.
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}

		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			return fmt.Errorf("corrupt entry in %s: %w", path, err)
		}
		if err := fn(entry); err != nil {
			return err
		}
	}
}
