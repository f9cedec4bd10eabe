package storage

import (
	"context"
	"fmt"
)

var (
	_ Gateway = (*BoltStore)(nil)
	_ Gateway = (*SQLiteStore)(nil)
)

// Open returns the named backend, "bolt" or "sqlite", rooted at path.
func Open(ctx context.Context, backend, path string) (Gateway, error) {
	switch backend {
	case "", "bolt":
		s, err := NewBoltStore(path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "sqlite":
		s, err := NewSQLiteStore(ctx, path)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}
