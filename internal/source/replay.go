package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"catalog-ingest-service/internal/domain"
)

// Replay reads one captured product document per *.json file of a directory,
// in file name order.
type Replay struct {
	dir    string
	files  []string
	next   int
	listed bool
}

func NewReplay(dir string) *Replay {
	return &Replay{dir: dir}
}

// Pending lists the payload directory if needed and returns how many files
// are left to read.
func (r *Replay) Pending() (int, error) {
	if err := r.list(); err != nil {
		return 0, err
	}
	return len(r.files) - r.next, nil
}

func (r *Replay) Next(ctx context.Context) (*domain.RawProduct, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := r.list(); err != nil {
		return nil, err
	}
	if r.next >= len(r.files) {
		return nil, io.EOF
	}
	name := r.files[r.next]
	r.next++

	data, err := os.ReadFile(filepath.Join(r.dir, name))
	if err != nil {
		return nil, &SourceError{Ref: name, Err: err}
	}
	var raw domain.RawProduct
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &SourceError{Ref: name, Err: fmt.Errorf("decode payload: %w", err)}
	}
	return &raw, nil
}

func (r *Replay) list() error {
	if r.listed {
		return nil
	}
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("source: failed to list payload directory %s: %w", r.dir, err)
	}
	// os.ReadDir returns entries sorted by file name.
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		r.files = append(r.files, entry.Name())
	}
	r.listed = true
	return nil
}
