package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/afero"

	"github.com/obentoo/plugsync/internal/common/atomicfile"
)

const maxIndexRetries = 5

// FileIndex keeps the update index in a JSON file.
// Writes check the revision read earlier and retry on conflict.
type FileIndex struct {
	fs         afero.Fs
	path       string
	mu         sync.Mutex
	newBackOff func() backoff.BackOff
}

// FileIndexOption is a functional option for configuring FileIndex
type FileIndexOption func(*FileIndex)

// WithBackOff sets the retry policy used on write conflicts
func WithBackOff(fn func() backoff.BackOff) FileIndexOption {
	return func(f *FileIndex) {
		f.newBackOff = fn
	}
}

// NewFileIndex returns an index stored at path.
func NewFileIndex(fs afero.Fs, path string, opts ...FileIndexOption) *FileIndex {
	f := &FileIndex{
		fs:   fs,
		path: path,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 20 * time.Millisecond
			b.MaxInterval = 500 * time.Millisecond
			b.MaxElapsedTime = 5 * time.Second
			return b
		},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Path returns the index file location.
func (f *FileIndex) Path() string {
	return f.path
}

// Load reads the index. It returns ErrIndexAbsent when the file does not exist.
func (f *FileIndex) Load(ctx context.Context) (*Index, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := afero.ReadFile(f.fs, f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrIndexAbsent
		}
		return nil, err
	}

	ix := &Index{}
	if err := json.Unmarshal(data, ix); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIndexCorrupted, err)
	}
	ix.init()
	return ix, nil
}

// Update applies fn to a fresh copy of the index and writes it back when fn
// reports a change. Conflicting writes are retried with exponential backoff.
func (f *FileIndex) Update(ctx context.Context, fn UpdateFunc) error {
	op := func() error {
		ix, err := f.Load(ctx)
		if err != nil {
			return backoff.Permanent(err)
		}

		readRevision := ix.Revision
		changed, err := fn(ix)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !changed {
			return nil
		}

		err = f.commit(ctx, ix, readRevision)
		if errors.Is(err, ErrIndexConflict) {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(f.newBackOff(), maxIndexRetries), ctx)
	return backoff.Retry(op, b)
}

// commit writes ix if the stored revision still matches readRevision
func (f *FileIndex) commit(ctx context.Context, ix *Index, readRevision int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	current, err := f.Load(ctx)
	if err != nil {
		return err
	}
	if current.Revision != readRevision {
		return ErrIndexConflict
	}

	ix.Revision = readRevision + 1
	return f.write(ix)
}

// Replace overwrites the whole index, creating it when absent. This is how
// the host publishes a fresh update check.
func (f *FileIndex) Replace(ctx context.Context, ix *Index) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	var revision int64
	if current, err := f.Load(ctx); err == nil {
		revision = current.Revision
	}

	out := ix.Clone()
	out.Revision = revision + 1
	if err := f.write(out); err != nil {
		return err
	}
	ix.Revision = out.Revision
	return nil
}

func (f *FileIndex) write(ix *Index) error {
	data, err := json.MarshalIndent(ix, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal update index: %w", err)
	}
	return atomicfile.WriteFile(f.fs, f.path, data, 0644)
}

// Close is a no-op for file-backed indexes.
func (f *FileIndex) Close() error {
	return nil
}
