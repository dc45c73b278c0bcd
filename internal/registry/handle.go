package registry

import (
	"context"
	"fmt"
	"io"
	"os"

	"perfd/pkg/types"
)

// Handle is a model file held in memory.
type Handle struct {
	Model types.Model
	Data  []byte
}

// Release drops the in-memory bytes. It is the cache's release hook.
func (h *Handle) Release() {
	if h != nil {
		h.Data = nil
	}
}

// Loader returns a cache loader that reads m from disk. The read checks ctx
// between chunks so a cancelled request stops early.
func Loader(m types.Model) func(ctx context.Context) (*Handle, error) {
	return func(ctx context.Context) (*Handle, error) {
		f, err := os.Open(m.Path)
		if err != nil {
			return nil, fmt.Errorf("open model %s: %w", m.ID, err)
		}
		defer f.Close()
		data := make([]byte, 0, m.SizeBytes)
		buf := make([]byte, 1<<20)
		for {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			n, err := f.Read(buf)
			data = append(data, buf[:n]...)
			if err == io.EOF {
				break
			}
			if err != nil {
				return nil, fmt.Errorf("read model %s: %w", m.ID, err)
			}
		}
		return &Handle{Model: m, Data: data}, nil
	}
}
