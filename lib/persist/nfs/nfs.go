// Package nfs implements the file system backend. Each value is one file
// below a base directory, named by the hex encoded key. The file system is
// an afero.Fs so a mounted network share, the local disk and an in-memory
// file system are interchangeable.
package nfs

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/ValentinKolb/ckv/lib/persist"
	"github.com/spf13/afero"
)

type Backend struct {
	fs  afero.Fs
	dir string
}

// New returns a backend rooted at dir on fs. The directory is created.
func New(fs afero.Fs, dir string) (*Backend, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("nfs: create %s: %w", dir, err)
	}
	return &Backend{fs: fs, dir: dir}, nil
}

// NewOS returns a backend on the operating system file system.
func NewOS(dir string) (*Backend, error) { return New(afero.NewOsFs(), dir) }

func (b *Backend) Name() string { return "nfs" }

func (b *Backend) file(d persist.Descriptor) string {
	return path.Join(b.dir, hex.EncodeToString([]byte(d.Key())))
}

func (b *Backend) Load(d persist.Descriptor, length int) ([]byte, error) {
	if length > d.Max() || length <= 0 {
		length = d.Max()
	}
	f, err := b.fs.Open(b.file(d))
	if err != nil {
		return nil, fmt.Errorf("nfs: load %q: %w", d.Key(), err)
	}
	defer f.Close()

	buf := make([]byte, length)
	if _, err := io.ReadFull(f, buf); err != nil {
		return nil, fmt.Errorf("nfs: load %q: %w", d.Key(), err)
	}
	return buf, nil
}

func (b *Backend) Store(d persist.Descriptor) error {
	mem := d.Mem()
	if mem == nil || len(mem) != d.Max() {
		return fmt.Errorf("nfs: store %q: value not fully in memory", d.Key())
	}
	name := b.file(d)
	tmp := name + ".tmp"
	if err := afero.WriteFile(b.fs, tmp, mem, 0o644); err != nil {
		return fmt.Errorf("nfs: store %q: %w", d.Key(), err)
	}
	if err := b.fs.Rename(tmp, name); err != nil {
		return fmt.Errorf("nfs: store %q: %w", d.Key(), err)
	}
	return nil
}

func (b *Backend) Delete(d persist.Descriptor) error {
	err := b.fs.Remove(b.file(d))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("nfs: delete %q: %w", d.Key(), err)
	}
	return nil
}
