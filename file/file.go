// Package file reads records from the files under a root directory, through
// an afero filesystem so tests and exotic mounts plug in transparently.
package file

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/fogfactory/flume"
)

// Driver yields one []byte item per file under root, in lexical walk order,
// or one item per line with Lines. Restartable.
type Driver struct {
	fs    afero.Fs
	root  string
	lines bool
}

// Option tunes the driver.
type Option func(*Driver)

// WithFs substitutes the filesystem, e.g. afero.NewMemMapFs in tests.
func WithFs(fsys afero.Fs) Option { return func(d *Driver) { d.fs = fsys } }

// Lines yields one item per line instead of one item per file, the shape of
// jsonl-style record streams.
func Lines() Option { return func(d *Driver) { d.lines = true } }

// New builds a driver over the files under root, on the OS filesystem by
// default.
func New(root string, opts ...Option) *Driver {
	d := &Driver{fs: afero.NewOsFs(), root: root}
	for _, o := range opts {
		o(d)
	}
	return d
}

func (d *Driver) Restartable() bool { return true }

// Open lists the files under root eagerly (cheap, names only) and reads
// contents lazily. A missing or unreadable root means the backend is not
// there.
func (d *Driver) Open(ctx context.Context) (flume.Iterator[[]byte], error) {
	ok, err := afero.DirExists(d.fs, d.root)
	if err != nil || !ok {
		return nil, errors.Wrapf(flume.ErrUnavailable, "root %q", d.root)
	}
	var paths []string
	err = afero.Walk(d.fs, d.root, func(path string, info os.FileInfo, werr error) error {
		if werr != nil {
			return werr
		}
		if !info.IsDir() {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(flume.ErrUnavailable, "walk %q: %v", d.root, err)
	}
	return &iterator{ctx: ctx, fs: d.fs, paths: paths, lines: d.lines}, nil
}

type iterator struct {
	ctx     context.Context
	fs      afero.Fs
	paths   []string
	pos     int
	lines   bool
	cur     afero.File
	rd      *bufio.Reader
	curPath string
}

func (it *iterator) Next() ([]byte, error) {
	for {
		if err := it.ctx.Err(); err != nil {
			return nil, err
		}
		if it.rd != nil {
			line, err := it.rd.ReadBytes('\n')
			if err == nil {
				return bytes.TrimSuffix(line, []byte("\n")), nil
			}
			_ = it.cur.Close()
			it.cur, it.rd = nil, nil
			if errors.Is(err, io.EOF) {
				if len(line) > 0 {
					return line, nil
				}
				continue
			}
			// bad file, resumable: the next pull moves on
			return nil, errors.Wrapf(flume.ErrCorrupt, "read %s: %v", it.curPath, err)
		}
		if it.pos >= len(it.paths) {
			return nil, io.EOF
		}
		path := it.paths[it.pos]
		it.pos++
		if !it.lines {
			data, err := afero.ReadFile(it.fs, path)
			if err != nil {
				return nil, errors.Wrapf(flume.ErrCorrupt, "read %s: %v", path, err)
			}
			return data, nil
		}
		f, err := it.fs.Open(path)
		if err != nil {
			return nil, errors.Wrapf(flume.ErrCorrupt, "open %s: %v", path, err)
		}
		it.cur, it.rd, it.curPath = f, bufio.NewReader(f), path
	}
}

func (it *iterator) Close() error {
	it.pos = len(it.paths)
	if it.cur != nil {
		err := it.cur.Close()
		it.cur, it.rd = nil, nil
		return err
	}
	return nil
}

// Register adds the "file" backend to a registry. Config keys: "root"
// (string, required), "lines" (bool).
func Register(r *flume.Registry) error {
	return r.Register("file", func(cfg flume.Config) (flume.Driver[any], error) {
		root, _ := cfg["root"].(string)
		if root == "" {
			return nil, errors.Wrap(flume.ErrConfig, "file driver needs a root")
		}
		var opts []Option
		if l, _ := cfg["lines"].(bool); l {
			opts = append(opts, Lines())
		}
		return flume.Erase[[]byte](New(root, opts...)), nil
	})
}
