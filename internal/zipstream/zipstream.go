// Package zipstream writes a directory tree as a ZIP archive straight into a
// writer. The archive is produced by one goroutine and drained by the caller
// through a pipe; nothing is staged on disk.
package zipstream

import (
	"archive/zip"
	"bufio"
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/pkg/errors"
)

// BufferSize is how much compressed output the producer may get ahead of the
// consumer.
const BufferSize = 256 << 10

const copyBufSize = 1024 * 1024

// Stats describes a finished archive.
type Stats struct {
	Files int
	Bytes int64 // uncompressed
}

// Write archives dir into w. Entry names are relative to the parent of dir,
// so the directory's own name is the top folder of the archive. A symlinked
// dir is followed; links below it are not. The first
// walk, read or write error aborts the archive; whatever was already written
// to w stays there.
func Write(ctx context.Context, dir string, w io.Writer) (Stats, error) {
	dir = filepath.Clean(dir)
	pr, pw := io.Pipe()

	type result struct {
		stats Stats
		err   error
	}
	done := make(chan result, 1)
	go func() {
		st, err := produce(ctx, dir, pw)
		_ = pw.CloseWithError(err)
		done <- result{st, err}
	}()

	_, cerr := io.CopyBuffer(w, pr, make([]byte, 32<<10))
	if cerr != nil {
		// Unblock the producer; its next write fails.
		_ = pr.CloseWithError(cerr)
	}
	res := <-done
	if res.err != nil {
		return res.stats, res.err
	}
	if cerr != nil {
		return res.stats, errors.Wrap(cerr, "send archive")
	}
	return res.stats, nil
}

func produce(ctx context.Context, dir string, out io.Writer) (Stats, error) {
	var st Stats
	bw := bufio.NewWriterSize(out, BufferSize)
	zw := zip.NewWriter(bw)
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, flate.DefaultCompression)
	})

	root, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return st, errors.Wrapf(err, "zip %s", filepath.Base(dir))
	}
	top := filepath.Base(dir)
	buf := make([]byte, copyBufSize)
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.Join(top, rel)
		info, err := d.Info()
		if err != nil {
			return err
		}
		h, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		h.Name = entryName(rel)
		h.Method = zip.Deflate
		ew, err := zw.CreateHeader(h)
		if err != nil {
			return err
		}
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		n, err := io.CopyBuffer(ew, f, buf)
		_ = f.Close()
		if err != nil {
			return errors.Wrapf(err, "add %s", rel)
		}
		st.Files++
		st.Bytes += n
		return nil
	})
	if err != nil {
		return st, errors.Wrapf(err, "zip %s", filepath.Base(dir))
	}
	if err := zw.Close(); err != nil {
		return st, errors.Wrap(err, "finish archive")
	}
	if err := bw.Flush(); err != nil {
		return st, errors.Wrap(err, "flush archive")
	}
	return st, nil
}

// entryName turns a relative OS path into a ZIP entry name.
func entryName(rel string) string {
	return strings.TrimLeft(filepath.ToSlash(rel), "/")
}

// ArchiveName is the attachment name for dir.
func ArchiveName(dir string) string {
	name := filepath.Base(filepath.Clean(dir))
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = "archive"
	}
	return name + ".zip"
}
