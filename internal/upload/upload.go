package upload

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"santhushare/internal/fsutil"
	"santhushare/internal/multipart"
	"santhushare/internal/session"
)

// FieldName is the form field carrying uploaded files.
const FieldName = "file"

// copyBufSize is the chunk size for streaming part content to disk.
const copyBufSize = 1024 * 1024

// RootResolver returns the directory uploads go to. It is asked at most once
// per request.
type RootResolver interface {
	Resolve() (string, error)
}

// Pipeline writes the files of a multipart upload into the upload root:
//
//	POST /  (multipart/form-data, field "file", repeatable)
//
// Each file lands in <root>/<base name>. Content goes to a temp file in the
// same directory first and is renamed into place, so concurrent uploads of the
// same name replace each other whole.
type Pipeline struct {
	Roots   RootResolver
	Session *session.Session
	Decoder *multipart.Decoder
	Logger  *log.Logger
}

// Receive decodes body and writes every file part. It returns the base names
// written, in body order. The first write failure stops the request; files
// written before it stay on disk.
func (p *Pipeline) Receive(ctx context.Context, body io.Reader, contentType string) ([]string, error) {
	dec := p.Decoder
	if dec == nil {
		dec = &multipart.Decoder{Logger: p.Logger}
	}
	form := dec.Decode(body, contentType)
	defer func() {
		if err := form.RemoveAll(); err != nil {
			p.logf("remove spooled parts: %v", err)
		}
	}()

	parts := form.Get(FieldName)
	total := len(parts)
	var progress *session.UploadProgress
	if p.Session != nil {
		progress = p.Session.BeginUpload()
		defer progress.Done()
	}
	report := func(v int) {
		if progress != nil {
			progress.Report(v)
		}
	}

	var (
		root    string
		written []string
	)
	for i, part := range parts {
		report(i * 50 / total)

		fp, ok := part.(*multipart.FilePart)
		if !ok || fp.Filename == "" {
			p.logf("skipping %q part %d without a file name", FieldName, i)
			continue
		}
		if err := ctx.Err(); err != nil {
			return written, err
		}
		if root == "" {
			r, err := p.Roots.Resolve()
			if err != nil {
				return written, errors.Wrap(err, "resolve upload dir")
			}
			root = r
		}
		dst, err := fsutil.JoinWithinRoot(root, fp.Filename)
		if err != nil {
			return written, err
		}
		n, err := writePart(dst, fp)
		if err != nil {
			p.logf("write %s failed: %v", dst, err)
			return written, err
		}
		p.logf("received %s (%d bytes)", dst, n)
		written = append(written, fp.Filename)

		report((i + 1) * 100 / total)
		if p.Session != nil {
			p.Session.Record(session.KindReceived, "File Received", fp.Filename)
			p.Session.Notify("New File Received", fp.Filename)
		}
	}
	return written, nil
}

// writePart streams fp into dst through a temp file next to it.
func writePart(dst string, fp *multipart.FilePart) (int64, error) {
	src, err := fp.Open()
	if err != nil {
		return 0, err
	}
	defer src.Close()

	tmp := filepath.Join(filepath.Dir(dst), ".santhushare-"+uuid.NewString()+".part")
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return 0, errors.Wrapf(err, "create %s", filepath.Base(dst))
	}
	n, err := copyChunks(f, src)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return 0, errors.Wrapf(err, "write %s", filepath.Base(dst))
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return 0, errors.Wrapf(err, "rename into %s", filepath.Base(dst))
	}
	return n, nil
}

func copyChunks(dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, copyBufSize)
	var n int64
	for {
		rn, rerr := src.Read(buf)
		if rn > 0 {
			wn, werr := dst.Write(buf[:rn])
			n += int64(wn)
			if werr != nil {
				return n, werr
			}
			if wn != rn {
				return n, io.ErrShortWrite
			}
		}
		if errors.Is(rerr, io.EOF) {
			return n, nil
		}
		if rerr != nil {
			return n, rerr
		}
	}
}

func (p *Pipeline) logf(format string, args ...any) {
	if p.Logger != nil {
		p.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}
