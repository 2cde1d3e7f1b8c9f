package multipart

import (
	"bytes"
	"io"
	"log"
	"os"

	"github.com/pkg/errors"

	"santhushare/internal/fsutil"
)

// Part is one decoded field: either a *FilePart or a *ValuePart.
type Part interface {
	FieldName() string
	isPart()
}

// FilePart is a field that carried a non-empty filename attribute. Filename
// is already reduced to a base name and may be empty when nothing usable was
// left (e.g. filename="../").
type FilePart struct {
	Name        string
	Filename    string
	ContentType string
	Size        int64

	mem     []byte
	tmpFile string
}

// ValuePart is a plain form value, decoded as UTF-8 with invalid bytes
// replaced.
type ValuePart struct {
	Name string
	Text string
}

func (p *FilePart) FieldName() string  { return p.Name }
func (p *ValuePart) FieldName() string { return p.Name }
func (*FilePart) isPart()              {}
func (*ValuePart) isPart()             {}

// Open returns the part content.
func (p *FilePart) Open() (io.ReadCloser, error) {
	if p.tmpFile != "" {
		f, err := os.Open(p.tmpFile)
		if err != nil {
			return nil, errors.Wrap(err, "open spooled part")
		}
		return f, nil
	}
	return io.NopCloser(bytes.NewReader(p.mem)), nil
}

// Form maps field names to their parts in body order.
type Form struct {
	fields map[string][]Part
	order  []string
	tmp    []string
}

func newForm() *Form {
	return &Form{fields: map[string][]Part{}}
}

// Get returns every part sent under name, in order.
func (f *Form) Get(name string) []Part {
	return f.fields[name]
}

// Names returns field names in order of first appearance.
func (f *Form) Names() []string {
	return append([]string(nil), f.order...)
}

// Len is the number of distinct field names.
func (f *Form) Len() int { return len(f.order) }

// Value returns the first value part under name.
func (f *Form) Value(name string) (string, bool) {
	for _, p := range f.fields[name] {
		if v, ok := p.(*ValuePart); ok {
			return v.Text, true
		}
	}
	return "", false
}

// RemoveAll deletes temp files backing spooled file parts.
func (f *Form) RemoveAll() error {
	var first error
	for _, name := range f.tmp {
		if err := os.Remove(name); err != nil && !os.IsNotExist(err) && first == nil {
			first = err
		}
	}
	f.tmp = nil
	return first
}

func (f *Form) add(p Part) {
	name := p.FieldName()
	if _, ok := f.fields[name]; !ok {
		f.order = append(f.order, name)
	}
	f.fields[name] = append(f.fields[name], p)
}

// Decoder materializes a multipart body into a Form.
type Decoder struct {
	// MaxMemory is the in-memory budget for file content across the whole
	// body; the rest spills to temp files. Zero means DefaultMaxMemory.
	MaxMemory int64
	// TempDir holds spilled parts. Empty means os.TempDir().
	TempDir string
	Logger  *log.Logger
}

const DefaultMaxMemory = 32 << 20

// copyBufSize is the chunk size used when spilling parts to disk.
const copyBufSize = 1 << 20

// Decode parses body according to contentType. It never fails: a missing or
// malformed header, a missing boundary or a broken stream yields an empty
// Form, and a field that cannot be decoded is skipped. Callers must call
// RemoveAll when done.
func (d *Decoder) Decode(body io.Reader, contentType string) *Form {
	form := newForm()
	boundary, ok := Boundary(contentType)
	if !ok {
		d.logf("no multipart boundary in %q", contentType)
		return form
	}
	budget := d.MaxMemory
	if budget <= 0 {
		budget = DefaultMaxMemory
	}
	mr := NewReader(body, boundary)
	for {
		raw, err := mr.NextPart()
		if err == io.EOF {
			return form
		}
		if err != nil {
			d.logf("multipart decode failed: %v", err)
			_ = form.RemoveAll()
			return newForm()
		}
		name := raw.FormName()
		if name == "" {
			continue
		}
		part, err := d.decodePart(raw, name, &budget, form)
		if err != nil {
			d.logf("skipping field %q: %v", name, err)
			continue
		}
		form.add(part)
	}
}

func (d *Decoder) decodePart(raw *RawPart, name string, budget *int64, form *Form) (Part, error) {
	filename, has := raw.FileName()
	if !has || filename == "" {
		b, err := io.ReadAll(raw)
		if err != nil {
			return nil, err
		}
		return &ValuePart{Name: name, Text: toValidUTF8(b)}, nil
	}

	fp := &FilePart{
		Name:        name,
		Filename:    fsutil.BaseName(filename),
		ContentType: raw.Header.Get("Content-Type"),
	}
	var buf bytes.Buffer
	n, err := io.CopyN(&buf, raw, *budget+1)
	if err != nil && err != io.EOF {
		return nil, err
	}
	if n <= *budget {
		*budget -= n
		fp.mem = buf.Bytes()
		fp.Size = n
		return fp, nil
	}

	// Over budget: spill what we have plus the rest of the part.
	tmp, err := os.CreateTemp(d.TempDir, "santhushare-part-*")
	if err != nil {
		return nil, errors.Wrap(err, "create spool file")
	}
	form.tmp = append(form.tmp, tmp.Name())
	size, err := io.CopyBuffer(tmp, io.MultiReader(&buf, raw), make([]byte, copyBufSize))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, errors.Wrap(err, "spool part")
	}
	*budget = 0
	fp.tmpFile = tmp.Name()
	fp.Size = size
	return fp, nil
}

func (d *Decoder) logf(format string, args ...any) {
	if d.Logger != nil {
		d.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}
