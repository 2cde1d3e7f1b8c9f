// Package multipart decodes multipart/form-data bodies without relying on
// net/http's form parsing. Reader scans the boundary-delimited stream and
// hands out parts lazily; Decoder builds a Form on top of it.
package multipart

import (
	"bufio"
	"bytes"
	"io"
	"net/textproto"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"
)

// bufSize bounds the scan window. It must be much larger than the longest
// delimiter (RFC 2046 caps boundaries at 70 bytes).
const bufSize = 64 << 10

// maxBoundaryLen is the RFC 2046 limit on the boundary token.
const maxBoundaryLen = 70

// maxHeaderBytes caps the header block of a single part.
const maxHeaderBytes = 16 << 10

var (
	ErrHeaderTooLarge = errors.New("multipart: part header too large")
	ErrLineTooLong    = errors.New("multipart: delimiter line too long")
	ErrBadBoundary    = errors.New("multipart: invalid boundary")
)

var boundaryRE = regexp.MustCompile(`boundary=([^;]+)`)

// Boundary extracts the boundary token from a Content-Type value. The token
// may be quoted. ok is false when the header is not multipart/form-data or
// carries no boundary, or when the boundary is longer than 70 bytes.
func Boundary(contentType string) (string, bool) {
	if !strings.Contains(strings.ToLower(contentType), "multipart/form-data") {
		return "", false
	}
	m := boundaryRE.FindStringSubmatch(contentType)
	if m == nil {
		return "", false
	}
	b := strings.Trim(strings.TrimSpace(m[1]), `"`)
	if b == "" || len(b) > maxBoundaryLen {
		return "", false
	}
	return b, true
}

// Reader is a streaming scanner over a multipart body.
type Reader struct {
	br      *bufio.Reader
	dash    []byte // "--boundary"
	nlDash  []byte // "\n--boundary"
	cur     *RawPart
	started bool
	done    bool
	err     error
}

// NewReader returns a Reader splitting r on the given boundary. An empty
// boundary or one longer than 70 bytes makes NextPart fail with
// ErrBadBoundary.
func NewReader(r io.Reader, boundary string) *Reader {
	dash := []byte("--" + boundary)
	rd := &Reader{
		br:     bufio.NewReaderSize(r, bufSize),
		dash:   dash,
		nlDash: append([]byte{'\n'}, dash...),
	}
	if boundary == "" || len(boundary) > maxBoundaryLen {
		rd.err = ErrBadBoundary
	}
	return rd
}

// RawPart is one section of the body. Its content is read directly from the
// underlying stream and ends at the next delimiter.
type RawPart struct {
	Header textproto.MIMEHeader

	r   *Reader
	eof bool
}

// NextPart skips whatever is left of the current part and returns the next
// one. It returns io.EOF after the closing delimiter or at the end of input.
// Sections without a blank line between header and content are skipped.
func (r *Reader) NextPart() (*RawPart, error) {
	if r.err != nil {
		return nil, r.err
	}
	if r.cur != nil {
		if _, err := io.Copy(io.Discard, r.cur); err != nil {
			r.done = true
			return nil, err
		}
		r.cur = nil
	}
	if r.done {
		return nil, io.EOF
	}
	if !r.started {
		r.started = true
		if err := r.skipPreamble(); err != nil {
			r.done = true
			return nil, err
		}
	}
	for {
		// Positioned at "--boundary".
		line, err := r.readLine()
		if err != nil && err != io.EOF {
			r.done = true
			return nil, err
		}
		rest := bytes.TrimLeft(line, "\r\n")
		if !bytes.HasPrefix(rest, r.dash) || bytes.HasPrefix(rest[len(r.dash):], []byte("--")) || err == io.EOF {
			r.done = true
			return nil, io.EOF
		}
		hdr, ok, err := r.readHeader()
		if err != nil {
			r.done = true
			if err == io.EOF {
				return nil, io.EOF
			}
			return nil, err
		}
		if !ok {
			continue
		}
		r.cur = &RawPart{Header: hdr, r: r}
		return r.cur, nil
	}
}

// skipPreamble discards input up to the first "--boundary".
func (r *Reader) skipPreamble() error {
	for {
		buf, err := r.br.Peek(bufSize)
		if i := bytes.Index(buf, r.dash); i >= 0 {
			_, err := r.br.Discard(i)
			return err
		}
		if err != nil {
			if err == io.EOF {
				return io.EOF
			}
			return err
		}
		if _, err := r.br.Discard(len(buf) - len(r.dash) + 1); err != nil {
			return err
		}
	}
}

// readLine consumes one line including its terminator.
func (r *Reader) readLine() ([]byte, error) {
	line, err := r.br.ReadSlice('\n')
	if err == bufio.ErrBufferFull {
		return nil, ErrLineTooLong
	}
	return bytes.TrimRight(line, "\r\n"), err
}

// readHeader reads header lines up to the blank separator line. ok is false
// when the next delimiter shows up first; the delimiter is left unread.
func (r *Reader) readHeader() (textproto.MIMEHeader, bool, error) {
	hdr := textproto.MIMEHeader{}
	total := 0
	for {
		if peek, _ := r.br.Peek(len(r.dash)); bytes.Equal(peek, r.dash) {
			return nil, false, nil
		}
		line, err := r.readLine()
		if err != nil {
			return nil, false, err
		}
		total += len(line)
		if total > maxHeaderBytes {
			return nil, false, ErrHeaderTooLarge
		}
		if len(line) == 0 {
			return hdr, true, nil
		}
		s := toValidUTF8(line)
		k, v, found := strings.Cut(s, ":")
		if !found {
			continue
		}
		hdr.Add(strings.TrimSpace(k), strings.TrimSpace(v))
	}
}

// Read returns content bytes until the next delimiter. The line terminator
// preceding the delimiter is not part of the content.
func (p *RawPart) Read(b []byte) (int, error) {
	if p.eof {
		return 0, io.EOF
	}
	if len(b) == 0 {
		return 0, nil
	}
	r := p.r
	buf, perr := r.br.Peek(bufSize)
	if perr != nil && perr != io.EOF && len(buf) == 0 {
		return 0, perr
	}

	// mode 1: the delimiter is in the window.
	if i := bytes.Index(buf, r.nlDash); i >= 0 {
		end := i
		if end > 0 && buf[end-1] == '\r' {
			end--
		}
		n := copy(b, buf[:end])
		_, _ = r.br.Discard(n)
		if n == end {
			_, _ = r.br.Discard(i + 1 - end)
			p.eof = true
			if n == 0 {
				return 0, io.EOF
			}
		}
		return n, nil
	}

	if perr != nil {
		if perr != io.EOF {
			return 0, perr
		}
		// Input ended without a closing delimiter; keep what is left minus a
		// trailing line terminator.
		end := len(buf)
		if end > 0 && buf[end-1] == '\n' {
			end--
			if end > 0 && buf[end-1] == '\r' {
				end--
			}
		}
		n := copy(b, buf[:end])
		_, _ = r.br.Discard(n)
		if n == end {
			_, _ = r.br.Discard(len(buf) - end)
			p.eof = true
			r.done = true
			if n == 0 {
				return 0, io.EOF
			}
		}
		return n, nil
	}

	// mode 0/2: hold back a tail that could be the start of "\r\n--boundary".
	safe := len(buf) - len(r.nlDash)
	n := copy(b, buf[:safe])
	_, _ = r.br.Discard(n)
	return n, nil
}

// FormName returns the name parameter of Content-Disposition.
func (p *RawPart) FormName() string {
	name, _, _ := dispositionParams(p.Header.Get("Content-Disposition"))
	return name
}

// FileName returns the filename parameter of Content-Disposition and whether
// it was present at all.
func (p *RawPart) FileName() (string, bool) {
	_, fn, ok := dispositionParams(p.Header.Get("Content-Disposition"))
	return fn, ok
}

// dispositionParams scans `form-data; name="x"; filename="y"`. Values are
// taken literally, so backslashes in Windows paths survive.
func dispositionParams(v string) (name, filename string, hasFilename bool) {
	for _, seg := range splitParams(v) {
		k, val, found := strings.Cut(seg, "=")
		if !found {
			continue
		}
		k = strings.ToLower(strings.TrimSpace(k))
		val = strings.TrimSpace(val)
		if len(val) >= 2 && val[0] == '"' && val[len(val)-1] == '"' {
			val = val[1 : len(val)-1]
		}
		switch k {
		case "name":
			if name == "" {
				name = val
			}
		case "filename":
			filename, hasFilename = val, true
		}
	}
	return name, filename, hasFilename
}

// splitParams splits on ';' outside of double quotes.
func splitParams(v string) []string {
	var out []string
	inQuote := false
	start := 0
	for i := 0; i < len(v); i++ {
		switch v[i] {
		case '"':
			inQuote = !inQuote
		case ';':
			if !inQuote {
				out = append(out, v[start:i])
				start = i + 1
			}
		}
	}
	return append(out, v[start:])
}

func toValidUTF8(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	return strings.ToValidUTF8(string(b), "�")
}
