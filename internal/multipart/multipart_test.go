package multipart

import (
	"bytes"
	"io"
	stdmultipart "mime/multipart"
	"os"
	"strings"
	"testing"
	"time"
)

func readPart(t *testing.T, p Part) string {
	t.Helper()
	fp, ok := p.(*FilePart)
	if !ok {
		t.Fatalf("part %T is not a file", p)
	}
	rc, err := fp.Open()
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return string(b)
}

func TestBoundary(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"multipart/form-data; boundary=abc", "abc", true},
		{`multipart/form-data; boundary="a b c"`, "a b c", true},
		{"Multipart/Form-Data; boundary=xyz; charset=utf-8", "xyz", true},
		{"multipart/form-data", "", false},
		{"multipart/form-data; boundary=", "", false},
		{"application/json; boundary=abc", "", false},
		{"", "", false},
		{"multipart/form-data; boundary=" + strings.Repeat("b", 70), strings.Repeat("b", 70), true},
		{"multipart/form-data; boundary=" + strings.Repeat("b", 71), "", false},
	}
	for _, tc := range tests {
		got, ok := Boundary(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Errorf("Boundary(%q) = %q,%v want %q,%v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	var body bytes.Buffer
	mw := stdmultipart.NewWriter(&body)
	_ = mw.WriteField("note", "hello")
	fw, _ := mw.CreateFormFile("file", "a.txt")
	_, _ = fw.Write([]byte("alpha\r\n--not-a-boundary\r\n"))
	fw, _ = mw.CreateFormFile("file", "b.bin")
	_, _ = fw.Write([]byte{0, 1, 2, '\r', '\n'})
	_ = mw.Close()

	d := &Decoder{}
	form := d.Decode(&body, mw.FormDataContentType())
	defer form.RemoveAll()

	if v, ok := form.Value("note"); !ok || v != "hello" {
		t.Fatalf("note = %q,%v", v, ok)
	}
	files := form.Get("file")
	if len(files) != 2 {
		t.Fatalf("got %d file parts, want 2", len(files))
	}
	if fp := files[0].(*FilePart); fp.Filename != "a.txt" || fp.Size != int64(len("alpha\r\n--not-a-boundary\r\n")) {
		t.Fatalf("first part = %+v", fp)
	}
	if got := readPart(t, files[0]); got != "alpha\r\n--not-a-boundary\r\n" {
		t.Fatalf("content = %q", got)
	}
	if got := readPart(t, files[1]); got != "\x00\x01\x02\r\n" {
		t.Fatalf("binary content = %q", got)
	}
	if names := form.Names(); len(names) != 2 || names[0] != "note" || names[1] != "file" {
		t.Fatalf("Names = %v", names)
	}
}

func TestDecodeBareLF(t *testing.T) {
	body := "--B\n" +
		"Content-Disposition: form-data; name=\"file\"; filename=\"x.txt\"\n" +
		"\n" +
		"line1\nline2\n" +
		"--B--\n"
	form := (&Decoder{}).Decode(strings.NewReader(body), "multipart/form-data; boundary=B")
	files := form.Get("file")
	if len(files) != 1 {
		t.Fatalf("got %d parts", len(files))
	}
	if got := readPart(t, files[0]); got != "line1\nline2" {
		t.Fatalf("content = %q", got)
	}
}

func TestDecodeHandWritten(t *testing.T) {
	body := "preamble to ignore\r\n" +
		"--XyZ\r\n" +
		"content-disposition: form-data; name=\"file\"; filename=\"C:\\Users\\me\\doc.pdf\"\r\n" +
		"Content-Type: application/pdf\r\n" +
		"\r\n" +
		"%PDF\r\n" +
		"--XyZ\r\n" +
		"Content-Disposition: form-data; name=\"file\"; filename=\"\"\r\n" +
		"\r\n" +
		"\r\n" +
		"--XyZ\r\n" +
		"Content-Disposition: form-data\r\n" +
		"\r\n" +
		"nameless\r\n" +
		"--XyZ\r\n" +
		"Content-Disposition: form-data; name=\"file\"; filename=\"../../evil.sh\"\r\n" +
		"\r\n" +
		"echo\r\n" +
		"--XyZ--\r\n" +
		"epilogue"
	form := (&Decoder{}).Decode(strings.NewReader(body), `multipart/form-data; boundary="XyZ"`)
	parts := form.Get("file")
	if len(parts) != 3 {
		t.Fatalf("got %d parts, want 3", len(parts))
	}
	fp := parts[0].(*FilePart)
	if fp.Filename != "doc.pdf" || fp.ContentType != "application/pdf" {
		t.Fatalf("first part = %+v", fp)
	}
	if got := readPart(t, fp); got != "%PDF" {
		t.Fatalf("content = %q", got)
	}
	if v, ok := parts[1].(*ValuePart); !ok || v.Text != "" {
		t.Fatalf("empty filename should decode as a value, got %#v", parts[1])
	}
	if fp := parts[2].(*FilePart); fp.Filename != "evil.sh" {
		t.Fatalf("traversal not stripped: %q", fp.Filename)
	}
	if form.Len() != 1 {
		t.Fatalf("nameless part should be skipped, fields = %v", form.Names())
	}
}

func TestDecodeMalformed(t *testing.T) {
	for _, ct := range []string{"", "text/plain", "multipart/form-data"} {
		form := (&Decoder{}).Decode(strings.NewReader("--B\r\n\r\n"), ct)
		if form.Len() != 0 {
			t.Errorf("content type %q produced fields %v", ct, form.Names())
		}
	}
	form := (&Decoder{}).Decode(strings.NewReader("no delimiters at all"), "multipart/form-data; boundary=B")
	if form.Len() != 0 {
		t.Fatalf("garbage body produced fields %v", form.Names())
	}
}

func TestDecodeLargePartSpills(t *testing.T) {
	content := bytes.Repeat([]byte("0123456789abcdef"), 3*bufSize/16+7)
	var body bytes.Buffer
	mw := stdmultipart.NewWriter(&body)
	fw, _ := mw.CreateFormFile("file", "big.dat")
	_, _ = fw.Write(content)
	fw, _ = mw.CreateFormFile("file", "small.txt")
	_, _ = fw.Write([]byte("tiny"))
	_ = mw.Close()

	d := &Decoder{MaxMemory: 1024, TempDir: t.TempDir()}
	form := d.Decode(&body, mw.FormDataContentType())
	parts := form.Get("file")
	if len(parts) != 2 {
		t.Fatalf("got %d parts", len(parts))
	}
	big := parts[0].(*FilePart)
	if big.tmpFile == "" {
		t.Fatalf("large part was not spilled")
	}
	if big.Size != int64(len(content)) {
		t.Fatalf("size = %d, want %d", big.Size, len(content))
	}
	if got := readPart(t, big); got != string(content) {
		t.Fatalf("spilled content mismatch")
	}
	if got := readPart(t, parts[1]); got != "tiny" {
		t.Fatalf("small = %q", got)
	}
	if err := form.RemoveAll(); err != nil {
		t.Fatalf("RemoveAll: %v", err)
	}
	if _, err := os.Stat(big.tmpFile); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind: %v", err)
	}
}

// oneByteReader forces the scanner to see the delimiter split across reads.
type oneByteReader struct{ r io.Reader }

func (o oneByteReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	return o.r.Read(p[:1])
}

func TestReaderSmallReads(t *testing.T) {
	var body bytes.Buffer
	mw := stdmultipart.NewWriter(&body)
	fw, _ := mw.CreateFormFile("file", "a.txt")
	_, _ = fw.Write([]byte("abc\r\n-"))
	_ = mw.Close()

	r := NewReader(oneByteReader{&body}, mw.Boundary())
	p, err := r.NextPart()
	if err != nil {
		t.Fatalf("NextPart: %v", err)
	}
	if p.FormName() != "file" {
		t.Fatalf("FormName = %q", p.FormName())
	}
	if fn, ok := p.FileName(); !ok || fn != "a.txt" {
		t.Fatalf("FileName = %q,%v", fn, ok)
	}
	buf := make([]byte, 2)
	var got []byte
	for {
		n, err := p.Read(buf)
		got = append(got, buf[:n]...)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
	}
	if string(got) != "abc\r\n-" {
		t.Fatalf("content = %q", got)
	}
	if _, err := r.NextPart(); err != io.EOF {
		t.Fatalf("NextPart after last = %v, want EOF", err)
	}
}

func TestOversizedBoundary(t *testing.T) {
	long := strings.Repeat("x", bufSize+10)
	body := bytes.Repeat([]byte("a"), 2*bufSize)

	done := make(chan *Form, 1)
	go func() {
		done <- (&Decoder{}).Decode(bytes.NewReader(body), "multipart/form-data; boundary="+long)
	}()
	select {
	case form := <-done:
		if form.Len() != 0 {
			t.Fatalf("fields = %v, want none", form.Names())
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("Decode did not return with a %d-byte boundary", len(long))
	}

	r := NewReader(bytes.NewReader(body), long)
	if _, err := r.NextPart(); err != ErrBadBoundary {
		t.Fatalf("NextPart = %v, want ErrBadBoundary", err)
	}
}
