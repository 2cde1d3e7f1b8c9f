package httpserver

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"net/http"
	"os"
	"path/filepath"
	"testing"
)

// pngHeader returns a PNG signature and IHDR chunk declaring w x h grayscale
// pixels, with no image data behind it.
func pngHeader(w, h uint32) []byte {
	var b bytes.Buffer
	b.WriteString("\x89PNG\r\n\x1a\n")
	data := make([]byte, 13)
	binary.BigEndian.PutUint32(data[0:4], w)
	binary.BigEndian.PutUint32(data[4:8], h)
	data[8] = 8 // bit depth
	chunk := append([]byte("IHDR"), data...)
	_ = binary.Write(&b, binary.BigEndian, uint32(len(data)))
	b.Write(chunk)
	_ = binary.Write(&b, binary.BigEndian, crc32.ChecksumIEEE(chunk))
	return b.Bytes()
}

func TestMakeThumbRejectsHugeDimensions(t *testing.T) {
	p := filepath.Join(t.TempDir(), "bomb.png")
	if err := os.WriteFile(p, pngHeader(50000, 50000), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := makeThumb(p, 160); err != errThumbTooLarge {
		t.Fatalf("makeThumb = %v, want errThumbTooLarge", err)
	}
}

func TestThumbHugeDimensionsNotFound(t *testing.T) {
	f := newFixture(t)
	p := f.write(t, "bomb.png", string(pngHeader(60000, 40000)))
	if rr := f.do(t, http.MethodGet, "/thumb?path="+q(p), nil, nil); rr.Code != http.StatusNotFound {
		t.Fatalf("thumb of oversized image: %d", rr.Code)
	}
}

func TestThumbSize(t *testing.T) {
	tests := []struct {
		w, h, edge   int
		wantW, wantH int
	}{
		{400, 200, 160, 160, 80},
		{200, 400, 160, 80, 160},
		{100, 50, 160, 100, 50},
		{1000, 1, 160, 160, 1},
		{320, 320, 0, 160, 160},
	}
	for _, tc := range tests {
		w, h := thumbSize(tc.w, tc.h, tc.edge)
		if w != tc.wantW || h != tc.wantH {
			t.Errorf("thumbSize(%d, %d, %d) = %dx%d, want %dx%d", tc.w, tc.h, tc.edge, w, h, tc.wantW, tc.wantH)
		}
	}
}
