package httpserver

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	// decoders
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/pkg/errors"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"santhushare/internal/config"
)

// maxThumbSource skips decoding of very large files.
const maxThumbSource = 64 << 20

// maxThumbPixels caps the decoded size of a source image. Small compressed
// files can still declare huge dimensions.
const maxThumbPixels = 40 << 20

var errThumbTooLarge = errors.New("thumb: image dimensions too large")

// makeThumb renders absPath as a JPEG whose longest edge is at most edge.
func makeThumb(absPath string, edge int) ([]byte, error) {
	f, err := os.Open(absPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return nil, err
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, os.ErrInvalid
	}
	if int64(cfg.Width)*int64(cfg.Height) > maxThumbPixels {
		return nil, errThumbTooLarge
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	src, _, err := image.Decode(f)
	if err != nil {
		return nil, err
	}

	b := src.Bounds()
	nw, nh := thumbSize(b.Dx(), b.Dy(), edge)
	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)

	var out bytes.Buffer
	if err := jpeg.Encode(&out, dst, &jpeg.Options{Quality: 82}); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// thumbSize scales w x h down so the longer side fits edge, keeping the
// aspect ratio. Images already small enough keep their size.
func thumbSize(w, h, edge int) (int, int) {
	if edge <= 0 {
		edge = config.DefaultThumbSize
	}
	long := max(w, h)
	if long <= edge {
		return w, h
	}
	scale := float64(edge) / float64(long)
	return max(int(float64(w)*scale), 1), max(int(float64(h)*scale), 1)
}

func isImageExt(ext string) bool {
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp":
		return true
	default:
		return false
	}
}

// thumbCache keeps rendered thumbnails keyed by path, size and mtime.
type thumbCache struct {
	mu    sync.Mutex
	max   int
	items map[string][]byte
	order []string
}

func newThumbCache(max int) *thumbCache {
	return &thumbCache{max: max, items: map[string][]byte{}}
}

func (c *thumbCache) get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.items[key]
	return b, ok
}

func (c *thumbCache) put(key string, b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[key]; ok {
		return
	}
	if len(c.order) >= c.max {
		delete(c.items, c.order[0])
		c.order = c.order[1:]
	}
	c.items[key] = b
	c.order = append(c.order, key)
}

// handleThumb serves GET /thumb?path=<file> as a JPEG.
func (s *Server) handleThumb(w http.ResponseWriter, r *http.Request) {
	p, ok := s.pathParam(r)
	if !ok || !isImageExt(filepath.Ext(p)) {
		http.NotFound(w, r)
		return
	}
	st, err := os.Stat(p)
	if err != nil || !st.Mode().IsRegular() || st.Size() > maxThumbSource {
		http.NotFound(w, r)
		return
	}
	key := fmt.Sprintf("%s|%d|%d", p, st.Size(), st.ModTime().UnixNano())
	b, ok := s.thumbs.get(key)
	if !ok {
		b, err = makeThumb(p, s.cfg.ThumbSize)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		s.thumbs.put(key, b)
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "private, max-age=3600")
	_, _ = w.Write(b)
}
