package httpserver

import (
	"net/http"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
)

var zstdPool = sync.Pool{
	New: func() any {
		enc, err := zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.SpeedDefault),
			zstd.WithEncoderConcurrency(1),
		)
		if err != nil {
			return nil
		}
		return enc
	},
}

func acceptsZstd(r *http.Request) bool {
	for _, v := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		coding, _, _ := strings.Cut(strings.TrimSpace(v), ";")
		if strings.EqualFold(strings.TrimSpace(coding), "zstd") {
			return true
		}
	}
	return false
}

// withZstd compresses successful responses of next for clients that accept
// zstd. Error responses go out uncompressed.
func withZstd(enabled bool, next http.HandlerFunc) http.HandlerFunc {
	if !enabled {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Vary", "Accept-Encoding")
		if !acceptsZstd(r) {
			next(w, r)
			return
		}
		enc, _ := zstdPool.Get().(*zstd.Encoder)
		if enc == nil {
			next(w, r)
			return
		}
		zw := &zstdWriter{ResponseWriter: w, enc: enc}
		defer func() {
			zw.finish()
			enc.Reset(nil)
			zstdPool.Put(enc)
		}()
		next(zw, r)
	}
}

type zstdWriter struct {
	http.ResponseWriter
	enc         *zstd.Encoder
	wroteHeader bool
	encoding    bool
}

func (z *zstdWriter) WriteHeader(code int) {
	if z.wroteHeader {
		return
	}
	z.wroteHeader = true
	h := z.Header()
	if code == http.StatusOK && h.Get("Content-Encoding") == "" {
		h.Set("Content-Encoding", "zstd")
		h.Del("Content-Length")
		z.encoding = true
		z.enc.Reset(z.ResponseWriter)
	}
	z.ResponseWriter.WriteHeader(code)
}

func (z *zstdWriter) Write(b []byte) (int, error) {
	if !z.wroteHeader {
		z.WriteHeader(http.StatusOK)
	}
	if !z.encoding {
		return z.ResponseWriter.Write(b)
	}
	return z.enc.Write(b)
}

func (z *zstdWriter) finish() {
	if z.encoding {
		_ = z.enc.Close()
	}
}
