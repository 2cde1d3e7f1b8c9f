package httpserver

import (
	"embed"
	"html/template"
	"io"
	"io/fs"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/net/webdav"

	"santhushare/internal/auth"
	"santhushare/internal/config"
	"santhushare/internal/multipart"
	"santhushare/internal/session"
	"santhushare/internal/upload"
)

type Options struct {
	Config config.Config
	// Roots resolves the upload root. Required.
	Roots upload.RootResolver
	// Session receives history, progress and notifications. Optional.
	Session *session.Session
	// Gate overrides the gate built from Config.
	Gate   *auth.Gate
	Logger *log.Logger
}

type Server struct {
	cfg     config.Config
	gate    *auth.Gate
	roots   upload.RootResolver
	sess    *session.Session
	uploads *upload.Pipeline
	logger  *log.Logger

	webFS  fs.FS
	browse *template.Template
	thumbs *thumbCache
	davLS  webdav.LockSystem
}

//go:embed web/index.html web/browse.html web/assets/*
var embeddedWeb embed.FS

func New(opts Options) (*Server, error) {
	if opts.Roots == nil {
		return nil, errors.New("httpserver: upload root resolver is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[httpd] ", log.LstdFlags|log.Lmicroseconds|log.Lmsgprefix)
	}
	gate := opts.Gate
	if gate == nil {
		var err error
		if h := strings.TrimSpace(opts.Config.PasswordBcrypt); h != "" {
			gate, err = auth.NewGateFromHash(h)
		} else {
			gate, err = auth.NewGate(opts.Config.Password)
		}
		if err != nil {
			return nil, err
		}
	}
	sub, err := fs.Sub(embeddedWeb, "web")
	if err != nil {
		return nil, err
	}
	tpl, err := template.ParseFS(sub, "browse.html")
	if err != nil {
		return nil, errors.Wrap(err, "parse browse template")
	}
	return &Server{
		cfg:   opts.Config,
		gate:  gate,
		roots: opts.Roots,
		sess:  opts.Session,
		uploads: &upload.Pipeline{
			Roots:   opts.Roots,
			Session: opts.Session,
			Decoder: &multipart.Decoder{MaxMemory: opts.Config.MaxMemory, Logger: logger},
			Logger:  logger,
		},
		logger: logger,
		webFS:  sub,
		browse: tpl,
		thumbs: newThumbCache(256),
		davLS:  webdav.NewMemLS(),
	}, nil
}

// Handler returns the full request pipeline: hardening headers, then the
// auth gate, then routing.
//
//	GET  /           upload page
//	GET  /browse     directory listing (?path=)
//	GET  /download   single file (?path=)
//	GET  /zip        directory as a streamed zip (?path=)
//	GET  /thumb      image thumbnail (?path=)
//	POST <any>       multipart upload into the upload root
//	*    /dav/       WebDAV view of the upload root, when enabled
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	assets, _ := fs.Sub(s.webFS, "assets")
	mux.Handle("/assets/", http.StripPrefix("/assets/", http.FileServer(http.FS(assets))))

	mux.HandleFunc("/browse", withZstd(s.cfg.Zstd, s.handleBrowse))
	mux.HandleFunc("/download", s.handleDownload)
	mux.HandleFunc("/zip", s.handleZip)
	mux.HandleFunc("/thumb", s.handleThumb)
	mux.HandleFunc("/", withZstd(s.cfg.Zstd, s.handleIndex))

	route := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.WebDAV && (r.URL.Path == "/dav" || strings.HasPrefix(r.URL.Path, "/dav/")) {
			s.handleDAV(w, r)
			return
		}
		switch r.Method {
		case http.MethodPost:
			s.handleUpload(w, r)
		case http.MethodGet, http.MethodHead:
			mux.ServeHTTP(w, r)
		default:
			w.Header().Set("Allow", "GET, HEAD, POST")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
	return withHeaders(s.gate.Require(route))
}

func withHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		if strings.HasPrefix(r.URL.Path, "/assets/") {
			w.Header().Set("Cache-Control", "public, max-age=3600")
		} else {
			w.Header().Set("Cache-Control", "no-store")
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	b, err := fs.ReadFile(s.webFS, "index.html")
	if err != nil {
		http.Error(w, "missing ui", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(b)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	names, err := s.uploads.Receive(r.Context(), r.Body, r.Header.Get("Content-Type"))
	if err != nil {
		s.logger.Printf("upload from %s failed after %d file(s): %v", r.RemoteAddr, len(names), err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "Success")
}

func (s *Server) handleDAV(w http.ResponseWriter, r *http.Request) {
	root, err := s.roots.Resolve()
	if err != nil {
		s.logger.Printf("dav: resolve upload dir: %v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h := &webdav.Handler{
		Prefix:     "/dav",
		FileSystem: webdav.Dir(root),
		LockSystem: s.davLS,
		Logger: func(r *http.Request, err error) {
			if err != nil {
				s.logger.Printf("dav %s %s from %s: %v", r.Method, r.URL.Path, r.RemoteAddr, err)
			}
		},
	}
	h.ServeHTTP(w, r)
}

// pathParam returns the cleaned ?path= value. Relative values are taken
// relative to the upload root.
func (s *Server) pathParam(r *http.Request) (string, bool) {
	p := strings.TrimSpace(r.URL.Query().Get("path"))
	if p == "" || strings.ContainsRune(p, 0) {
		return "", false
	}
	if !filepath.IsAbs(p) {
		root, err := s.roots.Resolve()
		if err != nil {
			return "", false
		}
		p = filepath.Join(root, p)
	}
	return filepath.Clean(p), true
}

func (s *Server) record(kind session.Kind, title, subtitle string) {
	if s.sess != nil {
		s.sess.Record(kind, title, subtitle)
	}
}
