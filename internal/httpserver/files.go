package httpserver

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"santhushare/internal/fsutil"
	"santhushare/internal/session"
	"santhushare/internal/zipstream"
)

const copyBufSize = 1024 * 1024

type browseEntry struct {
	Name  string
	Path  string
	IsDir bool
	Size  string
	Thumb bool
}

type browsePage struct {
	Title     string
	Parent    string
	Entries   []browseEntry
	UploadDir string
}

// handleBrowse lists ?path=, or the upload root when path is missing or gone.
func (s *Server) handleBrowse(w http.ResponseWriter, r *http.Request) {
	uploadDir, rerr := s.roots.Resolve()
	if rerr != nil {
		s.logger.Printf("browse: resolve upload dir: %v", rerr)
	}

	dir, ok := s.pathParam(r)
	if ok {
		if _, err := os.Stat(dir); err != nil {
			ok = false
		}
	}
	if !ok {
		if rerr != nil {
			http.Error(w, rerr.Error(), http.StatusInternalServerError)
			return
		}
		dir = uploadDir
	}

	ents, err := os.ReadDir(dir)
	if err != nil {
		s.logger.Printf("browse %s for %s: %v", dir, r.RemoteAddr, err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	page := browsePage{
		Title:     filepath.Base(dir),
		UploadDir: uploadDir,
	}
	if fsutil.IsFSRoot(dir) {
		page.Title = "Root"
	} else {
		page.Parent = filepath.Dir(dir)
	}
	if rerr != nil {
		page.UploadDir = "unavailable (" + rerr.Error() + ")"
	}
	for _, e := range ents {
		full := filepath.Join(dir, e.Name())
		be := browseEntry{Name: e.Name(), Path: full}
		// Stat follows symlinks so linked folders list as folders.
		if st, err := os.Stat(full); err == nil {
			be.IsDir = st.IsDir()
			be.Size = sizeKB(st.Size())
		} else {
			be.Size = "0B"
		}
		be.Thumb = !be.IsDir && isImageExt(filepath.Ext(e.Name()))
		page.Entries = append(page.Entries, be)
	}

	var buf bytes.Buffer
	if err := s.browse.Execute(&buf, page); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func sizeKB(n int64) string {
	return fmt.Sprintf("%.1f KB", float64(n)/1024)
}

// handleDownload streams a regular file as an attachment. Directories are
// only served through /zip.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	p, ok := s.pathParam(r)
	if !ok {
		http.NotFound(w, r)
		return
	}
	st, err := os.Stat(p)
	if err != nil || st.IsDir() {
		http.NotFound(w, r)
		return
	}
	s.serveFile(w, r, p, st)
}

func (s *Server) serveFile(w http.ResponseWriter, r *http.Request, p string, st os.FileInfo) {
	f, err := os.Open(p)
	if err != nil {
		if os.IsNotExist(err) {
			http.NotFound(w, r)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer f.Close()

	name := st.Name()
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", attachment(name))
	w.Header().Set("Content-Length", strconv.FormatInt(st.Size(), 10))
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}

	n, err := io.CopyBuffer(w, io.LimitReader(f, st.Size()), make([]byte, copyBufSize))
	if err != nil {
		s.logger.Printf("download %s to %s aborted after %d bytes: %v", p, r.RemoteAddr, n, err)
		return
	}
	s.record(session.KindSent, "File Sent", name)
}

// handleZip streams ?path= as a zip when it is a directory. A regular file is
// served like /download.
func (s *Server) handleZip(w http.ResponseWriter, r *http.Request) {
	p, ok := s.pathParam(r)
	if !ok {
		http.NotFound(w, r)
		return
	}
	st, err := os.Stat(p)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	if !st.IsDir() {
		s.serveFile(w, r, p, st)
		return
	}

	name := zipstream.ArchiveName(p)
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", attachment(name))
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}

	stats, err := zipstream.Write(r.Context(), p, w)
	if err != nil {
		s.logger.Printf("zip %s to %s truncated after %d file(s): %v", p, r.RemoteAddr, stats.Files, err)
		return
	}
	s.record(session.KindZipped, "Zipped Folder", "Served "+name)
}

func attachment(name string) string {
	if v := mime.FormatMediaType("attachment", map[string]string{"filename": name}); v != "" {
		return v
	}
	return `attachment; filename="download"`
}
