package fsutil

import (
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// BaseName reduces a client-supplied filename to its last element. Both slash
// styles count as separators so "C:\\x\\a.txt" and "../../a.txt" give "a.txt".
// A trailing separator means there is no file element, so "dir/" gives "".
// Names that reduce to nothing usable ("", ".", "..", "/") return "".
func BaseName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = strings.ReplaceAll(name, "\x00", "")
	b := name[strings.LastIndex(name, "/")+1:]
	switch b {
	case ".", "..":
		return ""
	}
	return b
}

// JoinWithinRoot returns root/name for a base name, rejecting anything that
// would land outside root.
func JoinWithinRoot(rootAbs string, name string) (string, error) {
	base := BaseName(name)
	if base == "" {
		return "", errors.Errorf("invalid file name %q", name)
	}
	abs := filepath.Clean(filepath.Join(rootAbs, base))
	rootClean := filepath.Clean(rootAbs)
	if filepath.Dir(abs) != rootClean {
		return "", errors.New("path escape")
	}
	return abs, nil
}

// IsFSRoot reports whether p has no parent directory.
func IsFSRoot(p string) bool {
	p = filepath.Clean(p)
	return filepath.Dir(p) == p
}

// Resolver finds a writable upload root. Preferred is probed on every call
// since access to it can change while the server runs; Fallback is used when
// the probe fails.
type Resolver struct {
	Preferred string
	Fallback  string
	Logger    *log.Logger
}

const probeName = ".test_write"

// Resolve returns an absolute, existing, writable directory.
func (r *Resolver) Resolve() (string, error) {
	var perr error
	if r.Preferred != "" {
		dir, err := probe(r.Preferred)
		if err == nil {
			return dir, nil
		}
		perr = err
		r.logf("upload dir %s not writable, falling back: %v", r.Preferred, err)
	}
	if r.Fallback == "" {
		if perr == nil {
			perr = errors.New("no upload dir configured")
		}
		return "", perr
	}
	dir, err := filepath.Abs(r.Fallback)
	if err != nil {
		return "", errors.Wrap(err, "abs fallback dir")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrap(err, "mkdir fallback dir")
	}
	return dir, nil
}

func (r *Resolver) logf(format string, args ...any) {
	if r.Logger != nil {
		r.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}

func probe(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return "", err
	}
	p := filepath.Join(abs, probeName)
	if err := os.WriteFile(p, []byte("ok"), 0o644); err != nil {
		return "", err
	}
	if err := os.Remove(p); err != nil {
		return "", err
	}
	return abs, nil
}
