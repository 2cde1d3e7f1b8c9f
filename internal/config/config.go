package config

import (
	"errors"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

var (
	ErrMissingPassword = errors.New("config: a password is required")
	ErrInvalidPort     = errors.New("config: port must be between 1 and 65535")
	ErrMissingUpload   = errors.New("config: upload dir is required")
	ErrInvalidRetries  = errors.New("config: bind retries must be at least 1")
)

// Config is intentionally small and JSON/YAML-friendly. It is fixed for the
// lifetime of one server run.
type Config struct {
	// Bind is the interface address to listen on. Default: all interfaces.
	Bind string `json:"bind" yaml:"bind" mapstructure:"bind"`

	// Port is the TCP port. Default: 8080.
	Port int `json:"port" yaml:"port" mapstructure:"port"`

	// Password is the shared secret checked by HTTP Basic auth (username is
	// ignored). Either Password or PasswordBcrypt must be set.
	Password string `json:"password,omitempty" yaml:"password,omitempty" mapstructure:"password"`

	// PasswordBcrypt is a pre-computed bcrypt hash of the shared secret, as
	// printed by `santhushare passwd`.
	PasswordBcrypt string `json:"password_bcrypt,omitempty" yaml:"password_bcrypt,omitempty" mapstructure:"password_bcrypt"`

	// UploadDir is the preferred upload root. It is probed for write access on
	// every upload request; when that fails FallbackDir is used instead.
	UploadDir   string `json:"upload_dir" yaml:"upload_dir" mapstructure:"upload_dir"`
	FallbackDir string `json:"fallback_dir" yaml:"fallback_dir" mapstructure:"fallback_dir"`

	// BindRetries is the number of bind attempts while the port is in use,
	// RetryDelay the pause between them.
	BindRetries int           `json:"bind_retries" yaml:"bind_retries" mapstructure:"bind_retries"`
	RetryDelay  time.Duration `json:"retry_delay" yaml:"retry_delay" mapstructure:"retry_delay"`

	// WebDAV mounts the upload root under /dav/.
	WebDAV bool `json:"webdav,omitempty" yaml:"webdav,omitempty" mapstructure:"webdav"`

	// Zstd compresses HTML pages for clients that accept it.
	Zstd bool `json:"zstd" yaml:"zstd" mapstructure:"zstd"`

	// MDNS advertises the server as _santhushare._tcp on the local network.
	MDNS bool `json:"mdns,omitempty" yaml:"mdns,omitempty" mapstructure:"mdns"`

	// ThumbSize is the longest edge of listing thumbnails, in pixels.
	ThumbSize int `json:"thumb_size" yaml:"thumb_size" mapstructure:"thumb_size"`

	// MaxMemory is how many bytes of multipart file content are kept in memory
	// per request before spilling to temp files.
	MaxMemory int64 `json:"max_memory" yaml:"max_memory" mapstructure:"max_memory"`
}

const (
	DefaultPort        = 8080
	DefaultBindRetries = 10
	DefaultRetryDelay  = time.Second
	DefaultThumbSize   = 160
	DefaultMaxMemory   = 32 << 20
)

// Default returns a config with every field but the password filled in.
func Default() Config {
	return Config{
		Bind:        "0.0.0.0",
		Port:        DefaultPort,
		UploadDir:   defaultUploadDir(),
		FallbackDir: defaultFallbackDir(),
		BindRetries: DefaultBindRetries,
		RetryDelay:  DefaultRetryDelay,
		Zstd:        true,
		ThumbSize:   DefaultThumbSize,
		MaxMemory:   DefaultMaxMemory,
	}
}

func defaultUploadDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "SHARED_USING_SANTHUSHARE")
	}
	return filepath.Join(home, "SHARED_USING_SANTHUSHARE")
}

func defaultFallbackDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "santhushare", "uploads")
}

// Validate ensures the configuration can start a server.
func (c *Config) Validate() error {
	if c.Password == "" && strings.TrimSpace(c.PasswordBcrypt) == "" {
		return ErrMissingPassword
	}
	if c.Port < 1 || c.Port > 65535 {
		return ErrInvalidPort
	}
	if strings.TrimSpace(c.UploadDir) == "" && strings.TrimSpace(c.FallbackDir) == "" {
		return ErrMissingUpload
	}
	if c.BindRetries < 1 {
		return ErrInvalidRetries
	}
	return nil
}

// Addr is the listen address, host:port.
func (c *Config) Addr() string {
	host := c.Bind
	if host == "" {
		host = "0.0.0.0"
	}
	return net.JoinHostPort(host, strconv.Itoa(c.Port))
}
