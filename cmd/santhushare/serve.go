package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mdp/qrterminal/v3"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"santhushare/internal/config"
	"santhushare/internal/discovery"
	"santhushare/internal/fsutil"
	"santhushare/internal/httpserver"
	"santhushare/internal/server"
	"santhushare/internal/session"
)

const shutdownTimeout = 10 * time.Second

var noQR bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the file sharing server (default)",
	Long: `Start the server and print the URL peers should open.

Every setting can also come from $HOME/.santhushare.yaml (or --config) and
from SANTHUSHARE_* environment variables, e.g. SANTHUSHARE_PASSWORD.`,
	RunE: runServe,
}

func init() {
	d := config.Default()
	f := serveCmd.Flags()
	f.String("bind", d.Bind, "interface address to listen on")
	f.Int("port", d.Port, "TCP port")
	f.String("password", "", "shared password (required unless --password-bcrypt is set)")
	f.String("password-bcrypt", "", "bcrypt hash of the shared password (see `santhushare passwd`)")
	f.String("upload-dir", d.UploadDir, "preferred upload directory")
	f.String("fallback-dir", d.FallbackDir, "upload directory used when the preferred one is not writable")
	f.Int("bind-retries", d.BindRetries, "bind attempts while the port is in use")
	f.Duration("retry-delay", d.RetryDelay, "pause between bind attempts")
	f.Bool("webdav", d.WebDAV, "serve the upload directory over WebDAV at /dav/")
	f.Bool("zstd", d.Zstd, "zstd-compress HTML pages for clients that accept it")
	f.Bool("mdns", d.MDNS, "advertise the server over mDNS as "+discovery.ServiceType)
	f.Int("thumb-size", d.ThumbSize, "longest edge of listing thumbnails in pixels")
	f.Int64("max-memory", d.MaxMemory, "bytes of upload content kept in memory per request before spilling to disk")
	f.BoolVar(&noQR, "no-qr", false, "do not print the QR code")

	for key, flag := range map[string]string{
		"bind":            "bind",
		"port":            "port",
		"password":        "password",
		"password_bcrypt": "password-bcrypt",
		"upload_dir":      "upload-dir",
		"fallback_dir":    "fallback-dir",
		"bind_retries":    "bind-retries",
		"retry_delay":     "retry-delay",
		"webdav":          "webdav",
		"zstd":            "zstd",
		"mdns":            "mdns",
		"thumb_size":      "thumb-size",
		"max_memory":      "max-memory",
	} {
		_ = viper.BindPFlag(key, f.Lookup(flag))
	}
}

func loadConfig() (config.Config, error) {
	var cfg config.Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return cfg, errors.Wrap(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	sinks := newConsoleSinks(out, log.New(out, "[history] ", log.LstdFlags|log.Lmsgprefix))
	sess := session.New(session.Sinks{Progress: sinks, History: sinks, Notify: sinks}, nil)
	defer sess.Close()

	roots := &fsutil.Resolver{Preferred: cfg.UploadDir, Fallback: cfg.FallbackDir}
	if dir, err := roots.Resolve(); err != nil {
		log.Printf("warning: no writable upload dir yet: %v", err)
	} else {
		log.Printf("upload dir: %s", dir)
	}

	hs, err := httpserver.New(httpserver.Options{Config: cfg, Roots: roots, Session: sess})
	if err != nil {
		return errors.Wrap(err, "server init")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(cfg, hs.Handler(), sess, nil)
	if err := srv.Start(ctx); err != nil {
		return err
	}

	url := discovery.URL(publicHost(cfg.Bind), cfg.Port)
	fmt.Fprintf(out, "SanthuShare is running at %s\n", url)
	if cfg.WebDAV {
		fmt.Fprintf(out, "WebDAV: %sdav/\n", url)
	}
	if !noQR {
		fmt.Fprintln(out, "Scan to connect:")
		printQR(out, url)
	}

	if cfg.MDNS {
		adv, err := discovery.Advertise("", cfg.Port, []string{"path=/", "version=" + version})
		if err != nil {
			log.Printf("mdns: %v", err)
		} else {
			defer adv.Shutdown()
		}
	}

	select {
	case <-ctx.Done():
		fmt.Fprintln(out, "\nshutting down...")
	case <-srv.Done():
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Stop(sctx); err != nil && !errors.Is(err, server.ErrNotStarted) {
		log.Printf("stop: %v", err)
	}
	return srv.Err()
}

// publicHost is the host peers should dial for a given bind address.
func publicHost(bind string) string {
	switch bind {
	case "", "0.0.0.0", "::", "[::]":
		return discovery.LocalIP()
	}
	return bind
}

const (
	qrBlackWhite = "▄"
	qrBlackBlack = " "
	qrWhiteBlack = "▀"
	qrWhiteWhite = "█"
)

func printQR(w io.Writer, url string) {
	qrterminal.GenerateWithConfig(url, qrterminal.Config{
		Level:          qrterminal.M,
		Writer:         w,
		HalfBlocks:     true,
		BlackChar:      qrBlackBlack,
		WhiteBlackChar: qrWhiteBlack,
		WhiteChar:      qrWhiteWhite,
		BlackWhiteChar: qrBlackWhite,
		QuietZone:      1,
	})
}
