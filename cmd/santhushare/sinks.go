package main

import (
	"fmt"
	"io"
	"log"
	"time"

	"github.com/schollz/progressbar/v3"
)

// consoleSinks renders session callbacks on the terminal. All methods run on
// the session's dispatcher goroutine.
type consoleSinks struct {
	out    io.Writer
	logger *log.Logger
	bar    *progressbar.ProgressBar
}

func newConsoleSinks(out io.Writer, logger *log.Logger) *consoleSinks {
	return &consoleSinks{out: out, logger: logger}
}

func (c *consoleSinks) OnProgress(percent int) {
	if percent <= 0 {
		if c.bar != nil {
			_ = c.bar.Finish()
			c.bar = nil
		}
		return
	}
	if c.bar == nil {
		c.bar = progressbar.NewOptions(100,
			progressbar.OptionSetDescription("receiving"),
			progressbar.OptionSetWriter(c.out),
			progressbar.OptionSetWidth(40),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
			progressbar.OptionSetPredictTime(false),
		)
	}
	_ = c.bar.Set(percent)
}

func (c *consoleSinks) OnHistoryEvent(title, subtitle string) {
	if subtitle == "" {
		c.logger.Printf("%s", title)
		return
	}
	c.logger.Printf("%s: %s", title, subtitle)
}

func (c *consoleSinks) OnNotify(title, body string) {
	fmt.Fprintf(c.out, "NOTIFICATION: %s - %s\n", title, body)
}
