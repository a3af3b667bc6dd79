// Package logging configures the process-wide slog.Logger (ambient
// stack): a colorized tint handler on an interactive terminal, plain JSON
// otherwise, matching the teacher's declared
// github.com/lmittmann/tint + github.com/mattn/go-isatty +
// github.com/mattn/go-colorable dependency trio (present in its go.mod
// but with no retrieved call site in this pack's snapshot — wired here
// per their documented APIs).
package logging

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// Options configures the logger (ambient-stack section of SPEC_FULL.md).
type Options struct {
	Level  slog.Level
	Output io.Writer // defaults to os.Stderr
}

// Setup installs and returns the process-wide logger, replacing
// slog.Default(). On an interactive terminal it uses tint's colorized
// console handler; otherwise plain JSON, suitable for log aggregation
// when stderr is redirected to a file or pipe.
func Setup(opts Options) *slog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	var handler slog.Handler
	if f, ok := out.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		handler = tint.NewHandler(colorable.NewColorable(f), &tint.Options{
			Level:      opts.Level,
			TimeFormat: time.Kitchen,
		})
	} else {
		handler = slog.NewJSONHandler(out, &slog.HandlerOptions{Level: opts.Level})
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
