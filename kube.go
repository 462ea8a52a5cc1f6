package gkekube

import (
	"flag"
	"io"
	"log/slog"
	"os"
	"strings"

	"k8s.io/klog/v2"
)

// debugKlogFlags is the klog verbosity used with --debug. -v=9 lists full
// request content, -v=7 lists request headers, 4 is the client-go debug
// level.
const debugKlogFlags = "-v=4"

// InitLogging configures the process-wide logging. Logs go to w (stderr in
// the CLI) using slog text format; stdout is reserved for the document.
//
// klog, used by client-go, is routed to the same logger. KLOG_FLAGS can be
// used to pass additional klog flags without changing the CLI of the app.
func InitLogging(w io.Writer, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	klog.SetSlogLogger(logger)
	if debug {
		SetK8SLogging(debugKlogFlags)
	}
	if kf := os.Getenv("KLOG_FLAGS"); kf != "" {
		SetK8SLogging(kf)
	}
	return logger
}

// SetK8SLogging sets klog flags from a space separated string,
// for example "-v=9".
func SetK8SLogging(flags string) {
	fs := flag.NewFlagSet("klog", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	klog.InitFlags(fs)
	if err := fs.Parse(strings.Fields(flags)); err != nil {
		slog.Warn("Invalid klog flags", "flags", flags, "err", err)
	}
}
