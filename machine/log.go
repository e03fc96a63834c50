package machine

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// InitLogger installs a slog text logger writing to stderr and, if logPath
// is not empty, to logPath. The returned closer releases the log file.
//
// stdout belongs to the firmware console so host diagnostics never go there.
func InitLogger(logPath, logLevel string) (io.Closer, error) {
	var (
		w      io.Writer = os.Stderr
		closer io.Closer = nopCloser{}
	)

	if logPath != "" {
		logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}

		w = io.MultiWriter(os.Stderr, logFile)
		closer = logFile
	}

	level, err := parseLogLevel(logLevel)
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))

	if err != nil {
		slog.Warn(err.Error())
	}

	return closer, nil
}

func parseLogLevel(levelStr string) (slog.Level, error) {
	switch strings.ToUpper(levelStr) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO", "":
		return slog.LevelInfo, nil
	case "WARN":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q; using INFO", levelStr)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
