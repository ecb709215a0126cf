package logging

import (
	"log"
	"log/slog"
	"os"
	"strings"
)

// Setup wires the process-wide loggers for a protocol daemon. Output is JSON
// on stdout with stable key names, tagged with the service name and, when
// provided, the deployment environment. Development environments lower the
// threshold to debug.
func Setup(service, env string) *slog.Logger {
	env = strings.TrimSpace(env)

	level := slog.LevelInfo
	switch strings.ToLower(env) {
	case "dev", "development", "local":
		level = slog.LevelDebug
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: renameAttr,
	})

	attrs := []slog.Attr{slog.String("service", strings.TrimSpace(service))}
	if env != "" {
		attrs = append(attrs, slog.String("env", env))
	}

	tagged := handler.WithAttrs(attrs)
	base := slog.New(tagged)
	slog.SetDefault(base)

	// Route the standard library logger through the same handler. Warn keeps
	// dependency chatter visible without promoting it to an error stream.
	bridge := slog.NewLogLogger(tagged, slog.LevelWarn)
	bridge.SetFlags(0)
	log.SetOutput(bridge.Writer())
	log.SetFlags(0)
	log.SetPrefix("")

	return base
}

// renameAttr maps slog's default keys onto the field names the log pipeline
// indexes on.
func renameAttr(_ []string, attr slog.Attr) slog.Attr {
	switch attr.Key {
	case slog.TimeKey:
		attr.Key = "timestamp"
	case slog.LevelKey:
		return slog.String("severity", strings.ToUpper(attr.Value.String()))
	case slog.MessageKey:
		attr.Key = "message"
	}
	return attr
}
