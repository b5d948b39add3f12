package util

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/lmittmann/tint"
)

// ConfigureSlog installs a tinted slog handler as the default logger.
// Source attribution is trimmed to a path relative to the working directory,
// full build paths bury the file:line everyone actually looks for.
func ConfigureSlog(writeTo io.Writer, level slog.Level) {
	wd, err := os.Getwd()
	var tintHandler slog.Handler
	if err != nil {
		slog.Error("Unable to find working dir, falling back to default slog config")
		tintHandler = tint.NewHandler(writeTo, &tint.Options{AddSource: true, Level: level})
	} else {
		unixPath := filepath.ToSlash(wd)
		tintHandler = tint.NewHandler(writeTo, &tint.Options{
			AddSource: true,
			Level:     level,
			ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
				if attr.Key == slog.SourceKey {
					source, ok := attr.Value.Any().(*slog.Source)
					if !ok {
						return attr
					}
					relativePath := "." + strings.TrimPrefix(source.File, unixPath)
					var sb strings.Builder
					sb.WriteString(relativePath)
					sb.WriteString(":")
					sb.WriteString(strconv.Itoa(source.Line))
					return slog.Attr{
						Key:   attr.Key,
						Value: slog.StringValue(sb.String()),
					}
				}
				return attr
			},
		})
	}
	slog.SetDefault(slog.New(tintHandler))
}
