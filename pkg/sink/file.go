package sink

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/Alwanly/service-source-ingest/pkg/logger"
	"github.com/Alwanly/service-source-ingest/pkg/poll"
)

const defaultExtension = ".bin"

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// ErrOutsideRoot is returned when a relative output hint climbs out of the
// sink root.
var ErrOutsideRoot = errors.New("output directory escapes sink root")

// FileSink writes every payload to its own file under a root directory:
// <root>/<output dir or source name>/<source>_<timestamp><ext>.
type FileSink struct {
	root   string
	logger *logger.CanonicalLogger
}

func NewFileSink(root string, log *logger.CanonicalLogger) *FileSink {
	if log == nil {
		log = logger.NewNop()
	}
	return &FileSink{root: root, logger: log.Component("sink")}
}

// Persist writes body atomically: a temp file in the destination directory
// renamed into place once fully written.
func (s *FileSink) Persist(ctx context.Context, target poll.Target, body []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dir, err := s.Dir(target)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create destination %s: %w", dir, err)
	}

	name := fmt.Sprintf("%s_%s%s", sanitize(target.Source), target.At.UTC().Format("20060102T150405.000000000Z"), Extension(contentType, body))
	path := filepath.Join(dir, name)

	tmp, err := os.CreateTemp(dir, ".incoming-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(body); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write payload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close payload: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to move payload into place: %w", err)
	}

	s.logger.Debug("payload persisted",
		logger.String(logger.FieldSource, target.Source),
		logger.String(logger.FieldDestination, path),
		logger.Int(logger.FieldBytes, len(body)),
	)
	return nil
}

// Dir resolves the destination directory of a target. A relative output
// hint is placed under the sink root and must stay inside it.
func (s *FileSink) Dir(target poll.Target) (string, error) {
	hint := strings.TrimSpace(target.OutputDir)
	switch {
	case hint == "":
		return filepath.Join(s.root, sanitize(target.Source)), nil
	case filepath.IsAbs(hint):
		return filepath.Clean(hint), nil
	}

	dir := filepath.Join(s.root, hint)
	rel, err := filepath.Rel(filepath.Clean(s.root), dir)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, hint)
	}
	return dir, nil
}

// Extension infers a file extension from the declared content type, falling
// back to sniffing the payload.
func Extension(contentType string, body []byte) string {
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		if m := mimetype.Lookup(mediaType); m != nil && m.Extension() != "" {
			return m.Extension()
		}
	}
	if len(body) > 0 {
		if ext := mimetype.Detect(body).Extension(); ext != "" {
			return ext
		}
	}
	return defaultExtension
}

func sanitize(name string) string {
	cleaned := strings.Trim(unsafeChars.ReplaceAllString(name, "_"), "._")
	if cleaned == "" {
		return "source"
	}
	return cleaned
}
