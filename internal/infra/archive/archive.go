// Package archive writes badge awards to cold storage before retention
// prunes them from the ledger.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tutu-network/streakd/internal/domain"
)

// Sink receives awards that are about to be pruned. A sink error aborts the
// prune so nothing is lost.
type Sink interface {
	Archive(ctx context.Context, day domain.Date, awards []domain.BadgeAward) (string, error)
}

// Config selects the archive backend.
type Config struct {
	Backend    string // "", file, s3
	Dir        string
	S3Bucket   string
	S3Prefix   string
	S3Region   string
	S3Endpoint string // R2 or MinIO
}

// ErrUnknownBackend is returned by New for an unsupported backend name.
var ErrUnknownBackend = errors.New("unknown archive backend")

// New builds the sink named in cfg. An empty backend returns a nil Sink,
// meaning prune without archiving.
func New(ctx context.Context, cfg Config) (Sink, error) {
	switch cfg.Backend {
	case "", "none":
		return nil, nil
	case "file":
		return NewFileSink(cfg.Dir), nil
	case "s3":
		return NewS3Sink(ctx, cfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}

// ObjectName is the archive name for one run's pruned awards.
func ObjectName(day domain.Date) string {
	return fmt.Sprintf("awards-%s.jsonl", day)
}

// encode renders awards as JSON lines.
func encode(awards []domain.BadgeAward) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, a := range awards {
		if err := enc.Encode(a); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// ─── File Sink ──────────────────────────────────────────────────────────────

// FileSink appends JSON lines to one file per reference day.
type FileSink struct {
	dir string
}

// NewFileSink archives into dir, created on first use.
func NewFileSink(dir string) *FileSink {
	return &FileSink{dir: dir}
}

// Archive implements Sink. Reruns for the same day append.
func (f *FileSink) Archive(_ context.Context, day domain.Date, awards []domain.BadgeAward) (string, error) {
	if len(awards) == 0 {
		return "", nil
	}
	data, err := encode(awards)
	if err != nil {
		return "", fmt.Errorf("encode awards: %w", err)
	}
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return "", fmt.Errorf("create archive dir: %w", err)
	}

	path := filepath.Join(f.dir, ObjectName(day))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return "", err
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		return "", err
	}
	return path, file.Close()
}
