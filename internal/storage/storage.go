package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	appconfig "github.com/leadhound/qualifier/internal/config"
)

// Sink persists exported result files. Save returns a location string
// describing where the object ended up (a filesystem path or an S3 URI).
type Sink interface {
	Save(ctx context.Context, key string, r io.Reader) (string, error)
}

// NewFromConfig builds the sink described by cfg.
func NewFromConfig(ctx context.Context, cfg appconfig.StorageConfig) (Sink, error) {
	switch cfg.Type {
	case "", "local":
		return NewLocalSink(cfg.LocalPath)
	case "s3":
		return NewS3Sink(ctx, cfg.S3Bucket, cfg.S3Region, cfg.S3Prefix)
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}

// LocalSink writes exports under a base directory on the local filesystem.
type LocalSink struct {
	baseDir string
}

func NewLocalSink(baseDir string) (*LocalSink, error) {
	if baseDir == "" {
		baseDir = "./exports"
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating export directory %s: %w", baseDir, err)
	}
	return &LocalSink{baseDir: baseDir}, nil
}

// Save streams r to a temp file and renames it into place so readers
// never observe a partially written export.
func (s *LocalSink) Save(ctx context.Context, key string, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	key = sanitizeKey(key)
	dest := filepath.Join(s.baseDir, key)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("creating directory for %s: %w", key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".export-*")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("writing export %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("closing export %s: %w", key, err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("renaming export %s: %w", key, err)
	}
	return dest, nil
}

// sanitizeKey strips path traversal components from a storage key.
func sanitizeKey(key string) string {
	key = strings.ReplaceAll(key, "\\", "/")
	parts := strings.Split(key, "/")
	clean := parts[:0]
	for _, p := range parts {
		if p == "" || p == "." || p == ".." {
			continue
		}
		clean = append(clean, p)
	}
	if len(clean) == 0 {
		return "export"
	}
	return filepath.Join(clean...)
}
