// Package storage keeps files uploaded for a conversation on local
// disk, with time-based retention.
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/agentstudio/studio/internal/common/config"
	"github.com/agentstudio/studio/internal/common/logger"
)

const cleanupInterval = time.Hour

// FileStore writes uploads under {root}/{user_id}/{conversation_id}/
// and removes files older than the retention window.
type FileStore struct {
	root      string
	retention time.Duration
	logger    *logger.Logger
}

func NewFileStore(cfg config.StorageConfig, log *logger.Logger) (*FileStore, error) {
	if cfg.UploadRoot == "" {
		return nil, fmt.Errorf("upload root is not configured")
	}
	if err := os.MkdirAll(cfg.UploadRoot, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload root: %w", err)
	}
	return &FileStore{
		root:      cfg.UploadRoot,
		retention: time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		logger:    log.WithFields(zap.String("component", "file-store")),
	}, nil
}

// Save stores one upload and returns its absolute path. The filename
// is flattened to its base so callers cannot escape the store root.
func (s *FileStore) Save(userID, conversationID, filename string, r io.Reader) (string, error) {
	name := sanitizeName(filename)
	if name == "" {
		return "", fmt.Errorf("invalid filename: %q", filename)
	}

	dir := filepath.Join(s.root, sanitizeName(userID), sanitizeName(conversationID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create upload directory: %w", err)
	}

	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create upload file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to write upload: %w", err)
	}
	return path, nil
}

func sanitizeName(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "." || name == ".." || name == string(filepath.Separator) {
		return ""
	}
	return name
}

// StartRetentionLoop purges expired uploads until ctx is cancelled.
// Retention of zero or less disables the loop.
func (s *FileStore) StartRetentionLoop(ctx context.Context) {
	if s.retention <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()
		s.cleanup()
		for {
			select {
			case <-ticker.C:
				s.cleanup()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// cleanup removes files past retention and any directories they leave
// empty.
func (s *FileStore) cleanup() {
	cutoff := time.Now().Add(-s.retention)
	removed := 0

	err := filepath.Walk(s.root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err != nil {
				s.logger.Warn("Failed to remove expired upload",
					zap.String("path", path), zap.Error(err))
			} else {
				removed++
			}
		}
		return nil
	})
	if err != nil {
		s.logger.Warn("Upload cleanup walk failed", zap.Error(err))
	}
	if removed > 0 {
		s.logger.Info("Removed expired uploads", zap.Int("count", removed))
	}
	s.pruneEmptyDirs()
}

func (s *FileStore) pruneEmptyDirs() {
	var dirs []string
	_ = filepath.Walk(s.root, func(path string, info os.FileInfo, err error) error {
		if err == nil && info.IsDir() && path != s.root {
			dirs = append(dirs, path)
		}
		return nil
	})
	// Deepest first so parents empty out as children go.
	for i := len(dirs) - 1; i >= 0; i-- {
		entries, err := os.ReadDir(dirs[i])
		if err == nil && len(entries) == 0 {
			_ = os.Remove(dirs[i])
		}
	}
}
