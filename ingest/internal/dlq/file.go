package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/lightwatch/lightwatch/common/logging"
)

// FileQueue writes one JSON file per failed event.
type FileQueue struct {
	basePath string
	logger   *slog.Logger
	mu       sync.Mutex
	written  uint64
}

// NewFileQueue creates a DLQ rooted at basePath.
func NewFileQueue(basePath string, logger *slog.Logger) (*FileQueue, error) {
	if basePath == "" {
		basePath = "/var/lib/lightwatch/dlq"
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create dlq directory: %w", err)
	}

	return &FileQueue{basePath: basePath, logger: logger}, nil
}

func (q *FileQueue) Write(_ context.Context, failed FailedEvent) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	filename := fmt.Sprintf("failed_%d_%s.json", failed.Timestamp.UnixNano(), failed.ID)
	path := filepath.Join(q.basePath, filename)

	data, err := json.MarshalIndent(failed, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal dlq entry: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write dlq entry: %w", err)
	}

	q.written++
	q.logger.Info("dlq entry written",
		slog.String("file", filename),
		logging.Sink(failed.FailedSink),
		logging.Category(failed.Category))
	return nil
}

// List returns up to limit failed events, oldest first.
func (q *FileQueue) List(limit int) ([]FailedEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	entries, err := os.ReadDir(q.basePath)
	if err != nil {
		return nil, fmt.Errorf("read dlq directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "failed_") || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var events []FailedEvent
	for _, name := range names {
		if len(events) >= limit {
			break
		}
		data, err := os.ReadFile(filepath.Join(q.basePath, name))
		if err != nil {
			return nil, fmt.Errorf("read dlq entry %s: %w", name, err)
		}
		var fe FailedEvent
		if err := json.Unmarshal(data, &fe); err != nil {
			q.logger.Warn("skipping unreadable dlq entry", slog.String("file", name), logging.Error(err))
			continue
		}
		events = append(events, fe)
	}
	return events, nil
}

func (q *FileQueue) Stats(_ context.Context) map[string]any {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := map[string]any{
		"enabled":   true,
		"backend":   BackendFile,
		"written":   q.written,
		"base_path": q.basePath,
	}

	files, err := os.ReadDir(q.basePath)
	if err != nil {
		stats["error"] = err.Error()
		return stats
	}
	stats["pending_files"] = len(files)
	return stats
}

func (q *FileQueue) Close() error { return nil }

var _ Queue = (*FileQueue)(nil)
