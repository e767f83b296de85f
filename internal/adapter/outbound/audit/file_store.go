// Package audit provides file-based decision persistence in JSON Lines
// format with daily rotation, size caps, retention cleanup, and an
// in-memory cache for queries.
package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/Sentinel-Gate/querygate/internal/adapter/outbound/memory"
	"github.com/Sentinel-Gate/querygate/internal/domain/audit"
)

const dateLayout = "2006-01-02"

// decisionFilePattern matches decisions-YYYY-MM-DD.log and decisions-YYYY-MM-DD-N.log.
var decisionFilePattern = regexp.MustCompile(`^decisions-(\d{4}-\d{2}-\d{2})(?:-(\d+))?\.log$`)

type logFile struct {
	name   string
	date   string
	suffix int
}

func parseLogFilename(name string) (logFile, bool) {
	m := decisionFilePattern.FindStringSubmatch(name)
	if m == nil {
		return logFile{}, false
	}
	f := logFile{name: name, date: m[1]}
	if m[2] != "" {
		n, err := strconv.Atoi(m[2])
		if err != nil {
			return logFile{}, false
		}
		f.suffix = n
	}
	return f, true
}

func logFilename(date string, suffix int) string {
	if suffix == 0 {
		return fmt.Sprintf("decisions-%s.log", date)
	}
	return fmt.Sprintf("decisions-%s-%d.log", date, suffix)
}

// FileConfig configures FileStore.
type FileConfig struct {
	// Dir holds the log files. Created with 0700 if missing.
	Dir string
	// RetentionDays is how long files are kept (default 7).
	RetentionDays int
	// MaxFileSizeMB rotates the current file past this size (default 100).
	MaxFileSizeMB int
	// CacheSize is the number of recent records kept for queries (default 1000).
	CacheSize int
}

// FileStore implements audit.DecisionStore and audit.QueryStore on rotated
// JSON Lines files. Files are named by the record's UTC date.
type FileStore struct {
	dir           string
	maxFileSize   int64
	retentionDays int
	cache         *memory.DecisionStore
	logger        *slog.Logger
	cancel        context.CancelFunc
	done          chan struct{}

	mu            sync.Mutex
	currentFile   *os.File
	currentDate   string
	currentSize   int64
	currentSuffix int
	closed        bool
}

// NewFileStore opens today's file, applies retention, warms the cache from
// the newest file, and starts an hourly cleanup loop.
func NewFileStore(cfg FileConfig, logger *slog.Logger) (*FileStore, error) {
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 7
	}
	if cfg.MaxFileSizeMB <= 0 {
		cfg.MaxFileSizeMB = 100
	}
	if err := os.MkdirAll(cfg.Dir, 0700); err != nil {
		return nil, fmt.Errorf("create decision log directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &FileStore{
		dir:           cfg.Dir,
		maxFileSize:   int64(cfg.MaxFileSizeMB) * 1024 * 1024,
		retentionDays: cfg.RetentionDays,
		cache:         memory.NewDecisionStoreWithWriter(nil, cfg.CacheSize),
		logger:        logger,
		cancel:        cancel,
		done:          make(chan struct{}),
	}

	if err := s.open(time.Now().UTC().Format(dateLayout), s.highestSuffix(time.Now().UTC().Format(dateLayout))); err != nil {
		cancel()
		return nil, err
	}
	s.cleanup()
	s.warmCache()

	go s.cleanupLoop(ctx)
	return s, nil
}

// Append writes records in order, rotating on date change or size.
func (s *FileStore) Append(ctx context.Context, records ...audit.DecisionRecord) error {
	if len(records) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("decision log closed")
	}

	for _, rec := range records {
		date := rec.Timestamp.UTC().Format(dateLayout)
		if date != s.currentDate {
			if err := s.open(date, s.highestSuffix(date)); err != nil {
				return fmt.Errorf("date rotation: %w", err)
			}
		}
		if s.currentSize >= s.maxFileSize {
			if err := s.open(s.currentDate, s.currentSuffix+1); err != nil {
				return fmt.Errorf("size rotation: %w", err)
			}
		}

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal decision record: %w", err)
		}
		n, err := s.currentFile.Write(append(data, '\n'))
		if err != nil {
			return fmt.Errorf("write decision record: %w", err)
		}
		s.currentSize += int64(n)
	}
	return s.cache.Append(ctx, records...)
}

// Flush syncs the current file.
func (s *FileStore) Flush(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentFile != nil {
		return s.currentFile.Sync()
	}
	return nil
}

// Close stops the cleanup loop and closes the current file. Safe to call twice.
func (s *FileStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.cancel()
	var err error
	if s.currentFile != nil {
		_ = s.currentFile.Sync()
		err = s.currentFile.Close()
		s.currentFile = nil
	}
	s.mu.Unlock()
	<-s.done
	return err
}

// Query returns cached records matching filter, newest first.
func (s *FileStore) Query(ctx context.Context, filter audit.Filter) ([]audit.DecisionRecord, error) {
	return s.cache.Query(ctx, filter)
}

// open switches the current file. Caller holds mu or is the constructor.
func (s *FileStore) open(date string, suffix int) error {
	if s.currentFile != nil {
		_ = s.currentFile.Sync()
		_ = s.currentFile.Close()
		s.currentFile = nil
	}
	name := logFilename(date, suffix)
	f, err := os.OpenFile(filepath.Join(s.dir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("stat %s: %w", name, err)
	}
	s.currentFile = f
	s.currentDate = date
	s.currentSuffix = suffix
	s.currentSize = info.Size()
	return nil
}

func (s *FileStore) files() []logFile {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil
	}
	var out []logFile
	for _, e := range entries {
		if f, ok := parseLogFilename(e.Name()); ok {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].date != out[j].date {
			return out[i].date < out[j].date
		}
		return out[i].suffix < out[j].suffix
	})
	return out
}

func (s *FileStore) highestSuffix(date string) int {
	highest := 0
	for _, f := range s.files() {
		if f.date == date && f.suffix > highest {
			highest = f.suffix
		}
	}
	return highest
}

// cleanup deletes files older than the retention period.
func (s *FileStore) cleanup() {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.retentionDays)
	deleted := 0
	for _, f := range s.files() {
		d, err := time.Parse(dateLayout, f.date)
		if err != nil || !d.Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, f.name)); err != nil {
			s.logger.Error("decision log cleanup: failed to delete file", "file", f.name, "error", err)
			continue
		}
		deleted++
	}
	if deleted > 0 {
		s.logger.Info("decision log cleanup completed", "deleted", deleted)
	}
}

func (s *FileStore) cleanupLoop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

// warmCache loads the newest non-empty file into the cache.
func (s *FileStore) warmCache() {
	files := s.files()
	for i := len(files) - 1; i >= 0; i-- {
		path := filepath.Join(s.dir, files[i].name)
		if info, err := os.Stat(path); err != nil || info.Size() == 0 {
			continue
		}
		f, err := os.Open(path)
		if err != nil {
			s.logger.Error("decision log cache: failed to open file", "file", files[i].name, "error", err)
			return
		}
		defer func() { _ = f.Close() }()

		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 256*1024), 1024*1024)
		var records []audit.DecisionRecord
		for scanner.Scan() {
			if len(scanner.Bytes()) == 0 {
				continue
			}
			var rec audit.DecisionRecord
			if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
				s.logger.Warn("decision log cache: skipping malformed line", "file", files[i].name, "error", err)
				continue
			}
			records = append(records, rec)
		}
		if err := scanner.Err(); err != nil {
			s.logger.Error("decision log cache: error reading file", "file", files[i].name, "error", err)
		}
		_ = s.cache.Append(context.Background(), records...)
		return
	}
}

// Compile-time interface verification.
var (
	_ audit.DecisionStore = (*FileStore)(nil)
	_ audit.QueryStore    = (*FileStore)(nil)
)
