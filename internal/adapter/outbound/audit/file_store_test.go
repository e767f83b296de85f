package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/Sentinel-Gate/querygate/internal/domain/audit"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func makeRecord(ts time.Time, reqID string) audit.DecisionRecord {
	return audit.DecisionRecord{
		RequestID: reqID,
		Timestamp: ts,
		Actor:     audit.Actor{Role: "reader"},
		Table:     "users",
		Operation: "read",
		Outcome:   audit.OutcomeAllow,
		Reason:    "ok",
	}
}

func newStore(t *testing.T, dir string) *FileStore {
	t.Helper()
	s, err := NewFileStore(FileConfig{Dir: dir, CacheSize: 100}, testLogger())
	if err != nil {
		t.Fatalf("NewFileStore() error: %v", err)
	}
	return s
}

func readLines(t *testing.T, path string) []audit.DecisionRecord {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer func() { _ = f.Close() }()
	var out []audit.DecisionRecord
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec audit.DecisionRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			t.Fatalf("malformed line %q: %v", sc.Text(), err)
		}
		out = append(out, rec)
	}
	return out
}

func TestNewFileStore_CreatesDirectory(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := filepath.Join(t.TempDir(), "nested", "decisions")
	s := newStore(t, dir)
	defer func() { _ = s.Close() }()

	info, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("directory not created: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0700 {
		t.Errorf("directory perm = %o, want 0700", perm)
	}
}

func TestFileStore_AppendAndDateRotation(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s := newStore(t, dir)
	defer func() { _ = s.Close() }()

	day1 := time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)
	day2 := day1.Add(2 * time.Minute)
	if err := s.Append(context.Background(), makeRecord(day1, "a"), makeRecord(day1, "b"), makeRecord(day2, "c")); err != nil {
		t.Fatalf("Append() error: %v", err)
	}
	if err := s.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error: %v", err)
	}

	got1 := readLines(t, filepath.Join(dir, "decisions-2026-03-01.log"))
	got2 := readLines(t, filepath.Join(dir, "decisions-2026-03-02.log"))
	if len(got1) != 2 || got1[0].RequestID != "a" || got1[1].RequestID != "b" {
		t.Errorf("day 1 = %+v", got1)
	}
	if len(got2) != 1 || got2[0].RequestID != "c" {
		t.Errorf("day 2 = %+v", got2)
	}
}

func TestFileStore_SizeRotation(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s := newStore(t, dir)
	defer func() { _ = s.Close() }()
	s.maxFileSize = 1

	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := range 3 {
		if err := s.Append(context.Background(), makeRecord(ts, fmt.Sprintf("r%d", i))); err != nil {
			t.Fatalf("Append() error: %v", err)
		}
	}
	for i, name := range []string{"decisions-2026-03-01.log", "decisions-2026-03-01-1.log", "decisions-2026-03-01-2.log"} {
		recs := readLines(t, filepath.Join(dir, name))
		if len(recs) != 1 || recs[0].RequestID != fmt.Sprintf("r%d", i) {
			t.Errorf("%s = %+v", name, recs)
		}
	}
}

func TestFileStore_RetentionCleanup(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	old := time.Now().UTC().AddDate(0, 0, -30).Format(dateLayout)
	for _, name := range []string{logFilename(old, 0), logFilename(old, 3), "unrelated.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("{}\n"), 0600); err != nil {
			t.Fatal(err)
		}
	}

	s := newStore(t, dir)
	defer func() { _ = s.Close() }()

	for _, name := range []string{logFilename(old, 0), logFilename(old, 3)} {
		if _, err := os.Stat(filepath.Join(dir, name)); !os.IsNotExist(err) {
			t.Errorf("%s not removed", name)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "unrelated.txt")); err != nil {
		t.Error("unrelated file removed")
	}
	today := logFilename(time.Now().UTC().Format(dateLayout), 0)
	if _, err := os.Stat(filepath.Join(dir, today)); err != nil {
		t.Errorf("today's file missing: %v", err)
	}
}

func TestFileStore_QueryAndWarmCache(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	now := time.Now().UTC()
	s := newStore(t, dir)
	deny := makeRecord(now, "denied")
	deny.Outcome = audit.OutcomeDeny
	if err := s.Append(context.Background(), makeRecord(now, "allowed"), deny); err != nil {
		t.Fatal(err)
	}
	got, err := s.Query(context.Background(), audit.Filter{Outcome: audit.OutcomeDeny})
	if err != nil || len(got) != 1 || got[0].RequestID != "denied" {
		t.Fatalf("Query() = %+v, %v", got, err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close() error: %v", err)
	}

	// Append a malformed line; the reopened store skips it.
	f, err := os.OpenFile(filepath.Join(dir, logFilename(now.Format(dateLayout), 0)), os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = f.WriteString("not json\n")
	_ = f.Close()

	reopened := newStore(t, dir)
	defer func() { _ = reopened.Close() }()
	got, _ = reopened.Query(context.Background(), audit.Filter{})
	if len(got) != 2 || got[0].RequestID != "denied" || got[1].RequestID != "allowed" {
		t.Errorf("warm cache = %+v", got)
	}
}

func TestFileStore_ConcurrentAppend(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s := newStore(t, dir)
	defer func() { _ = s.Close() }()

	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var wg sync.WaitGroup
	for g := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 25 {
				_ = s.Append(context.Background(), makeRecord(ts, fmt.Sprintf("%d-%d", g, i)))
			}
		}()
	}
	wg.Wait()
	_ = s.Flush(context.Background())

	if got := len(readLines(t, filepath.Join(dir, "decisions-2026-03-01.log"))); got != 200 {
		t.Errorf("lines = %d, want 200", got)
	}
}

func TestFileStore_AppendAfterClose(t *testing.T) {
	t.Parallel()

	s := newStore(t, t.TempDir())
	_ = s.Close()
	if err := s.Append(context.Background(), makeRecord(time.Now(), "x")); err == nil {
		t.Error("Append() after Close succeeded")
	}
}
