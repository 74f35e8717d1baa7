package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "cyclex/pkg/logx"
)

// fileStore appends JSON Lines.
//
// Files:
//   - <prefix>.telemetry.jsonl
//   - <prefix>.events.jsonl
//
// Prune rewrites a file through a temp file and rename.
type fileStore struct {
	log logx.Logger

	mu        sync.Mutex
	telemetry *jsonlFile
	events    *jsonlFile
}

type jsonlFile struct {
	path string
	f    *os.File
	n    int64
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	tf, err := openJSONL(prefix + ".telemetry.jsonl")
	if err != nil {
		return nil, err
	}
	ef, err := openJSONL(prefix + ".events.jsonl")
	if err != nil {
		_ = tf.f.Close()
		return nil, err
	}
	return &fileStore{log: log, telemetry: tf, events: ef}, nil
}

func openJSONL(path string) (*jsonlFile, error) {
	n, err := countLines(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	return &jsonlFile{path: path, f: f, n: n}, nil
}

func countLines(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	var n int64
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		if len(sc.Bytes()) > 0 {
			n++
		}
	}
	return n, sc.Err()
}

func (j *jsonlFile) append(v any) error {
	if j.f == nil {
		return errors.New("storage file closed")
	}
	if err := json.NewEncoder(j.f).Encode(v); err != nil {
		return err
	}
	j.n++
	return nil
}

// prune keeps lines whose "at" is not before the cutoff. Lines that fail to
// decode are kept.
func (j *jsonlFile) prune(before time.Time) (int64, error) {
	if j.f == nil {
		return 0, errors.New("storage file closed")
	}
	in, err := os.Open(j.path)
	if err != nil {
		return 0, err
	}
	tmp := j.path + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		_ = in.Close()
		return 0, err
	}

	var kept, removed int64
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	w := bufio.NewWriter(out)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec struct {
			At time.Time `json:"at"`
		}
		if json.Unmarshal(line, &rec) == nil && rec.At.Before(before) {
			removed++
			continue
		}
		kept++
		_, _ = w.Write(line)
		_ = w.WriteByte('\n')
	}
	_ = in.Close()
	if err := sc.Err(); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return 0, err
	}
	if err := w.Flush(); err != nil {
		_ = out.Close()
		return 0, err
	}
	if err := out.Close(); err != nil {
		return 0, err
	}

	_ = j.f.Close()
	j.f = nil
	if err := os.Rename(tmp, j.path); err != nil {
		return 0, fmt.Errorf("storage: replace %s: %w", j.path, err)
	}
	f, err := os.OpenFile(j.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return removed, err
	}
	j.f = f
	j.n = kept
	return removed, nil
}

func (j *jsonlFile) close() error {
	if j.f == nil {
		return nil
	}
	err := j.f.Close()
	j.f = nil
	return err
}

func (s *fileStore) AppendTelemetry(ctx context.Context, r TelemetryRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.At.IsZero() {
		r.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.telemetry.append(r)
}

func (s *fileStore) AppendEvent(ctx context.Context, e EventRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events.append(e)
}

func (s *fileStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, err := s.telemetry.prune(before)
	if err != nil {
		return a, err
	}
	b, err := s.events.prune(before)
	if err == nil && a+b > 0 {
		s.log.Debug("storage pruned", logx.Int64("telemetry", a), logx.Int64("events", b))
	}
	return a + b, err
}

func (s *fileStore) Counts(context.Context) (Counts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Counts{Telemetry: s.telemetry.n, Events: s.events.n}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return errors.Join(s.telemetry.close(), s.events.close())
}
