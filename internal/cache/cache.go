// Package cache persists the last good weather payload and a bounded
// archive of the previous ones.
//
// Layout under Dir:
//
//	weather_cache.json                          current slot
//	cache_old/weather_cache_YYYYMMDD_HHMMSS.json archived slots
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	appLog "agendalive/internal/log"
	"agendalive/internal/metrics"
)

const (
	CurrentFile = "weather_cache.json"
	ArchiveDir  = "cache_old"

	DefaultArchiveKeep   = 10
	DefaultArchiveMaxAge = 7 * 24 * time.Hour

	archivePrefix = "weather_cache_"
	stampLayout   = "20060102_150405"

	// Temp files younger than this may belong to a write in progress.
	tmpGrace = time.Minute
)

// Record is one cached payload.
type Record struct {
	FetchedAt time.Time
	Payload   json.RawMessage
	Label     string
}

// fileRecord is the on-disk form of Record.
type fileRecord struct {
	TS      int64           `json:"ts"`
	Payload json.RawMessage `json:"payload"`
	Label   string          `json:"label,omitempty"`
}

// PruneReport counts files removed by each retention rule.
type PruneReport struct {
	ByAge   int
	ByCount int
	Temp    int
}

// Store is the file-backed weather cache. Writes and housekeeping are
// expected from a single goroutine at a time.
type Store struct {
	Dir           string
	ArchiveKeep   int
	ArchiveMaxAge time.Duration
	// Location is used for archive file name stamps; nil means time.Local.
	Location *time.Location
	Metrics  *metrics.Metrics

	now func() time.Time
	// replace commits the temp file over the current slot.
	replace func(oldpath, newpath string) error
}

// New returns a Store rooted at dir with the default retention.
func New(dir string) *Store {
	return &Store{
		Dir:           dir,
		ArchiveKeep:   DefaultArchiveKeep,
		ArchiveMaxAge: DefaultArchiveMaxAge,
		now:           time.Now,
		replace:       os.Rename,
	}
}

// SetClock overrides the clock used for stamps, mtimes and age checks.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Store) clock() time.Time {
	if s.now == nil {
		return time.Now()
	}
	return s.now()
}

func (s *Store) location() *time.Location {
	if s.Location == nil {
		return time.Local
	}
	return s.Location
}

// CurrentPath returns the path of the current slot.
func (s *Store) CurrentPath() string {
	return filepath.Join(s.Dir, CurrentFile)
}

// ArchivePath returns the archive directory.
func (s *Store) ArchivePath() string {
	return filepath.Join(s.Dir, ArchiveDir)
}

// Read returns the current record. A missing, unreadable or corrupt file, or
// one without a payload, is reported as absent.
func (s *Store) Read() (Record, bool) {
	fr, err := readFile(s.CurrentPath())
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			appLog.Warn("weather cache unreadable", "path", s.CurrentPath(), "err", err.Error())
		}
		return Record{}, false
	}
	if len(fr.Payload) == 0 || string(fr.Payload) == "null" {
		return Record{}, false
	}
	rec := Record{Payload: fr.Payload, Label: fr.Label}
	if fr.TS > 0 {
		rec.FetchedAt = time.Unix(fr.TS, 0)
	}
	return rec, true
}

func readFile(path string) (fileRecord, error) {
	var fr fileRecord
	data, err := os.ReadFile(path)
	if err != nil {
		return fr, err
	}
	if err := json.Unmarshal(data, &fr); err != nil {
		return fileRecord{}, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return fr, nil
}

// Write archives the current slot and atomically replaces it with rec.
// A failed archive step is logged and does not stop the write. If the new
// record cannot be committed, the archived one is moved back into place.
func (s *Store) Write(rec Record) error {
	if len(rec.Payload) == 0 {
		return errors.New("cache: empty payload")
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("cache: create dir: %w", err)
	}

	archived, err := s.archiveCurrent()
	if err != nil {
		appLog.Error("weather cache archive failed", err, "dir", s.Dir)
	}
	if err := s.commit(rec); err != nil {
		s.restore(archived)
		return err
	}
	return nil
}

func (s *Store) commit(rec Record) error {
	now := s.clock()
	fetched := rec.FetchedAt
	if fetched.IsZero() {
		fetched = now
	}
	data, err := json.Marshal(fileRecord{TS: fetched.Unix(), Payload: rec.Payload, Label: rec.Label})
	if err != nil {
		return fmt.Errorf("cache: encode: %w", err)
	}

	tmp, err := os.CreateTemp(s.Dir, "weather_cache_*.tmp")
	if err != nil {
		return fmt.Errorf("cache: create temp: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("cache: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("cache: sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("cache: close temp: %w", err)
	}
	if err := os.Chtimes(tmpName, now, now); err != nil {
		cleanup()
		return fmt.Errorf("cache: stamp temp: %w", err)
	}
	replace := s.replace
	if replace == nil {
		replace = os.Rename
	}
	if err := replace(tmpName, s.CurrentPath()); err != nil {
		cleanup()
		return fmt.Errorf("cache: replace current: %w", err)
	}

	appLog.Debug("weather cache written", "path", s.CurrentPath(), "ts", fetched.Unix(), "bytes", len(data))
	return nil
}

// restore moves an archived record back into the empty current slot.
func (s *Store) restore(archived string) {
	if archived == "" {
		return
	}
	if _, err := os.Stat(s.CurrentPath()); err == nil {
		return
	}
	if err := os.Rename(archived, s.CurrentPath()); err != nil {
		appLog.Error("weather cache restore failed", err, "src", archived)
		return
	}
	appLog.Warn("weather cache write failed; previous record restored", "src", archived)
}

// archiveCurrent moves the current slot into the archive, named after its
// own timestamp, and returns the archived path. The file keeps its mtime.
// An absent current slot archives nothing and returns "".
func (s *Store) archiveCurrent() (string, error) {
	cur := s.CurrentPath()
	if _, err := os.Stat(cur); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	if err := os.MkdirAll(s.ArchivePath(), 0o755); err != nil {
		return "", err
	}

	stampAt := s.clock()
	if fr, err := readFile(cur); err == nil && fr.TS > 0 {
		stampAt = time.Unix(fr.TS, 0)
	}
	stamp := stampAt.In(s.location()).Format(stampLayout)

	dst := filepath.Join(s.ArchivePath(), archivePrefix+stamp+".json")
	if _, err := os.Stat(dst); err == nil {
		dst = filepath.Join(s.ArchivePath(), archivePrefix+stamp+"_"+strconv.FormatInt(s.clock().Unix(), 10)+".json")
	}
	if err := os.Rename(cur, dst); err != nil {
		return "", err
	}
	appLog.Debug("weather cache archived", "dst", dst)
	return dst, nil
}

type archived struct {
	path  string
	mtime time.Time
}

// PruneArchive removes archived files older than maxAge, then keeps only the
// keep newest by mtime. A non-positive value disables the matching rule.
// Individual delete failures are ignored.
func (s *Store) PruneArchive(maxAge time.Duration, keep int) PruneReport {
	var rep PruneReport

	dirEntries, err := os.ReadDir(s.ArchivePath())
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			appLog.Warn("weather cache archive listing failed", "dir", s.ArchivePath(), "err", err.Error())
		}
		return rep
	}

	now := s.clock()
	files := make([]archived, 0, len(dirEntries))
	for _, de := range dirEntries {
		if !de.Type().IsRegular() {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		p := filepath.Join(s.ArchivePath(), de.Name())
		if maxAge > 0 && now.Sub(info.ModTime()) > maxAge {
			if os.Remove(p) == nil {
				rep.ByAge++
				appLog.Debug("weather archive pruned", "rule", "age", "path", p)
			}
			continue
		}
		files = append(files, archived{path: p, mtime: info.ModTime()})
	}

	if keep > 0 && len(files) > keep {
		sort.SliceStable(files, func(i, j int) bool {
			return files[i].mtime.After(files[j].mtime)
		})
		for _, f := range files[keep:] {
			if os.Remove(f.path) == nil {
				rep.ByCount++
				appLog.Debug("weather archive pruned", "rule", "count", "path", f.path)
			}
		}
	}

	s.Metrics.ObservePruned("age", rep.ByAge)
	s.Metrics.ObservePruned("count", rep.ByCount)
	return rep
}

// Housekeeping applies the configured retention and removes stale temp files
// left behind by interrupted writes.
func (s *Store) Housekeeping() PruneReport {
	rep := s.PruneArchive(s.ArchiveMaxAge, s.ArchiveKeep)

	dirEntries, err := os.ReadDir(s.Dir)
	if err != nil {
		return rep
	}
	now := s.clock()
	for _, de := range dirEntries {
		if !de.Type().IsRegular() || !strings.HasSuffix(de.Name(), ".tmp") {
			continue
		}
		info, err := de.Info()
		if err != nil || now.Sub(info.ModTime()) < tmpGrace {
			continue
		}
		if os.Remove(filepath.Join(s.Dir, de.Name())) == nil {
			rep.Temp++
		}
	}
	s.Metrics.ObservePruned("tmp", rep.Temp)

	appLog.Info("weather cache housekeeping", "pruned_age", rep.ByAge, "pruned_count", rep.ByCount, "removed_tmp", rep.Temp)
	return rep
}
