package schedule

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"agendalive/internal/ics"
	appLog "agendalive/internal/log"
	"agendalive/internal/model"
)

// FileSource reloads a Store whenever the backing schedule file changes.
//
// Supported formats, chosen by extension:
//   - .yaml / .yml: a document with an "entries" list
//   - .ics:         weekly recurring VEVENTs
type FileSource struct {
	Path     string
	Store    *Store
	Location *time.Location

	lastMod  time.Time
	lastSize int64
	loaded   bool
}

// yamlSchedule is the on-disk YAML layout.
type yamlSchedule struct {
	Entries []model.ScheduleEntry `yaml:"entries"`
}

// NewFileSource binds path to store. loc is used for ICS times; nil means
// time.Local.
func NewFileSource(path string, store *Store, loc *time.Location) *FileSource {
	if loc == nil {
		loc = time.Local
	}
	return &FileSource{Path: path, Store: store, Location: loc}
}

// Poll reloads the store if the file changed since the last successful load.
// It reports whether a reload happened. Failures keep the previous entries.
func (s *FileSource) Poll() bool {
	if s.Path == "" {
		return false
	}
	st, err := os.Stat(s.Path)
	if err != nil {
		if s.loaded || !errors.Is(err, os.ErrNotExist) {
			appLog.Debug("schedule source stat failed", "path", s.Path, "err", err.Error())
		}
		return false
	}
	if s.loaded && st.ModTime().Equal(s.lastMod) && st.Size() == s.lastSize {
		return false
	}

	entries, err := LoadFile(s.Path, s.Location)
	if err != nil {
		appLog.Error("schedule load failed; keeping previous entries", err, "path", s.Path)
		// Remember the failed version so a broken file is not re-parsed every tick.
		s.lastMod, s.lastSize, s.loaded = st.ModTime(), st.Size(), true
		return false
	}

	s.Store.ReplaceAll(entries)
	s.lastMod, s.lastSize, s.loaded = st.ModTime(), st.Size(), true
	appLog.Info("schedule loaded", "path", s.Path, "entries", len(entries), "mtime", st.ModTime().Format(time.RFC3339))
	return true
}

// LoadFile decodes a schedule file.
func LoadFile(path string, loc *time.Location) ([]model.ScheduleEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return decodeYAML(data)
	case ".ics":
		return ics.ParseWeekly(data, loc)
	default:
		return nil, fmt.Errorf("schedule: unsupported file type %q", filepath.Ext(path))
	}
}

func decodeYAML(data []byte) ([]model.ScheduleEntry, error) {
	var doc yamlSchedule
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("schedule: decode yaml: %w", err)
	}
	out := make([]model.ScheduleEntry, 0, len(doc.Entries))
	for _, e := range doc.Entries {
		e = trimEntry(e)
		if e == (model.ScheduleEntry{}) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func trimEntry(e model.ScheduleEntry) model.ScheduleEntry {
	return model.ScheduleEntry{
		Day:        strings.ToUpper(strings.TrimSpace(e.Day)),
		Start:      strings.TrimSpace(e.Start),
		End:        strings.TrimSpace(e.End),
		Activity:   strings.TrimSpace(e.Activity),
		Instructor: strings.TrimSpace(e.Instructor),
		Location:   strings.TrimSpace(e.Location),
		Tag:        strings.ToUpper(strings.TrimSpace(e.Tag)),
	}
}
