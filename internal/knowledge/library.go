package knowledge

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/calvin-seamons/shadowscribe/internal/domain"
)

// RulebookSection is one rulebook section as stored on disk.
type RulebookSection struct {
	ID       string   `yaml:"id"`
	Title    string   `yaml:"title"`
	Depth    int      `yaml:"depth"`
	Summary  string   `yaml:"summary"`
	Keywords []string `yaml:"keywords"`
	Text     string   `yaml:"text"`
}

type rulebookFile struct {
	Sections []RulebookSection `yaml:"sections"`
}

// CharacterSheet is one character's records, organized into typed files
// with a fixed schema per file type (stats, inventory, spells, background).
type CharacterSheet struct {
	Name    string                    `yaml:"name"`
	Aliases []string                  `yaml:"aliases"`
	Files   map[string]map[string]any `yaml:"files"`
}

// SessionLog is one play session's record.
type SessionLog struct {
	ID       string          `yaml:"id"`
	Date     time.Time       `yaml:"date"`
	Title    string          `yaml:"title"`
	Summary  string          `yaml:"summary"`
	Entities []SessionEntity `yaml:"entities"`
	Notes    string          `yaml:"notes"`
}

// LibraryData is the loaded knowledge set. Sessions are kept in
// chronological order.
type LibraryData struct {
	Sections   []RulebookSection
	Characters []CharacterSheet
	Sessions   []SessionLog
}

// Load reads a knowledge directory:
//
//	<dir>/rulebook.yaml
//	<dir>/characters/*.yaml
//	<dir>/sessions/*.yaml
//
// Missing pieces are not errors — a campaign may have no sessions yet.
func Load(dir string) (*LibraryData, error) {
	data := &LibraryData{}

	rbPath := filepath.Join(dir, "rulebook.yaml")
	if raw, err := os.ReadFile(rbPath); err == nil {
		var rb rulebookFile
		if err := yaml.Unmarshal(raw, &rb); err != nil {
			return nil, fmt.Errorf("parse %s: %w", rbPath, err)
		}
		data.Sections = rb.Sections
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read %s: %w", rbPath, err)
	}

	charFiles, err := yamlFiles(filepath.Join(dir, "characters"))
	if err != nil {
		return nil, err
	}
	for _, path := range charFiles {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		var sheet CharacterSheet
		if err := yaml.Unmarshal(raw, &sheet); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if sheet.Name == "" {
			return nil, fmt.Errorf("parse %s: character sheet missing name", path)
		}
		data.Characters = append(data.Characters, sheet)
	}

	sessionFiles, err := yamlFiles(filepath.Join(dir, "sessions"))
	if err != nil {
		return nil, err
	}
	for _, path := range sessionFiles {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		var session SessionLog
		if err := yaml.Unmarshal(raw, &session); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if session.ID == "" {
			session.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		}
		data.Sessions = append(data.Sessions, session)
	}

	sort.Slice(data.Sessions, func(i, j int) bool {
		return data.Sessions[i].Date.Before(data.Sessions[j].Date)
	})
	sort.Slice(data.Characters, func(i, j int) bool {
		return data.Characters[i].Name < data.Characters[j].Name
	})

	return data, nil
}

func yamlFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext == ".yaml" || ext == ".yml" {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// Library holds the loaded knowledge set and hands out partition adapters.
// Reloads swap the data snapshot atomically; adapters read through the
// library so concurrent requests always see a consistent snapshot.
type Library struct {
	mu   sync.RWMutex
	dir  string
	data *LibraryData
}

// NewLibrary wraps an in-memory data set. Used directly by tests and by
// Open for disk-backed libraries.
func NewLibrary(data *LibraryData) *Library {
	if data == nil {
		data = &LibraryData{}
	}
	return &Library{data: data}
}

// Open loads a knowledge directory into a library.
func Open(dir string) (*Library, error) {
	data, err := Load(dir)
	if err != nil {
		return nil, err
	}
	lib := NewLibrary(data)
	lib.dir = dir
	return lib, nil
}

// Reload re-reads the knowledge directory and swaps the snapshot.
func (l *Library) Reload() error {
	if l.dir == "" {
		return fmt.Errorf("library is not disk-backed")
	}
	data, err := Load(l.dir)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.data = data
	l.mu.Unlock()
	return nil
}

func (l *Library) snapshot() *LibraryData {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.data
}

// Partitions returns adapters for every partition that has content.
func (l *Library) Partitions() []Partition {
	data := l.snapshot()
	var parts []Partition
	if len(data.Sections) > 0 {
		parts = append(parts, &rulebookPartition{lib: l})
	}
	if len(data.Characters) > 0 {
		parts = append(parts, &characterPartition{lib: l})
	}
	if len(data.Sessions) > 0 {
		parts = append(parts, &historyPartition{lib: l})
	}
	return parts
}

// Partition returns the adapter for one partition ID.
func (l *Library) Partition(id domain.PartitionID) (Partition, bool) {
	for _, p := range l.Partitions() {
		if p.ID() == id {
			return p, true
		}
	}
	return nil, false
}

// Gazetteer returns every known entity surface form: character names and
// aliases plus the typed entities recorded in session logs.
func (l *Library) Gazetteer() []GazetteerEntry {
	data := l.snapshot()

	var entries []GazetteerEntry
	for _, c := range data.Characters {
		entries = append(entries, GazetteerEntry{
			Name:    c.Name,
			Type:    domain.EntityCharacter,
			Aliases: c.Aliases,
		})
	}

	seen := make(map[string]bool)
	for _, s := range data.Sessions {
		for _, e := range s.Entities {
			key := string(e.Type) + ":" + strings.ToLower(e.Name)
			if seen[key] {
				continue
			}
			seen[key] = true
			entries = append(entries, GazetteerEntry{Name: e.Name, Type: e.Type})
		}
	}
	return entries
}

var _ Source = (*Library)(nil)
