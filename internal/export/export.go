// File: internal/export/export.go

// Package export owns the on-disk handoff between the scrape and
// replay halves of a migration: one JSON array per artifact class
// under the export directory.
package export

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"pvmigrate/internal/scrape"
)

const (
	templatesFile          = "templates.json"
	casesFile              = "cases.json"
	communicationsPattern  = "communications_%s.json"
	communicationsFileGlob = "communications_*.json"
)

// Store reads and writes export files under one directory.
type Store struct {
	dir    string
	logger *zap.Logger
}

// NewStore creates the store and its directory.
func NewStore(dir string, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create export directory %s: %w", dir, err)
	}
	return &Store{dir: dir, logger: logger.Named("export")}, nil
}

// Dir returns the export directory.
func (s *Store) Dir() string {
	return s.dir
}

// WriteTemplates persists the scraped template set.
func (s *Store) WriteTemplates(templates []scrape.Template) error {
	return s.writeJSON(templatesFile, templates)
}

// WriteCases persists the scraped case list.
func (s *Store) WriteCases(cases []scrape.Case) error {
	return s.writeJSON(casesFile, cases)
}

// WriteCommunications persists one case's communications to its own
// file, keyed by case id.
func (s *Store) WriteCommunications(caseID string, comms []scrape.Communication) error {
	return s.writeJSON(fmt.Sprintf(communicationsPattern, caseID), comms)
}

// ReadTemplates loads a previously exported template set for replay.
func (s *Store) ReadTemplates() ([]scrape.Template, error) {
	var templates []scrape.Template
	if err := s.readJSON(templatesFile, &templates); err != nil {
		return nil, err
	}
	return templates, nil
}

// ReadCases loads a previously exported case list.
func (s *Store) ReadCases() ([]scrape.Case, error) {
	var cases []scrape.Case
	if err := s.readJSON(casesFile, &cases); err != nil {
		return nil, err
	}
	return cases, nil
}

// ReadAllCommunications loads every per-case communications file in
// the directory, keyed by the case id embedded in the filename.
func (s *Store) ReadAllCommunications() (map[string][]scrape.Communication, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, communicationsFileGlob))
	if err != nil {
		return nil, fmt.Errorf("failed to list communication exports: %w", err)
	}

	result := make(map[string][]scrape.Communication, len(matches))
	for _, path := range matches {
		name := filepath.Base(path)
		caseID := strings.TrimSuffix(strings.TrimPrefix(name, "communications_"), ".json")
		if caseID == "" {
			continue
		}
		var comms []scrape.Communication
		if err := s.readJSON(name, &comms); err != nil {
			return nil, err
		}
		result[caseID] = comms
	}
	return result, nil
}

func (s *Store) writeJSON(name string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize %s: %w", name, err)
	}
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	s.logger.Info("Export file written.", zap.String("path", path), zap.Int("bytes", len(data)))
	return nil
}

func (s *Store) readJSON(name string, v interface{}) error {
	path := filepath.Join(s.dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read export file %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("export file %s is not valid JSON: %w", path, err)
	}
	return nil
}
