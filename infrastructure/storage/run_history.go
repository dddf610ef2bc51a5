package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"screenfill/domain/entities"
	"screenfill/domain/interfaces"
)

// maxRuns bounds the history file.
const maxRuns = 200

type runHistory struct {
	mu          sync.Mutex
	historyPath string
}

// NewRunHistory creates the run history store in dir, defaulting to
// ~/.screenfill.
func NewRunHistory(dir string) (interfaces.RunStore, error) {
	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("locate home directory: %w", err)
		}
		dir = filepath.Join(homeDir, ".screenfill")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}
	return &runHistory{historyPath: filepath.Join(dir, "runs.json")}, nil
}

// SaveRun appends a run, dropping the oldest beyond maxRuns.
func (s *runHistory) SaveRun(run entities.TaskResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	runs, err := s.load()
	if err != nil {
		return err
	}
	runs = append(runs, run)
	if len(runs) > maxRuns {
		runs = runs[len(runs)-maxRuns:]
	}
	data, err := json.MarshalIndent(runs, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.historyPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, s.historyPath)
}

// LoadRuns returns stored runs, oldest first.
func (s *runHistory) LoadRuns() ([]entities.TaskResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *runHistory) load() ([]entities.TaskResult, error) {
	data, err := os.ReadFile(s.historyPath)
	if err != nil {
		if os.IsNotExist(err) {
			return []entities.TaskResult{}, nil
		}
		return nil, err
	}

	var runs []entities.TaskResult
	if err := json.Unmarshal(data, &runs); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.historyPath, err)
	}
	return runs, nil
}
