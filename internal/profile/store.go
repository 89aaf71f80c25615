package profile

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"attune/internal/engine"
	"attune/internal/model"
)

// Diagnosis-typical threshold sensitivity defaults, applied when a profile
// names a diagnosis but carries no explicit adjustments. Factors below 1.0
// lower the green/yellow boundaries, making escalation easier to flag.
var diagnosisDefaults = map[string]model.DiagnosisAdjustments{
	"autism":             {Movement: 0.85, Vocal: 0.90, Expression: 0.85},
	"adhd":               {Movement: 1.10, Vocal: 1.00, Expression: 0.95},
	"sensory_processing": {Movement: 0.80, Vocal: 0.85, Expression: 0.80},
	"anxiety":            {Movement: 0.90, Vocal: 0.95, Expression: 0.90},
}

// Entry is one child's profile record as stored on disk: identity,
// calibration, optional explicit adjustments, and optional labeled training
// examples for the personal model.
type Entry struct {
	ID          string                      `yaml:"id"`
	Name        string                      `yaml:"name"`
	Diagnosis   string                      `yaml:"diagnosis"`
	Baseline    *model.BaselineCalibration  `yaml:"baseline"`
	Adjustments *model.DiagnosisAdjustments `yaml:"adjustments"`
	Examples    []engine.Example            `yaml:"examples"`
	K           int                         `yaml:"knn_k"`
}

type profileFile struct {
	Profiles []Entry `yaml:"profiles"`
}

// Store holds loaded child profiles. Reloadable; readers take a snapshot.
type Store struct {
	mu       sync.RWMutex
	profiles map[string]Entry
	logger   *slog.Logger
}

func NewStore(logger *slog.Logger) *Store {
	return &Store{
		profiles: make(map[string]Entry),
		logger:   logger,
	}
}

// LoadFile replaces the store contents with the profiles in a YAML file.
func (s *Store) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read profiles: %w", err)
	}
	var file profileFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse profiles: %w", err)
	}
	profiles := make(map[string]Entry, len(file.Profiles))
	for _, entry := range file.Profiles {
		if strings.TrimSpace(entry.ID) == "" {
			return fmt.Errorf("profile entry %q missing id", entry.Name)
		}
		if _, dup := profiles[entry.ID]; dup {
			return fmt.Errorf("duplicate profile id %q", entry.ID)
		}
		profiles[entry.ID] = entry
	}
	s.mu.Lock()
	s.profiles = profiles
	s.mu.Unlock()
	if s.logger != nil {
		s.logger.Info("profiles loaded", "path", path, "count", len(profiles))
	}
	return nil
}

// Get returns the child profile for an ID with diagnosis-default
// adjustments filled in when the entry has none of its own.
func (s *Store) Get(id string) (*model.ChildProfile, bool) {
	s.mu.RLock()
	entry, ok := s.profiles[id]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	p := &model.ChildProfile{
		ID:          entry.ID,
		Name:        entry.Name,
		Diagnosis:   entry.Diagnosis,
		Baseline:    entry.Baseline,
		Adjustments: entry.Adjustments,
	}
	if p.Adjustments == nil {
		p.Adjustments = ThresholdAdjustments(entry.Diagnosis)
	}
	return p, true
}

// PersonalModel builds the child's k-NN model from stored training
// examples. Returns (nil, nil) when the profile has no examples.
func (s *Store) PersonalModel(id string) (*engine.PersonalModel, error) {
	s.mu.RLock()
	entry, ok := s.profiles[id]
	s.mu.RUnlock()
	if !ok || len(entry.Examples) == 0 {
		return nil, nil
	}
	m, err := engine.NewPersonalModel(entry.Examples, entry.K)
	if err != nil {
		return nil, fmt.Errorf("profile %s personal model: %w", id, err)
	}
	return m, nil
}

// ThresholdAdjustments returns the diagnosis-typical adjustment factors for
// a diagnosis key, or nil when the diagnosis is unknown.
func ThresholdAdjustments(diagnosis string) *model.DiagnosisAdjustments {
	adj, ok := diagnosisDefaults[strings.ToLower(strings.TrimSpace(diagnosis))]
	if !ok {
		return nil
	}
	out := adj
	return &out
}

// IDs lists the loaded profile IDs, sorted.
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.profiles))
	for id := range s.profiles {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
