// Package storage keeps generated plans on disk for review.
package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ErrPlanExists is returned when a plan name is already taken.
var ErrPlanExists = errors.New("plan already exists")

// PlanRecord describes a plan stored on disk.
type PlanRecord struct {
	Name        string    `json:"name"`
	RunID       string    `json:"run_id"`
	Dialect     string    `json:"dialect"`
	ForwardFile string    `json:"forward_file"`
	ReportFile  string    `json:"report_file"`
	Actions     int       `json:"actions"`
	Warnings    int       `json:"warnings"`
	CreatedAt   time.Time `json:"created_at"`
	Checksum    string    `json:"checksum"`
}

// SavedPlan is the content written for one plan.
type SavedPlan struct {
	Name     string
	RunID    string
	Dialect  string
	Script   string
	Report   string
	Actions  int
	Warnings int
}

// Store is a directory of saved plans, one subdirectory per plan.
type Store struct {
	base string
}

// Open makes sure the storage root exists.
func Open(base string) (*Store, error) {
	if strings.TrimSpace(base) == "" {
		return nil, errors.New("storage path is required")
	}
	if err := os.MkdirAll(filepath.Join(base, "plans"), 0o755); err != nil {
		return nil, err
	}
	return &Store{base: base}, nil
}

func (s *Store) dir(name string) string {
	return filepath.Join(s.base, "plans", safeName(name))
}

// SavePlan writes forward.sql, plan.txt and manifest.json. An existing plan
// is never overwritten.
func (s *Store) SavePlan(p SavedPlan) (PlanRecord, error) {
	if safeName(p.Name) == "" {
		return PlanRecord{}, fmt.Errorf("plan name is required")
	}
	dir := s.dir(p.Name)
	manifestPath := filepath.Join(dir, "manifest.json")
	if _, err := os.Stat(manifestPath); err == nil {
		return PlanRecord{}, fmt.Errorf("%w: %s", ErrPlanExists, p.Name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return PlanRecord{}, err
	}

	forward := filepath.Join(dir, "forward.sql")
	if err := os.WriteFile(forward, []byte(p.Script), 0o644); err != nil {
		return PlanRecord{}, fmt.Errorf("write forward script: %w", err)
	}
	report := filepath.Join(dir, "plan.txt")
	if err := os.WriteFile(report, []byte(p.Report), 0o644); err != nil {
		return PlanRecord{}, fmt.Errorf("write plan report: %w", err)
	}

	record := PlanRecord{
		Name:        p.Name,
		RunID:       p.RunID,
		Dialect:     p.Dialect,
		ForwardFile: forward,
		ReportFile:  report,
		Actions:     p.Actions,
		Warnings:    p.Warnings,
		CreatedAt:   time.Now().UTC(),
		Checksum:    computeChecksum([]byte(p.Script), []byte(p.Report)),
	}
	if err := writeJSON(manifestPath, record); err != nil {
		return PlanRecord{}, err
	}
	return record, nil
}

// LoadPlan reads a stored plan record with its script and report, and
// checks the content against the recorded checksum.
func (s *Store) LoadPlan(name string) (PlanRecord, string, string, error) {
	record, err := s.LoadManifest(name)
	if err != nil {
		return record, "", "", err
	}
	script, err := os.ReadFile(record.ForwardFile)
	if err != nil {
		return record, "", "", fmt.Errorf("read forward script: %w", err)
	}
	report, err := os.ReadFile(record.ReportFile)
	if err != nil {
		return record, "", "", fmt.Errorf("read plan report: %w", err)
	}
	if computeChecksum(script, report) != record.Checksum {
		return record, "", "", fmt.Errorf("plan %s was modified after it was saved", name)
	}
	return record, string(script), string(report), nil
}

// LoadManifest reads metadata without loading the plan bodies.
func (s *Store) LoadManifest(name string) (PlanRecord, error) {
	var record PlanRecord
	data, err := os.ReadFile(filepath.Join(s.dir(name), "manifest.json"))
	if err != nil {
		return record, fmt.Errorf("read manifest: %w", err)
	}
	if err := json.Unmarshal(data, &record); err != nil {
		return record, fmt.Errorf("parse manifest: %w", err)
	}
	return record, nil
}

// ListPlans returns the manifests of every stored plan, newest first.
func (s *Store) ListPlans() ([]PlanRecord, error) {
	entries, err := os.ReadDir(filepath.Join(s.base, "plans"))
	if err != nil {
		if os.IsNotExist(err) {
			return []PlanRecord{}, nil
		}
		return nil, err
	}
	records := make([]PlanRecord, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		rec, err := s.LoadManifest(e.Name())
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	sort.SliceStable(records, func(i, j int) bool { return records[i].CreatedAt.After(records[j].CreatedAt) })
	return records, nil
}

func safeName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, " ", "_")
	name = strings.ReplaceAll(name, string(filepath.Separator), "_")
	return strings.ReplaceAll(name, "..", "_")
}

func computeChecksum(blobs ...[]byte) string {
	h := sha256.New()
	for _, b := range blobs {
		h.Write(b)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
