// Package catalog persists named portfolio definitions as one JSON file per
// portfolio under a configurable directory, the external collaborator
// spec.md's back-test engine reads PortfolioParams from.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Portfolio is the on-disk record for one named portfolio.
type Portfolio struct {
	ID             string             `json:"id"`
	Name           string             `json:"name"`
	Description    string             `json:"description"`
	InitialCapital float64            `json:"initial_capital"`
	Instruments    []string           `json:"instruments"`
	Weights        map[string]float64 `json:"weights"`
	Parameters     map[string]string  `json:"parameters"`
	CreatedDate    time.Time          `json:"created_date"`
	ModifiedDate   time.Time          `json:"modified_date"`
}

// normalizeWeights scales Weights to sum to 1 over Instruments, defaulting
// missing/negative entries to equal share, per the resolved open question
// that weight normalization applies consistently on every catalog write.
func (p *Portfolio) normalizeWeights() {
	if len(p.Instruments) == 0 {
		return
	}
	if p.Weights == nil {
		p.Weights = make(map[string]float64, len(p.Instruments))
	}
	equalShare := 1.0 / float64(len(p.Instruments))
	sum := 0.0
	for _, id := range p.Instruments {
		w, ok := p.Weights[id]
		if !ok || w < 0 {
			w = equalShare
		}
		p.Weights[id] = w
		sum += w
	}
	if sum <= 0 {
		for _, id := range p.Instruments {
			p.Weights[id] = equalShare
		}
		return
	}
	for _, id := range p.Instruments {
		p.Weights[id] /= sum
	}
}

// Catalog is a directory of portfolio JSON files.
type Catalog struct {
	dir string
}

// New constructs a Catalog rooted at dir, creating it if necessary.
func New(dir string) (*Catalog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create catalog directory: %w", err)
	}
	return &Catalog{dir: dir}, nil
}

func (c *Catalog) path(id string) string {
	return filepath.Join(c.dir, id+".json")
}

// Create writes a new portfolio, assigning a uuid when p.ID is empty.
func (c *Catalog) Create(p Portfolio) (Portfolio, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	p.CreatedDate = now
	p.ModifiedDate = now
	p.normalizeWeights()
	if err := c.write(p); err != nil {
		return Portfolio{}, err
	}
	return p, nil
}

// Get reads one portfolio by id.
func (c *Catalog) Get(id string) (Portfolio, error) {
	data, err := os.ReadFile(c.path(id))
	if err != nil {
		return Portfolio{}, fmt.Errorf("read portfolio %s: %w", id, err)
	}
	var p Portfolio
	if err := json.Unmarshal(data, &p); err != nil {
		return Portfolio{}, fmt.Errorf("unmarshal portfolio %s: %w", id, err)
	}
	return p, nil
}

// List returns every portfolio in the catalog, ordered by id (the order in
// which os.ReadDir lists the <id>.json file names).
func (c *Catalog) List() ([]Portfolio, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, fmt.Errorf("list catalog directory: %w", err)
	}
	var out []Portfolio
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ".json")
		p, err := c.Get(id)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// Delete removes one portfolio by id.
func (c *Catalog) Delete(id string) error {
	if err := os.Remove(c.path(id)); err != nil {
		return fmt.Errorf("delete portfolio %s: %w", id, err)
	}
	return nil
}

// AddInstrument adds an instrument to a portfolio with an explicit weight,
// or an equal 1/n share when weight is not positive, scaling the existing
// weights down so the sum stays at 1.
func (c *Catalog) AddInstrument(id, instrumentID string, weight float64) (Portfolio, error) {
	p, err := c.Get(id)
	if err != nil {
		return Portfolio{}, err
	}
	for _, existing := range p.Instruments {
		if existing == instrumentID {
			return Portfolio{}, fmt.Errorf("instrument %s already present in portfolio %s", instrumentID, id)
		}
	}
	p.Instruments = append(p.Instruments, instrumentID)
	if p.Weights == nil {
		p.Weights = make(map[string]float64)
	}
	newWeight := weight
	if newWeight <= 0 {
		newWeight = 1.0 / float64(len(p.Instruments))
	}
	existingSum := 0.0
	for _, e := range p.Instruments[:len(p.Instruments)-1] {
		existingSum += p.Weights[e]
	}
	if existingSum > 0 && existingSum+newWeight > 1 && newWeight < 1 {
		for _, e := range p.Instruments[:len(p.Instruments)-1] {
			p.Weights[e] *= (1 - newWeight) / existingSum
		}
	}
	p.Weights[instrumentID] = newWeight
	p.normalizeWeights()
	p.ModifiedDate = time.Now().UTC()
	if err := c.write(p); err != nil {
		return Portfolio{}, err
	}
	return p, nil
}

// RemoveInstrument drops an instrument from a portfolio and renormalizes
// the remaining weights.
func (c *Catalog) RemoveInstrument(id, instrumentID string) (Portfolio, error) {
	p, err := c.Get(id)
	if err != nil {
		return Portfolio{}, err
	}
	kept := p.Instruments[:0]
	for _, existing := range p.Instruments {
		if existing != instrumentID {
			kept = append(kept, existing)
		}
	}
	p.Instruments = kept
	delete(p.Weights, instrumentID)
	p.normalizeWeights()
	p.ModifiedDate = time.Now().UTC()
	if err := c.write(p); err != nil {
		return Portfolio{}, err
	}
	return p, nil
}

func (c *Catalog) write(p Portfolio) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal portfolio %s: %w", p.ID, err)
	}
	if err := os.WriteFile(c.path(p.ID), data, 0o644); err != nil {
		return fmt.Errorf("write portfolio %s: %w", p.ID, err)
	}
	return nil
}
