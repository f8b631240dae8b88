package config

import (
	"fmt"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
	"tangled.sh/tangled.sh/healthsync/health"
	"tangled.sh/tangled.sh/healthsync/health/models"
)

// Plan declares the configuration components of a client:
//
//	read: [weight]
//	write: [steps]
//	collect:
//	  - type: steps
//	    mode: automatic
//	    interval: 15m
//	    background: true
//	    since: 2024-01-01T00:00:00Z
//	    origins: [com.example.watch]
type Plan struct {
	Read    []string       `yaml:"read"`
	Write   []string       `yaml:"write"`
	Collect []CollectEntry `yaml:"collect"`
}

type CollectEntry struct {
	Type string `yaml:"type"`
	// Mode is "automatic" (the default) or "manual".
	Mode       string        `yaml:"mode"`
	Interval   time.Duration `yaml:"interval"`
	Background bool          `yaml:"background"`
	Since      *time.Time    `yaml:"since"`
	// Origins keeps only records written by these apps.
	Origins []string `yaml:"origins"`
}

// LoadPlan reads a plan from path; an empty path is an empty plan.
func LoadPlan(path string) (*Plan, error) {
	if path == "" {
		return &Plan{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan: %w", err)
	}
	return ParsePlan(data)
}

func ParsePlan(data []byte) (*Plan, error) {
	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse plan: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *Plan) Validate() error {
	for _, id := range slices.Concat(p.Read, p.Write) {
		if _, err := models.ByID(id); err != nil {
			return err
		}
	}
	for i, c := range p.Collect {
		if _, err := models.ByID(c.Type); err != nil {
			return fmt.Errorf("collect[%d]: %w", i, err)
		}
		switch c.Mode {
		case "", "automatic", "manual":
		default:
			return fmt.Errorf("collect[%d]: invalid mode %q", i, c.Mode)
		}
		if c.Interval < 0 {
			return fmt.Errorf("collect[%d]: negative interval", i)
		}
	}
	return nil
}

// Components turns the plan into client components. Automatic entries
// without an interval poll every defaultInterval.
func (p *Plan) Components(defaultInterval time.Duration) ([]health.Component, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	var out []health.Component
	if len(p.Read) > 0 {
		out = append(out, health.RequestReadAccess(mustTypes(p.Read)...))
	}
	if len(p.Write) > 0 {
		out = append(out, health.RequestWriteAccess(mustTypes(p.Write)...))
	}

	for _, c := range p.Collect {
		t, _ := models.ByID(c.Type)

		mode := models.Manual
		if c.Mode != "manual" {
			interval := c.Interval
			if interval == 0 {
				interval = defaultInterval
			}
			mode = models.Automatic(interval)
		}

		timeRange := models.NewRecords()
		if c.Since != nil {
			timeRange = models.StartingAt(*c.Since)
		}

		out = append(out, health.CollectRecord(health.CollectorSpec{
			Type:      t,
			Setting:   models.DeliverySetting{Mode: mode, ContinueInBackground: c.Background},
			TimeRange: timeRange,
			Predicate: fromOrigins(c.Origins),
		}))
	}
	return out, nil
}

func fromOrigins(origins []string) models.Predicate {
	if len(origins) == 0 {
		return nil
	}
	return func(r models.Record) bool {
		return slices.Contains(origins, r.Meta().DataOrigin)
	}
}

// mustTypes is only called on validated ids.
func mustTypes(ids []string) []models.RecordType {
	out := make([]models.RecordType, 0, len(ids))
	for _, id := range ids {
		t, err := models.ByID(id)
		if err != nil {
			panic(err)
		}
		out = append(out, t)
	}
	return out
}
