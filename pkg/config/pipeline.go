package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/q4ZAr/kiln-mid-back/casper-delegation-scout/internal/domain"
	"gopkg.in/yaml.v3"
)

// Pipeline holds the tables the enrichment pipeline is parameterised by.
type Pipeline struct {
	Tenure      Tenure             `yaml:"tenure"`
	Voting      Voting             `yaml:"voting"`
	Corrections domain.Corrections `yaml:"corrections"`
	Eligibility domain.Criteria    `yaml:"eligibility"`
}

type Tenure struct {
	// EraOffsets are subtracted from the processed era to get the
	// checkpoints a validator must have a positive score at.
	EraOffsets []int64 `yaml:"era_offsets"`
}

type Voting struct {
	ExemptBelowNetworkShare float64               `yaml:"exempt_below_network_share"`
	Windows                 []domain.VotingWindow `yaml:"windows"`
}

func DefaultPipeline() *Pipeline {
	return &Pipeline{
		Tenure: Tenure{
			EraOffsets: []int64{360, 720, 1080},
		},
		Voting: Voting{
			ExemptBelowNetworkShare: 0.01,
		},
		Eligibility: domain.DefaultCriteria(),
	}
}

// LoadPipeline reads the table file at path on top of the defaults. A missing
// file is not an error.
func LoadPipeline(path string) (*Pipeline, error) {
	p := DefaultPipeline()
	if path == "" {
		return p, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return p, nil
		}
		return nil, fmt.Errorf("failed to read pipeline config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("failed to parse pipeline config %s: %w", path, err)
	}

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline config %s: %w", path, err)
	}

	return p, nil
}

func (p *Pipeline) Validate() error {
	if len(p.Tenure.EraOffsets) == 0 {
		return errors.New("tenure.era_offsets must not be empty")
	}
	for _, offset := range p.Tenure.EraOffsets {
		if offset <= 0 {
			return fmt.Errorf("tenure.era_offsets must be positive, got %d", offset)
		}
	}

	columns := make(map[string]bool, len(p.Voting.Windows))
	for i, w := range p.Voting.Windows {
		if err := w.Validate(); err != nil {
			return fmt.Errorf("voting.windows[%d]: %w", i, err)
		}
		if columns[w.Column] {
			return fmt.Errorf("voting.windows[%d]: duplicate column %q", i, w.Column)
		}
		columns[w.Column] = true
	}

	for i, c := range p.Corrections {
		if c.PublicKey == "" || c.Field == "" {
			return fmt.Errorf("corrections[%d]: public_key and field are required", i)
		}
	}

	return p.Eligibility.Validate()
}
