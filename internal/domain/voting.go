package domain

import (
	"errors"
	"fmt"
)

// VotingWindow is one governance vote: token actions against the contract
// package between the two block heights count as participation.
type VotingWindow struct {
	ContractPackageHash string `yaml:"contract_package_hash"`
	FromBlockHeight     int64  `yaml:"from_block_height"`
	ToBlockHeight       int64  `yaml:"to_block_height"`
	Column              string `yaml:"column"`
}

func (w VotingWindow) Validate() error {
	if w.ContractPackageHash == "" {
		return errors.New("contract_package_hash is required")
	}
	if w.Column == "" {
		return errors.New("column is required")
	}
	if w.FromBlockHeight < 0 || w.ToBlockHeight < w.FromBlockHeight {
		return fmt.Errorf("invalid block range %d..%d", w.FromBlockHeight, w.ToBlockHeight)
	}
	return nil
}

// Correction forces a field of one validator to a fixed value after
// enrichment. It exists for upstream data that is known to be wrong.
type Correction struct {
	PublicKey string      `yaml:"public_key"`
	Field     string      `yaml:"field"`
	Value     interface{} `yaml:"value"`
	Reason    string      `yaml:"reason"`
}

type Corrections []Correction

// Apply writes every correction matching the record and returns the ones used.
func (cs Corrections) Apply(r *Record) []Correction {
	var applied []Correction
	pk := r.PublicKey()
	for _, c := range cs {
		if c.PublicKey != pk {
			continue
		}
		r.Set(c.Field, c.Value)
		applied = append(applied, c)
	}
	return applied
}
