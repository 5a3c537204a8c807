package domain

import (
	"errors"
	"math"
)

// Criteria are the bounds a validator must meet to be a delegation candidate.
type Criteria struct {
	MinAveragePerformance  float64 `yaml:"min_average_performance"`
	MinFee                 float64 `yaml:"min_fee"`
	MaxFee                 float64 `yaml:"max_fee"`
	RankAbove              float64 `yaml:"rank_above"`
	DelegatorsBelow        float64 `yaml:"delegators_below"`
	MinVotingParticipation float64 `yaml:"min_voting_participation"`
}

func DefaultCriteria() Criteria {
	return Criteria{
		MinAveragePerformance:  98.0,
		MinFee:                 1,
		MaxFee:                 10,
		RankAbove:              10,
		DelegatorsBelow:        1200,
		MinVotingParticipation: 0.5,
	}
}

func (c Criteria) Validate() error {
	if c.MaxFee < c.MinFee {
		return errors.New("eligibility.max_fee must not be below eligibility.min_fee")
	}
	return nil
}

// Eligible reports whether r meets every bound. A missing rank counts as
// +Inf and a missing delegator count as -Inf, so both pass their bound; a
// missing fee or score fails.
func (c Criteria) Eligible(r *Record) bool {
	if !r.Bool(FieldTenured) {
		return false
	}

	perf, _ := r.Float(FieldAveragePerformance)
	if perf < c.MinAveragePerformance {
		return false
	}

	if !r.Bool(FieldAccountInfoActive) {
		return false
	}

	fee, ok := r.Float(FieldFee)
	if !ok || fee < c.MinFee || fee > c.MaxFee {
		return false
	}

	rank, ok := r.Float(FieldRank)
	if !ok {
		rank = math.Inf(1)
	}
	if rank <= c.RankAbove {
		return false
	}

	delegators, ok := r.Float(FieldDelegatorsNumber)
	if !ok {
		delegators = math.Inf(-1)
	}
	if delegators >= c.DelegatorsBelow {
		return false
	}

	participation, _ := r.Float(FieldOnchainParticipation)
	return participation >= c.MinVotingParticipation
}

// Filter keeps the eligible records in their original order.
func (c Criteria) Filter(records []*Record) []*Record {
	candidates := make([]*Record, 0)
	for _, r := range records {
		if c.Eligible(r) {
			candidates = append(candidates, r)
		}
	}
	return candidates
}
