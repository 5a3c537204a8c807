package csprcloud

import (
	"encoding/json"
	"fmt"

	"github.com/q4ZAr/kiln-mid-back/casper-delegation-scout/internal/domain"
	"github.com/shopspring/decimal"
)

// ValidatorIncludes expands the sub-resources the pipeline reads from each
// validator.
const ValidatorIncludes = "account_info{url,is_active},average_performance,network_share"

// FTActionTypeVote is the fungible token action type recorded when an
// account casts a governance vote.
const FTActionTypeVote = 2

// AuctionMetrics is the data object of /auction-metrics, decoded with
// json.Number for numeric values.
type AuctionMetrics map[string]interface{}

func (m AuctionMetrics) CurrentEraID() (int64, error) {
	v, ok := m["current_era_id"]
	if !ok || v == nil {
		return 0, fmt.Errorf("auction metrics have no current_era_id")
	}
	switch n := v.(type) {
	case json.Number:
		id, err := n.Int64()
		if err != nil {
			return 0, fmt.Errorf("invalid current_era_id %q: %w", n, err)
		}
		return id, nil
	case float64:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("unexpected current_era_id type %T", v)
	}
}

type auctionMetricsResponse struct {
	Data AuctionMetrics `json:"data"`
}

type ValidatorsPage struct {
	Data      []*domain.Record `json:"data"`
	PageCount int              `json:"page_count"`
}

type RelativePerformance struct {
	EraID     int64           `json:"era_id"`
	PublicKey string          `json:"public_key"`
	Score     decimal.Decimal `json:"score"`
}

type relativePerformancesResponse struct {
	Data []RelativePerformance `json:"data"`
}

type FTTokenAction struct {
	DeployHash          string `json:"deploy_hash"`
	BlockHeight         int64  `json:"block_height"`
	ContractPackageHash string `json:"contract_package_hash"`
	FTActionTypeID      int    `json:"ft_action_type_id"`
	FromPublicKey       string `json:"from_public_key,omitempty"`
	Amount              string `json:"amount"`
	Timestamp           string `json:"timestamp"`
}

type ftTokenActionsResponse struct {
	Data      []FTTokenAction `json:"data"`
	PageCount int             `json:"page_count"`
}
