package application

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/q4ZAr/kiln-mid-back/casper-delegation-scout/internal/domain"
	"github.com/q4ZAr/kiln-mid-back/casper-delegation-scout/internal/infrastructure/csprcloud"
	"github.com/q4ZAr/kiln-mid-back/casper-delegation-scout/internal/infrastructure/csvfile"
	"github.com/q4ZAr/kiln-mid-back/casper-delegation-scout/pkg/config"
	"github.com/q4ZAr/kiln-mid-back/casper-delegation-scout/pkg/logger"
	"github.com/q4ZAr/kiln-mid-back/casper-delegation-scout/pkg/metrics"
	"github.com/shopspring/decimal"
)

type APIClient interface {
	GetAuctionMetrics(ctx context.Context) (csprcloud.AuctionMetrics, error)
	GetValidators(ctx context.Context, eraID int64, page int) (*csprcloud.ValidatorsPage, error)
	GetRelativePerformances(ctx context.Context, publicKey string, eraIDs []int64) ([]csprcloud.RelativePerformance, error)
	GetFTTokenActions(ctx context.Context, publicKey string, window domain.VotingWindow) ([]csprcloud.FTTokenAction, error)
}

type RecordWriter interface {
	Write(name string, records []*domain.Record) (string, error)
}

// Result describes a completed run.
type Result struct {
	RunID          string
	EraID          int64
	Validators     int
	Candidates     int
	ValidatorsFile string
	CandidatesFile string
	// Changes is nil when no earlier run was stored to compare against.
	Changes *domain.CandidateChanges
}

type Service struct {
	client    APIClient
	pipeline  *config.Pipeline
	writer    RecordWriter
	snapshots domain.SnapshotRepository
	logger    *logger.Logger
}

// NewService wires the pipeline. snapshots may be nil, in which case runs are
// only written to CSV.
func NewService(
	client APIClient,
	pipeline *config.Pipeline,
	writer RecordWriter,
	snapshots domain.SnapshotRepository,
	logger *logger.Logger,
) *Service {
	return &Service{
		client:    client,
		pipeline:  pipeline,
		writer:    writer,
		snapshots: snapshots,
		logger:    logger,
	}
}

// Run processes the last completed era: fetch, enrich, filter, persist.
// Failing to read the auction metrics or any validator page aborts the run
// before anything is written.
func (s *Service) Run(ctx context.Context) (*Result, error) {
	runID := uuid.New().String()
	log := s.logger.WithFields(map[string]interface{}{"run_id": runID})

	auction, err := s.FetchAuctionMetrics(ctx)
	if err != nil {
		return nil, err
	}

	currentEra, err := auction.CurrentEraID()
	if err != nil {
		log.Errorw("Auction metrics are unusable", "error", err)
		return nil, err
	}
	eraID := currentEra - 1

	log.Infow("Processing last completed era", "era_id", eraID)

	validators, err := s.FetchValidators(ctx, eraID)
	if err != nil {
		return nil, err
	}

	candidates := s.pipeline.Eligibility.Filter(validators)
	log.Infow("Filtered delegation candidates",
		"validators", len(validators),
		"candidates", len(candidates),
		"filtered_out", len(validators)-len(candidates),
	)

	changes := s.compareWithPreviousRun(ctx, log, candidates)

	validatorsFile, err := s.writer.Write(csvfile.ValidatorsFileName(eraID), validators)
	if err != nil {
		log.Errorw("Failed to save validators", "error", err)
		return nil, fmt.Errorf("failed to save validators: %w", err)
	}

	candidatesFile, err := s.writer.Write(csvfile.CandidatesFileName(eraID), candidates)
	if err != nil {
		log.Errorw("Failed to save delegation candidates", "error", err)
		return nil, fmt.Errorf("failed to save delegation candidates: %w", err)
	}

	if s.snapshots != nil {
		snapshot := &domain.Snapshot{
			RunID:      runID,
			EraID:      eraID,
			CreatedAt:  time.Now(),
			Validators: validators,
			Candidates: candidates,
		}
		if err := s.snapshots.SaveSnapshot(ctx, snapshot); err != nil {
			log.Errorw("Failed to store run snapshot", "error", err)
		} else {
			metrics.SnapshotsStored.Inc()
		}
	}

	metrics.UpdateRunResult(eraID, len(candidates))

	result := &Result{
		RunID:          runID,
		EraID:          eraID,
		Validators:     len(validators),
		Candidates:     len(candidates),
		ValidatorsFile: validatorsFile,
		CandidatesFile: candidatesFile,
		Changes:        changes,
	}

	log.Infow("Run complete",
		"era_id", result.EraID,
		"validators", result.Validators,
		"candidates", result.Candidates,
		"validators_file", result.ValidatorsFile,
		"candidates_file", result.CandidatesFile,
	)

	return result, nil
}

// compareWithPreviousRun diffs candidates against the latest stored run.
// Any failure only costs the comparison.
func (s *Service) compareWithPreviousRun(ctx context.Context, log *logger.Logger, candidates []*domain.Record) *domain.CandidateChanges {
	if s.snapshots == nil {
		return nil
	}

	previous, err := s.snapshots.GetLatestRun(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNoRuns) {
			log.Info("No previous run stored, skipping candidate comparison")
		} else {
			log.Warnw("Failed to load previous run", "error", err)
		}
		return nil
	}

	previousCandidates, err := s.snapshots.FindCandidates(ctx, previous.RunID)
	if err != nil {
		log.Warnw("Failed to load previous candidates", "error", err, "previous_run_id", previous.RunID)
		return nil
	}

	changes := domain.DiffCandidates(previousCandidates, candidates)
	changes.PreviousRunID = previous.RunID
	changes.PreviousEraID = previous.EraID

	log.Infow("Compared candidates with previous run",
		"previous_run_id", previous.RunID,
		"previous_era_id", previous.EraID,
		"added", changes.Added,
		"dropped", changes.Dropped,
	)
	return changes
}

// FetchAuctionMetrics reads the current network metrics and logs each one.
func (s *Service) FetchAuctionMetrics(ctx context.Context) (csprcloud.AuctionMetrics, error) {
	s.logger.Info("Fetching auction metrics...")

	auction, err := s.client.GetAuctionMetrics(ctx)
	if err != nil {
		if errors.Is(err, csprcloud.ErrMissingCredential) {
			s.logger.Error("CSPR_CLOUD_KEY is not set")
		} else {
			s.logger.Errorw("Failed to fetch auction metrics", "error", err)
		}
		return nil, fmt.Errorf("failed to fetch auction metrics: %w", err)
	}

	keys := make([]string, 0, len(auction))
	for k := range auction {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		s.logger.Infow("Auction metric", "name", k, "value", auction[k])
	}

	return auction, nil
}

// FetchValidators walks every page of the era's validator list, enriching
// each record before moving on to the next one.
func (s *Service) FetchValidators(ctx context.Context, eraID int64) ([]*domain.Record, error) {
	validators := make([]*domain.Record, 0)
	page := 1

	for {
		resp, err := s.client.GetValidators(ctx, eraID, page)
		if err != nil {
			s.logger.Errorw("Failed to fetch validators", "error", err, "era_id", eraID, "page", page)
			return nil, fmt.Errorf("failed to fetch validators page %d of era %d: %w", page, eraID, err)
		}
		metrics.PagesFetched.Inc()

		for _, record := range resp.Data {
			if record == nil {
				continue
			}
			s.Enrich(ctx, record, eraID)
			// A lookup cut short by cancellation is not a per-validator failure.
			if err := ctx.Err(); err != nil {
				s.logger.Errorw("Run interrupted while enriching validators",
					"error", err, "era_id", eraID, "page", page, "public_key", record.PublicKey())
				return nil, fmt.Errorf("interrupted while enriching validator %s: %w", record.PublicKey(), err)
			}
			validators = append(validators, record)
			metrics.ValidatorsFetched.Inc()
		}

		s.logger.Infow("Fetched validators page",
			"era_id", eraID,
			"page", page,
			"page_count", resp.PageCount,
			"total", len(validators),
		)

		if page >= resp.PageCount {
			break
		}
		page++
	}

	return validators, nil
}

// Enrich derives every computed field of r in place. Lookups that fail fall
// back to values that keep the validator out of the candidate list.
func (s *Service) Enrich(ctx context.Context, r *domain.Record, eraID int64) {
	url, active := "", false
	if info, ok := r.Object(domain.FieldAccountInfo); ok {
		url, _ = info["url"].(string)
		active, _ = info["is_active"].(bool)
	}
	r.Set(domain.FieldAccountInfoURL, url)
	r.Set(domain.FieldAccountInfoActive, active)

	performance := 0.0
	if perf, ok := r.Object(domain.FieldAveragePerformance); ok {
		if score, ok := domain.ToFloat(perf["score"]); ok {
			performance = domain.Round(score, 1)
		}
	}
	r.Set(domain.FieldAveragePerformance, performance)

	r.Set(domain.FieldTenured, s.CheckTenure(ctx, r.PublicKey(), eraID))

	s.enrichVoting(ctx, r)

	for _, c := range s.pipeline.Corrections.Apply(r) {
		metrics.RecordCorrection(c.Field)
		s.logger.Infow("Applied record correction",
			"public_key", c.PublicKey,
			"field", c.Field,
			"value", c.Value,
			"reason", c.Reason,
		)
	}
}

// CheckTenure reports whether publicKey has a positive score at every
// configured era offset before eraID. A failed lookup counts as no scores.
func (s *Service) CheckTenure(ctx context.Context, publicKey string, eraID int64) bool {
	offsets := s.pipeline.Tenure.EraOffsets
	eras := make([]int64, len(offsets))
	for i, offset := range offsets {
		eras[i] = eraID - offset
	}

	scores := make(map[int64]decimal.Decimal, len(eras))
	perfs, err := s.client.GetRelativePerformances(ctx, publicKey, eras)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		s.logger.Warnw("Failed to fetch performance history, treating as not tenured",
			"error", err, "public_key", publicKey, "eras", eras)
		metrics.RecordEnrichmentFallback("tenure")
	}
	for _, p := range perfs {
		scores[p.EraID] = p.Score
	}

	for _, era := range eras {
		score, ok := scores[era]
		if !ok || !score.IsPositive() {
			return false
		}
	}
	return true
}

// CheckParticipation returns 1 when publicKey cast a vote within the window
// and 0 otherwise, including when the lookup fails.
func (s *Service) CheckParticipation(ctx context.Context, publicKey string, window domain.VotingWindow) int {
	actions, err := s.client.GetFTTokenActions(ctx, publicKey, window)
	if err != nil {
		if ctx.Err() != nil {
			return 0
		}
		s.logger.Warnw("Failed to fetch token actions, counting as no vote",
			"error", err, "public_key", publicKey, "column", window.Column)
		metrics.RecordEnrichmentFallback("voting")
		return 0
	}

	for _, a := range actions {
		if a.FTActionTypeID == csprcloud.FTActionTypeVote {
			return 1
		}
	}
	return 0
}

func (s *Service) enrichVoting(ctx context.Context, r *domain.Record) {
	windows := s.pipeline.Voting.Windows

	share, ok := r.Float(domain.FieldNetworkShare)
	if ok && share < s.pipeline.Voting.ExemptBelowNetworkShare {
		for _, w := range windows {
			r.Set(w.Column, 1)
		}
		r.Set(domain.FieldOnchainParticipation, 1.0)
		return
	}

	if len(windows) == 0 {
		r.Set(domain.FieldOnchainParticipation, 1.0)
		return
	}

	voted := 0
	for _, w := range windows {
		participated := s.CheckParticipation(ctx, r.PublicKey(), w)
		r.Set(w.Column, participated)
		voted += participated
	}
	r.Set(domain.FieldOnchainParticipation, domain.Round(float64(voted)/float64(len(windows)), 2))
}
