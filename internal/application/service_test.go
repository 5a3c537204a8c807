package application

import (
	"context"
	"errors"
	"testing"

	"github.com/q4ZAr/kiln-mid-back/casper-delegation-scout/internal/domain"
	"github.com/q4ZAr/kiln-mid-back/casper-delegation-scout/internal/infrastructure/csprcloud"
	"github.com/q4ZAr/kiln-mid-back/casper-delegation-scout/internal/testutil"
	"github.com/q4ZAr/kiln-mid-back/casper-delegation-scout/pkg/config"
	"github.com/q4ZAr/kiln-mid-back/casper-delegation-scout/pkg/logger"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockAPIClient struct {
	mock.Mock
}

func (m *MockAPIClient) GetAuctionMetrics(ctx context.Context) (csprcloud.AuctionMetrics, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(csprcloud.AuctionMetrics), args.Error(1)
}

func (m *MockAPIClient) GetValidators(ctx context.Context, eraID int64, page int) (*csprcloud.ValidatorsPage, error) {
	args := m.Called(ctx, eraID, page)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*csprcloud.ValidatorsPage), args.Error(1)
}

func (m *MockAPIClient) GetRelativePerformances(ctx context.Context, publicKey string, eraIDs []int64) ([]csprcloud.RelativePerformance, error) {
	args := m.Called(ctx, publicKey, eraIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]csprcloud.RelativePerformance), args.Error(1)
}

func (m *MockAPIClient) GetFTTokenActions(ctx context.Context, publicKey string, window domain.VotingWindow) ([]csprcloud.FTTokenAction, error) {
	args := m.Called(ctx, publicKey, window)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]csprcloud.FTTokenAction), args.Error(1)
}

type recordingWriter struct {
	files map[string][]*domain.Record
	err   error
}

func (w *recordingWriter) Write(name string, records []*domain.Record) (string, error) {
	if w.err != nil {
		return "", w.err
	}
	if w.files == nil {
		w.files = make(map[string][]*domain.Record)
	}
	w.files[name] = records
	return "/out/" + name, nil
}

var (
	windowA = domain.VotingWindow{ContractPackageHash: "aaa", FromBlockHeight: 100, ToBlockHeight: 200, Column: "voting_participation_001"}
	windowB = domain.VotingWindow{ContractPackageHash: "bbb", FromBlockHeight: 300, ToBlockHeight: 400, Column: "voting_participation_002"}
	windowC = domain.VotingWindow{ContractPackageHash: "ccc", FromBlockHeight: 500, ToBlockHeight: 600, Column: "voting_participation_003"}
)

func testPipeline(windows ...domain.VotingWindow) *config.Pipeline {
	p := config.DefaultPipeline()
	p.Voting.Windows = windows
	return p
}

func newTestService(client APIClient, pipeline *config.Pipeline, writer RecordWriter) *Service {
	log, _ := logger.New("debug", "test")
	return NewService(client, pipeline, writer, nil, log)
}

func scores(eraScores map[int64]string) []csprcloud.RelativePerformance {
	out := make([]csprcloud.RelativePerformance, 0, len(eraScores))
	for era, s := range eraScores {
		out = append(out, csprcloud.RelativePerformance{EraID: era, Score: decimal.RequireFromString(s)})
	}
	return out
}

func TestService_Enrich_AccountInfo(t *testing.T) {
	client := new(MockAPIClient)
	client.On("GetRelativePerformances", mock.Anything, mock.Anything, mock.Anything).Return([]csprcloud.RelativePerformance{}, nil)
	service := newTestService(client, testPipeline(), &recordingWriter{})

	withInfo := testutil.RecordFrom(t, testutil.NewValidator("01aa"))
	service.Enrich(context.Background(), withInfo, 2000)
	assert.Equal(t, "https://01aa.example", mustGet(t, withInfo, domain.FieldAccountInfoURL))
	assert.Equal(t, true, mustGet(t, withInfo, domain.FieldAccountInfoActive))

	v := testutil.NewValidator("01bb")
	v["account_info"] = nil
	nullInfo := testutil.RecordFrom(t, v)
	service.Enrich(context.Background(), nullInfo, 2000)
	assert.Equal(t, "", mustGet(t, nullInfo, domain.FieldAccountInfoURL))
	assert.Equal(t, false, mustGet(t, nullInfo, domain.FieldAccountInfoActive))

	v = testutil.NewValidator("01cc")
	delete(v, "account_info")
	noInfo := testutil.RecordFrom(t, v)
	service.Enrich(context.Background(), noInfo, 2000)
	assert.Equal(t, "", mustGet(t, noInfo, domain.FieldAccountInfoURL))
	assert.Equal(t, false, mustGet(t, noInfo, domain.FieldAccountInfoActive))
}

func TestService_Enrich_AveragePerformance(t *testing.T) {
	client := new(MockAPIClient)
	client.On("GetRelativePerformances", mock.Anything, mock.Anything, mock.Anything).Return([]csprcloud.RelativePerformance{}, nil)
	service := newTestService(client, testPipeline(), &recordingWriter{})

	tests := []struct {
		name  string
		value interface{}
		drop  bool
		want  float64
	}{
		{name: "rounded to one decimal", value: map[string]interface{}{"score": 99.87}, want: 99.9},
		{name: "null object", value: nil, want: 0},
		{name: "missing field", drop: true, want: 0},
		{name: "object without score", value: map[string]interface{}{}, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := testutil.NewValidator("01aa")
			if tt.drop {
				delete(v, "average_performance")
			} else {
				v["average_performance"] = tt.value
			}
			r := testutil.RecordFrom(t, v)

			service.Enrich(context.Background(), r, 2000)

			got, ok := r.Float(domain.FieldAveragePerformance)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestService_Enrich_FieldOrder(t *testing.T) {
	client := new(MockAPIClient)
	client.On("GetRelativePerformances", mock.Anything, mock.Anything, mock.Anything).Return([]csprcloud.RelativePerformance{}, nil)
	client.On("GetFTTokenActions", mock.Anything, mock.Anything, mock.Anything).Return([]csprcloud.FTTokenAction{}, nil)
	service := newTestService(client, testPipeline(windowA, windowB), &recordingWriter{})

	r := domain.NewRecord()
	r.Set(domain.FieldPublicKey, "01aa")
	r.Set(domain.FieldAveragePerformance, map[string]interface{}{"score": 99.0})
	r.Set(domain.FieldNetworkShare, "2.0")

	service.Enrich(context.Background(), r, 2000)

	assert.Equal(t, []string{
		"public_key", "average_performance", "network_share",
		"account_info_url", "account_info_active", "is_3_months_old",
		"voting_participation_001", "voting_participation_002",
		"onchain_voting_participation",
	}, r.Keys())
}

func TestService_CheckTenure(t *testing.T) {
	eras := []int64{1640, 1280, 920}

	tests := []struct {
		name   string
		scores []csprcloud.RelativePerformance
		err    error
		want   bool
	}{
		{name: "positive at every checkpoint", scores: scores(map[int64]string{1640: "99.1", 1280: "97", 920: "0.5"}), want: true},
		{name: "one checkpoint missing", scores: scores(map[int64]string{1640: "99.1", 1280: "97"}), want: false},
		{name: "one checkpoint zero", scores: scores(map[int64]string{1640: "99.1", 1280: "0", 920: "98"}), want: false},
		{name: "no history", scores: []csprcloud.RelativePerformance{}, want: false},
		{name: "request failed", err: errors.New("timeout"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := new(MockAPIClient)
			if tt.err != nil {
				client.On("GetRelativePerformances", mock.Anything, "01aa", eras).Return(nil, tt.err)
			} else {
				client.On("GetRelativePerformances", mock.Anything, "01aa", eras).Return(tt.scores, nil)
			}
			service := newTestService(client, testPipeline(), &recordingWriter{})

			assert.Equal(t, tt.want, service.CheckTenure(context.Background(), "01aa", 2000))
			client.AssertNumberOfCalls(t, "GetRelativePerformances", 1)
		})
	}
}

func TestService_CheckTenure_CustomOffsets(t *testing.T) {
	client := new(MockAPIClient)
	client.On("GetRelativePerformances", mock.Anything, "01aa", []int64{99}).
		Return(scores(map[int64]string{99: "1"}), nil)

	p := testPipeline()
	p.Tenure.EraOffsets = []int64{1}
	service := newTestService(client, p, &recordingWriter{})

	assert.True(t, service.CheckTenure(context.Background(), "01aa", 100))
}

func TestService_CheckParticipation(t *testing.T) {
	tests := []struct {
		name    string
		actions []csprcloud.FTTokenAction
		err     error
		want    int
	}{
		{name: "vote present", actions: []csprcloud.FTTokenAction{{FTActionTypeID: 1}, {FTActionTypeID: csprcloud.FTActionTypeVote}}, want: 1},
		{name: "only transfers", actions: []csprcloud.FTTokenAction{{FTActionTypeID: 1}, {FTActionTypeID: 3}}, want: 0},
		{name: "no actions", actions: []csprcloud.FTTokenAction{}, want: 0},
		{name: "request failed", err: errors.New("503"), want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := new(MockAPIClient)
			if tt.err != nil {
				client.On("GetFTTokenActions", mock.Anything, "01aa", windowA).Return(nil, tt.err)
			} else {
				client.On("GetFTTokenActions", mock.Anything, "01aa", windowA).Return(tt.actions, nil)
			}
			service := newTestService(client, testPipeline(windowA), &recordingWriter{})

			assert.Equal(t, tt.want, service.CheckParticipation(context.Background(), "01aa", windowA))
		})
	}
}

func TestService_VotingExemption(t *testing.T) {
	client := new(MockAPIClient)
	client.On("GetRelativePerformances", mock.Anything, mock.Anything, mock.Anything).Return([]csprcloud.RelativePerformance{}, nil)
	service := newTestService(client, testPipeline(windowA, windowB), &recordingWriter{})

	v := testutil.NewValidator("01aa")
	v["network_share"] = "0.0099"
	r := testutil.RecordFrom(t, v)

	service.Enrich(context.Background(), r, 2000)

	assert.Equal(t, 1, mustGet(t, r, windowA.Column))
	assert.Equal(t, 1, mustGet(t, r, windowB.Column))
	assert.Equal(t, 1.0, mustGet(t, r, domain.FieldOnchainParticipation))
	client.AssertNotCalled(t, "GetFTTokenActions", mock.Anything, mock.Anything, mock.Anything)
}

func TestService_VotingAtExemptionThresholdIsChecked(t *testing.T) {
	client := new(MockAPIClient)
	client.On("GetRelativePerformances", mock.Anything, mock.Anything, mock.Anything).Return([]csprcloud.RelativePerformance{}, nil)
	client.On("GetFTTokenActions", mock.Anything, "01aa", windowA).Return([]csprcloud.FTTokenAction{}, nil)
	service := newTestService(client, testPipeline(windowA), &recordingWriter{})

	v := testutil.NewValidator("01aa")
	v["network_share"] = "0.01"
	r := testutil.RecordFrom(t, v)

	service.Enrich(context.Background(), r, 2000)

	assert.Equal(t, 0, mustGet(t, r, windowA.Column))
	assert.Equal(t, 0.0, mustGet(t, r, domain.FieldOnchainParticipation))
}

func TestService_VotingAggregation(t *testing.T) {
	client := new(MockAPIClient)
	client.On("GetRelativePerformances", mock.Anything, mock.Anything, mock.Anything).Return([]csprcloud.RelativePerformance{}, nil)
	client.On("GetFTTokenActions", mock.Anything, "01aa", windowA).
		Return([]csprcloud.FTTokenAction{{FTActionTypeID: csprcloud.FTActionTypeVote}}, nil)
	client.On("GetFTTokenActions", mock.Anything, "01aa", windowB).
		Return([]csprcloud.FTTokenAction{{FTActionTypeID: 1}}, nil)
	service := newTestService(client, testPipeline(windowA, windowB), &recordingWriter{})

	r := testutil.RecordFrom(t, testutil.NewValidator("01aa"))
	service.Enrich(context.Background(), r, 2000)

	assert.Equal(t, 1, mustGet(t, r, windowA.Column))
	assert.Equal(t, 0, mustGet(t, r, windowB.Column))
	assert.Equal(t, 0.5, mustGet(t, r, domain.FieldOnchainParticipation))
}

func TestService_VotingAggregationRoundsToTwoDecimals(t *testing.T) {
	client := new(MockAPIClient)
	client.On("GetRelativePerformances", mock.Anything, mock.Anything, mock.Anything).Return([]csprcloud.RelativePerformance{}, nil)
	vote := []csprcloud.FTTokenAction{{FTActionTypeID: csprcloud.FTActionTypeVote}}
	client.On("GetFTTokenActions", mock.Anything, "01aa", windowA).Return(vote, nil)
	client.On("GetFTTokenActions", mock.Anything, "01aa", windowB).Return(vote, nil)
	client.On("GetFTTokenActions", mock.Anything, "01aa", windowC).Return(nil, errors.New("connection reset"))
	service := newTestService(client, testPipeline(windowA, windowB, windowC), &recordingWriter{})

	r := testutil.RecordFrom(t, testutil.NewValidator("01aa"))
	service.Enrich(context.Background(), r, 2000)

	assert.Equal(t, 0, mustGet(t, r, windowC.Column), "failed lookup counts as no vote")
	assert.Equal(t, 0.67, mustGet(t, r, domain.FieldOnchainParticipation))
}

func TestService_VotingWithoutWindows(t *testing.T) {
	client := new(MockAPIClient)
	client.On("GetRelativePerformances", mock.Anything, mock.Anything, mock.Anything).Return([]csprcloud.RelativePerformance{}, nil)
	service := newTestService(client, testPipeline(), &recordingWriter{})

	r := testutil.RecordFrom(t, testutil.NewValidator("01aa"))
	service.Enrich(context.Background(), r, 2000)

	assert.Equal(t, 1.0, mustGet(t, r, domain.FieldOnchainParticipation))
	client.AssertNotCalled(t, "GetFTTokenActions", mock.Anything, mock.Anything, mock.Anything)
}

func TestService_Enrich_AppliesCorrections(t *testing.T) {
	client := new(MockAPIClient)
	client.On("GetRelativePerformances", mock.Anything, mock.Anything, mock.Anything).Return([]csprcloud.RelativePerformance{}, nil)

	p := testPipeline()
	p.Corrections = domain.Corrections{
		{PublicKey: "01aa", Field: domain.FieldAccountInfoActive, Value: true, Reason: "stale upstream flag"},
	}
	service := newTestService(client, p, &recordingWriter{})

	v := testutil.NewValidator("01aa")
	v["account_info"] = map[string]interface{}{"url": "https://01aa.example", "is_active": false}
	corrected := testutil.RecordFrom(t, v)
	service.Enrich(context.Background(), corrected, 2000)
	assert.Equal(t, true, mustGet(t, corrected, domain.FieldAccountInfoActive))

	v = testutil.NewValidator("01bb")
	v["account_info"] = map[string]interface{}{"url": "https://01bb.example", "is_active": false}
	untouched := testutil.RecordFrom(t, v)
	service.Enrich(context.Background(), untouched, 2000)
	assert.Equal(t, false, mustGet(t, untouched, domain.FieldAccountInfoActive))
}

func TestService_FetchValidators_Pagination(t *testing.T) {
	client := new(MockAPIClient)
	client.On("GetRelativePerformances", mock.Anything, mock.Anything, mock.Anything).Return([]csprcloud.RelativePerformance{}, nil)
	for page, keys := range [][]string{{"01a", "01b"}, {"01c"}, {"01d", "01e"}} {
		data := make([]*domain.Record, 0, len(keys))
		for _, k := range keys {
			data = append(data, testutil.RecordFrom(t, testutil.NewValidator(k)))
		}
		client.On("GetValidators", mock.Anything, int64(2000), page+1).
			Return(&csprcloud.ValidatorsPage{Data: data, PageCount: 3}, nil).Once()
	}
	service := newTestService(client, testPipeline(), &recordingWriter{})

	records, err := service.FetchValidators(context.Background(), 2000)
	require.NoError(t, err)

	client.AssertNumberOfCalls(t, "GetValidators", 3)
	client.AssertNotCalled(t, "GetValidators", mock.Anything, int64(2000), 4)

	keys := make([]string, len(records))
	for i, r := range records {
		keys[i] = r.PublicKey()
		assert.True(t, r.Has(domain.FieldTenured), "record %s not enriched", keys[i])
	}
	assert.Equal(t, []string{"01a", "01b", "01c", "01d", "01e"}, keys)
}

func TestService_FetchValidators_PageFailureAborts(t *testing.T) {
	client := new(MockAPIClient)
	client.On("GetRelativePerformances", mock.Anything, mock.Anything, mock.Anything).Return([]csprcloud.RelativePerformance{}, nil)
	client.On("GetValidators", mock.Anything, int64(2000), 1).
		Return(&csprcloud.ValidatorsPage{Data: []*domain.Record{testutil.RecordFrom(t, testutil.NewValidator("01a"))}, PageCount: 2}, nil)
	client.On("GetValidators", mock.Anything, int64(2000), 2).
		Return(nil, &csprcloud.RequestError{Endpoint: "validators", StatusCode: 500})
	service := newTestService(client, testPipeline(), &recordingWriter{})

	records, err := service.FetchValidators(context.Background(), 2000)
	require.Error(t, err)
	assert.Nil(t, records)

	var reqErr *csprcloud.RequestError
	assert.True(t, errors.As(err, &reqErr))
}

func TestService_FetchValidators_MissingPageCountStops(t *testing.T) {
	client := new(MockAPIClient)
	client.On("GetValidators", mock.Anything, int64(2000), 1).
		Return(&csprcloud.ValidatorsPage{Data: []*domain.Record{}}, nil)
	service := newTestService(client, testPipeline(), &recordingWriter{})

	records, err := service.FetchValidators(context.Background(), 2000)
	require.NoError(t, err)
	assert.Empty(t, records)
	client.AssertNumberOfCalls(t, "GetValidators", 1)
}

func TestService_Run_MissingCredential(t *testing.T) {
	client := new(MockAPIClient)
	client.On("GetAuctionMetrics", mock.Anything).Return(nil, csprcloud.ErrMissingCredential)
	writer := &recordingWriter{}
	service := newTestService(client, testPipeline(), writer)

	result, err := service.Run(context.Background())
	assert.ErrorIs(t, err, csprcloud.ErrMissingCredential)
	assert.Nil(t, result)
	assert.Empty(t, writer.files)
	client.AssertNotCalled(t, "GetValidators", mock.Anything, mock.Anything, mock.Anything)
}

func TestService_Run_AuctionMetricsWithoutEra(t *testing.T) {
	client := new(MockAPIClient)
	client.On("GetAuctionMetrics", mock.Anything).Return(csprcloud.AuctionMetrics{"total_active_era_stake": "1"}, nil)
	writer := &recordingWriter{}
	service := newTestService(client, testPipeline(), writer)

	_, err := service.Run(context.Background())
	assert.Error(t, err)
	assert.Empty(t, writer.files)
}

func TestService_Run_WriteFailure(t *testing.T) {
	client := new(MockAPIClient)
	client.On("GetAuctionMetrics", mock.Anything).Return(csprcloud.AuctionMetrics{"current_era_id": float64(11)}, nil)
	client.On("GetValidators", mock.Anything, int64(10), 1).Return(&csprcloud.ValidatorsPage{PageCount: 1}, nil)
	service := newTestService(client, testPipeline(), &recordingWriter{err: errors.New("disk full")})

	_, err := service.Run(context.Background())
	assert.Error(t, err)
}

func TestService_Run_CancelledMidPageAborts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := new(MockAPIClient)
	client.On("GetAuctionMetrics", mock.Anything).Return(csprcloud.AuctionMetrics{"current_era_id": float64(2001)}, nil)
	client.On("GetValidators", mock.Anything, int64(2000), 1).Return(&csprcloud.ValidatorsPage{
		Data: []*domain.Record{
			testutil.RecordFrom(t, testutil.NewValidator("01a")),
			testutil.RecordFrom(t, testutil.NewValidator("01b")),
		},
		PageCount: 1,
	}, nil)
	tenured := scores(map[int64]string{1640: "99", 1280: "99", 920: "99"})
	client.On("GetRelativePerformances", mock.Anything, "01a", mock.Anything).Return(tenured, nil)
	client.On("GetRelativePerformances", mock.Anything, "01b", mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return(nil, context.Canceled)

	writer := &recordingWriter{}
	snapshots := new(testutil.MockSnapshotRepository)
	log, _ := logger.New("debug", "test")
	service := NewService(client, testPipeline(), writer, snapshots, log)

	result, err := service.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, result)
	assert.Empty(t, writer.files)
	snapshots.AssertNotCalled(t, "SaveSnapshot", mock.Anything, mock.Anything)
}

func TestService_FetchValidators_CancelledContextAborts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := new(MockAPIClient)
	client.On("GetValidators", mock.Anything, int64(2000), 1).Return(&csprcloud.ValidatorsPage{
		Data:      []*domain.Record{testutil.RecordFrom(t, testutil.NewValidator("01a"))},
		PageCount: 1,
	}, nil)
	client.On("GetRelativePerformances", mock.Anything, "01a", mock.Anything).Return(nil, context.Canceled)
	client.On("GetFTTokenActions", mock.Anything, "01a", windowA).Return(nil, context.Canceled)
	service := newTestService(client, testPipeline(windowA), &recordingWriter{})

	records, err := service.FetchValidators(ctx, 2000)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, records)
}

func TestService_Run_ComparesWithPreviousRun(t *testing.T) {
	client := new(MockAPIClient)
	client.On("GetAuctionMetrics", mock.Anything).Return(csprcloud.AuctionMetrics{"current_era_id": float64(2001)}, nil)
	client.On("GetValidators", mock.Anything, int64(2000), 1).Return(&csprcloud.ValidatorsPage{
		Data: []*domain.Record{
			testutil.RecordFrom(t, testutil.NewValidator("01keep")),
			testutil.RecordFrom(t, testutil.NewValidator("01new")),
		},
		PageCount: 1,
	}, nil)
	client.On("GetRelativePerformances", mock.Anything, mock.Anything, mock.Anything).
		Return(scores(map[int64]string{1640: "99", 1280: "99", 920: "99"}), nil)

	snapshots := new(testutil.MockSnapshotRepository)
	snapshots.On("GetLatestRun", mock.Anything).
		Return(&domain.RunSummary{RunID: "prev-run", EraID: 1999, Candidates: 2}, nil)
	snapshots.On("FindCandidates", mock.Anything, "prev-run").Return([]*domain.Record{
		testutil.RecordFrom(t, testutil.NewValidator("01keep")),
		testutil.RecordFrom(t, testutil.NewValidator("01gone")),
	}, nil)
	snapshots.On("SaveSnapshot", mock.Anything, mock.Anything).Return(nil)

	log, _ := logger.New("debug", "test")
	service := NewService(client, testPipeline(), &recordingWriter{}, snapshots, log)

	result, err := service.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, result.Changes)
	assert.Equal(t, "prev-run", result.Changes.PreviousRunID)
	assert.Equal(t, int64(1999), result.Changes.PreviousEraID)
	assert.Equal(t, []string{"01new"}, result.Changes.Added)
	assert.Equal(t, []string{"01gone"}, result.Changes.Dropped)
	snapshots.AssertExpectations(t)
}

func TestService_Run_PreviousRunUnavailable(t *testing.T) {
	tests := []struct {
		name      string
		latestErr error
	}{
		{name: "first run", latestErr: domain.ErrNoRuns},
		{name: "database error", latestErr: errors.New("connection reset")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := new(MockAPIClient)
			client.On("GetAuctionMetrics", mock.Anything).Return(csprcloud.AuctionMetrics{"current_era_id": float64(11)}, nil)
			client.On("GetValidators", mock.Anything, int64(10), 1).Return(&csprcloud.ValidatorsPage{PageCount: 1}, nil)

			snapshots := new(testutil.MockSnapshotRepository)
			snapshots.On("GetLatestRun", mock.Anything).Return(nil, tt.latestErr)
			snapshots.On("SaveSnapshot", mock.Anything, mock.Anything).Return(nil)

			log, _ := logger.New("debug", "test")
			service := NewService(client, testPipeline(), &recordingWriter{}, snapshots, log)

			result, err := service.Run(context.Background())
			require.NoError(t, err)
			assert.Nil(t, result.Changes)
			snapshots.AssertNotCalled(t, "FindCandidates", mock.Anything, mock.Anything)
			snapshots.AssertCalled(t, "SaveSnapshot", mock.Anything, mock.Anything)
		})
	}
}

func mustGet(t *testing.T, r *domain.Record, key string) interface{} {
	t.Helper()
	v, ok := r.Get(key)
	require.True(t, ok, "field %s missing", key)
	return v
}
