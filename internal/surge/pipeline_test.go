package surge

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradekit/autotrader/internal/config"
	"github.com/tradekit/autotrader/internal/risk"
	"github.com/tradekit/autotrader/internal/telemetry"
	"github.com/tradekit/autotrader/internal/types"
)

// countingApprover records every invocation.
type countingApprover struct {
	mu     sync.Mutex
	calls  []types.SurgeCandidate
	answer bool
	delay  time.Duration
}

func (a *countingApprover) Approve(c types.SurgeCandidate) bool {
	a.mu.Lock()
	a.calls = append(a.calls, c)
	a.mu.Unlock()
	if a.delay > 0 {
		time.Sleep(a.delay)
	}
	return a.answer
}

func (a *countingApprover) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.calls)
}

// fakeAuthorizer returns a scripted decision.
type fakeAuthorizer struct {
	decision risk.Decision
	budget   float64
}

func (f *fakeAuthorizer) Authorize(symbol string, qty int64, price float64) risk.Decision {
	return f.decision
}

func (f *fakeAuthorizer) PositionBudget() float64 { return f.budget }

// fakeSubmitter records buys and completes them as filled.
type fakeSubmitter struct {
	mu     sync.Mutex
	orders []types.Order
	state  types.OrderState
}

func (f *fakeSubmitter) Submit(ctx context.Context, symbol string, side types.Side, qty int64, price float64, kind types.OrderKind) (types.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o := types.Order{OrderID: "ORD-" + symbol, Symbol: symbol, Side: side, Quantity: qty, Price: price, Kind: kind}
	f.orders = append(f.orders, o)
	return o, nil
}

func (f *fakeSubmitter) Await(orderID string) (<-chan struct{}, error) {
	done := make(chan struct{})
	close(done)
	return done, nil
}

func (f *fakeSubmitter) Get(orderID string) (types.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state := f.state
	if state == "" {
		state = types.OrderFilled
	}
	return types.Order{OrderID: orderID, State: state}, nil
}

func (f *fakeSubmitter) submitted() []types.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.Order(nil), f.orders...)
}

// fakeSubscriber records subscription calls.
type fakeSubscriber struct {
	mu      sync.Mutex
	symbols []string
}

func (f *fakeSubscriber) SubscribeQuotes(symbols []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.symbols = append(f.symbols, symbols...)
	return nil
}

func testPipeline(approver Approver) (*Pipeline, *fakeAuthorizer, *fakeSubmitter, *fakeSubscriber) {
	auth := &fakeAuthorizer{decision: risk.Decision{Allowed: true}, budget: 2_000_000}
	exec := &fakeSubmitter{}
	quotes := &fakeSubscriber{}
	cfg := config.Default().Surge
	cfg.ApprovalTimeout = 100 * time.Millisecond
	p := NewPipeline(cfg, approver, auth, exec, quotes, telemetry.NewSink(nil, nil), nil)
	return p, auth, exec, quotes
}

func detection(symbol string, score float64) Detection {
	return Detection{
		Symbol:      symbol,
		Name:        symbol + " Corp",
		Price:       10_000,
		ChangeRate:  0.12,
		VolumeRatio: 5.5,
		Score:       score,
		At:          time.Now(),
	}
}

func TestAutoApproveSubmitsOneBuy(t *testing.T) {
	p, _, exec, quotes := testPipeline(ScoreThresholdApprover{Threshold: 70})

	p.process(context.Background(), detection("S1", 85))

	orders := exec.submitted()
	require.Len(t, orders, 1, "exactly one order per approved candidate")
	assert.Equal(t, types.SideBuy, orders[0].Side)
	assert.Equal(t, "S1", orders[0].Symbol)
	// Sized from the risk budget: 2,000,000 / 10,000 = 200 shares.
	assert.Equal(t, int64(200), orders[0].Quantity)
	assert.Contains(t, quotes.symbols, "S1")
}

func TestAutoRejectBelowThreshold(t *testing.T) {
	p, _, exec, _ := testPipeline(ScoreThresholdApprover{Threshold: 70})

	p.process(context.Background(), detection("S1", 55))

	assert.Empty(t, exec.submitted())
	recent := p.Recent()
	require.Len(t, recent, 1)
	assert.Equal(t, types.CandidateRejected, recent[0].State)
}

func TestCooldownDiscardsRepeatDetection(t *testing.T) {
	approver := &countingApprover{answer: true}
	p, _, exec, _ := testPipeline(approver)

	p.process(context.Background(), detection("S1", 90))
	p.process(context.Background(), detection("S1", 95))

	assert.Equal(t, 1, approver.callCount(), "approval is not invoked for an in-cooldown detection")
	assert.Len(t, exec.submitted(), 1)
	assert.Len(t, p.Recent(), 1, "no second candidate is created")
}

func TestCooldownExpires(t *testing.T) {
	approver := &countingApprover{answer: true}
	p, _, _, _ := testPipeline(approver)

	base := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
	d1 := detection("S1", 90)
	d1.At = base
	d2 := detection("S1", 90)
	d2.At = base.Add(31 * time.Minute)

	p.process(context.Background(), d1)
	p.process(context.Background(), d2)

	assert.Equal(t, 2, approver.callCount())
	assert.Len(t, p.Recent(), 2)
}

func TestDistinctSymbolsUnaffectedByCooldown(t *testing.T) {
	approver := &countingApprover{answer: true}
	p, _, exec, _ := testPipeline(approver)

	p.process(context.Background(), detection("S1", 90))
	p.process(context.Background(), detection("S2", 90))

	assert.Equal(t, 2, approver.callCount())
	assert.Len(t, exec.submitted(), 2)
}

func TestApprovalTimeoutRejects(t *testing.T) {
	approver := &countingApprover{answer: true, delay: 300 * time.Millisecond}
	p, _, exec, _ := testPipeline(approver)

	p.process(context.Background(), detection("S1", 90))

	assert.Empty(t, exec.submitted(), "an unanswered approval call is a rejection")
	recent := p.Recent()
	require.Len(t, recent, 1)
	assert.Equal(t, types.CandidateRejected, recent[0].State)
}

func TestExternalApproverSeesFullCandidate(t *testing.T) {
	var got types.SurgeCandidate
	p, _, _, _ := testPipeline(ApproveFunc(func(c types.SurgeCandidate) bool {
		got = c
		return false
	}))

	d := detection("S1", 88)
	p.process(context.Background(), d)

	// The callback receives the whole candidate, not a subset of fields.
	assert.Equal(t, "S1", got.Symbol)
	assert.Equal(t, d.Name, got.Name)
	assert.Equal(t, d.Score, got.Score)
	assert.Equal(t, d.VolumeRatio, got.VolumeRatio)
	assert.NotEmpty(t, got.CandidateID)
	assert.Equal(t, types.CandidateDetected, got.State)
}

func TestRiskVetoRejectsApprovedCandidate(t *testing.T) {
	p, auth, exec, _ := testPipeline(ScoreThresholdApprover{Threshold: 70})
	veto := risk.Decision{}
	veto.Allowed = false
	veto.Violations = []risk.Violation{{Rule: risk.RuleDailyLoss, Msg: "daily loss limit breached"}}
	auth.decision = veto

	p.process(context.Background(), detection("S1", 90))

	assert.Empty(t, exec.submitted(), "a veto never creates an order")
	recent := p.Recent()
	require.Len(t, recent, 1)
	assert.Equal(t, types.CandidateRejected, recent[0].State)
	assert.Contains(t, recent[0].Reason, "risk veto")
}

func TestTinyBudgetRejects(t *testing.T) {
	p, auth, exec, _ := testPipeline(ScoreThresholdApprover{Threshold: 70})
	auth.budget = 500 // less than one share at 10,000

	p.process(context.Background(), detection("S1", 90))

	assert.Empty(t, exec.submitted())
	recent := p.Recent()
	require.Len(t, recent, 1)
	assert.Equal(t, types.CandidateRejected, recent[0].State)
}

func TestCandidateExecutedOnceFillConfirms(t *testing.T) {
	p, _, exec, _ := testPipeline(ScoreThresholdApprover{Threshold: 70})

	p.process(context.Background(), detection("S1", 90))
	require.Len(t, exec.submitted(), 1)

	require.Eventually(t, func() bool {
		recent := p.Recent()
		return len(recent) == 1 && recent[0].State == types.CandidateExecuted
	}, 2*time.Second, 5*time.Millisecond)
}

func TestRunConsumesOfferedDetections(t *testing.T) {
	p, _, exec, _ := testPipeline(ScoreThresholdApprover{Threshold: 70})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	require.True(t, p.Offer(detection("S1", 90)))

	require.Eventually(t, func() bool {
		return len(exec.submitted()) == 1
	}, 2*time.Second, 5*time.Millisecond)
}
