// Package surge decides whether scanner detections become live trading
// entries. Detections arrive on a channel from scanner workers and are
// processed one at a time by the pipeline goroutine, so candidate state never
// needs cross-goroutine locking beyond the cooldown map.
//
// Candidates move DETECTED -> {APPROVED, REJECTED} and APPROVED ->
// {EXECUTED, REJECTED}: approval admits a candidate to the entry attempt, and
// a failure anywhere after that (budget, risk veto, submission, an entry
// order that does not fill) rejects it with the reason recorded. A detection
// for a symbol still in cooldown is discarded before a candidate exists.
package surge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tradekit/autotrader/internal/config"
	"github.com/tradekit/autotrader/internal/metrics"
	"github.com/tradekit/autotrader/internal/risk"
	"github.com/tradekit/autotrader/internal/store"
	"github.com/tradekit/autotrader/internal/telemetry"
	"github.com/tradekit/autotrader/internal/types"
	"github.com/tradekit/autotrader/pkg/id"
)

// Detection is a raw scanner observation, before any candidate exists.
type Detection struct {
	Symbol      string
	Name        string
	Price       float64
	ChangeRate  float64
	VolumeRatio float64
	Score       float64
	At          time.Time
}

// Approver decides admission for one candidate. It receives the full
// candidate — a single structured parameter — so the decision and the
// order-sizing step that follows share one consistent view. Changing this
// signature is a breaking interface change: every call site moves in the
// same commit.
type Approver interface {
	Approve(c types.SurgeCandidate) bool
}

// ScoreThresholdApprover auto-approves on composite score. This is the
// unattended default.
type ScoreThresholdApprover struct {
	Threshold float64
}

func (a ScoreThresholdApprover) Approve(c types.SurgeCandidate) bool {
	return c.Score >= a.Threshold
}

// ApproveFunc adapts an external synchronous decision function. The pipeline
// bounds the call with a timeout; a callback that does not answer in time is
// treated as a rejection.
type ApproveFunc func(c types.SurgeCandidate) bool

func (f ApproveFunc) Approve(c types.SurgeCandidate) bool { return f(c) }

// entryAuthorizer is the slice of the risk manager the pipeline uses.
type entryAuthorizer interface {
	Authorize(symbol string, qty int64, price float64) risk.Decision
	PositionBudget() float64
}

// orderSubmitter is the slice of the execution manager the pipeline uses.
type orderSubmitter interface {
	Submit(ctx context.Context, symbol string, side types.Side, qty int64, price float64, kind types.OrderKind) (types.Order, error)
	Await(orderID string) (<-chan struct{}, error)
	Get(orderID string) (types.Order, error)
}

// quoteSubscriber registers approved symbols for live ticks.
type quoteSubscriber interface {
	SubscribeQuotes(symbols []string) error
}

// Pipeline is the admission pipeline for surge candidates.
type Pipeline struct {
	cfg      config.SurgeConfig
	approver Approver
	riskMgr  entryAuthorizer
	exec     orderSubmitter
	quotes   quoteSubscriber
	sink     *telemetry.Sink
	mirror   *store.Store

	detections chan Detection

	mu       sync.Mutex
	clock    func() time.Time
	lastSeen map[string]time.Time
	recent   []types.SurgeCandidate
}

// recentCap bounds the in-memory candidate history kept for reporting.
const recentCap = 128

// NewPipeline wires the admission pipeline. mirror may be nil in tests.
func NewPipeline(cfg config.SurgeConfig, approver Approver, riskMgr entryAuthorizer, exec orderSubmitter, quotes quoteSubscriber, sink *telemetry.Sink, mirror *store.Store) *Pipeline {
	return &Pipeline{
		cfg:        cfg,
		approver:   approver,
		riskMgr:    riskMgr,
		exec:       exec,
		quotes:     quotes,
		sink:       sink,
		mirror:     mirror,
		detections: make(chan Detection, 128),
		clock:      time.Now,
		lastSeen:   make(map[string]time.Time),
	}
}

// Offer hands a detection to the pipeline without blocking the producer.
// Returns false when the queue is saturated and the detection was dropped.
func (p *Pipeline) Offer(d Detection) bool {
	select {
	case p.detections <- d:
		return true
	default:
		log.Warn().Str("symbol", d.Symbol).Msg("detection queue saturated, detection dropped")
		return false
	}
}

// Run consumes detections until the context is cancelled.
func (p *Pipeline) Run(ctx context.Context) {
	logger := log.With().Str("component", "surge_pipeline").Logger()
	logger.Info().Msg("starting admission pipeline")

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down admission pipeline")
			return
		case d := <-p.detections:
			p.process(ctx, d)
		}
	}
}

// inCooldown checks and, when clear, arms the per-symbol cooldown.
func (p *Pipeline) inCooldown(symbol string, at time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if last, ok := p.lastSeen[symbol]; ok && at.Sub(last) < p.cfg.Cooldown {
		return true
	}
	p.lastSeen[symbol] = at
	return false
}

// process runs one detection through admission. At most one buy order is
// submitted per approved candidate.
func (p *Pipeline) process(ctx context.Context, d Detection) {
	at := d.At
	if at.IsZero() {
		at = p.clock()
	}

	if p.inCooldown(d.Symbol, at) {
		metrics.SurgeCandidates.WithLabelValues("cooldown").Inc()
		log.Debug().Str("symbol", d.Symbol).Msg("detection within cooldown window, discarded")
		return
	}

	c := types.SurgeCandidate{
		CandidateID: id.Candidate(),
		Symbol:      d.Symbol,
		Name:        d.Name,
		DetectedAt:  at,
		Price:       d.Price,
		ChangeRate:  d.ChangeRate,
		VolumeRatio: d.VolumeRatio,
		Score:       d.Score,
		State:       types.CandidateDetected,
	}
	p.emit(telemetry.Event{
		Kind:   telemetry.KindSurgeDetected,
		Symbol: c.Symbol,
		Price:  c.Price,
		Reason: fmt.Sprintf("score %.1f, change %.2f%%, volume x%.1f", c.Score, c.ChangeRate*100, c.VolumeRatio),
	})
	p.mirrorCandidate(c)

	if !p.approve(c) {
		p.reject(c, "admission declined")
		return
	}

	c.State = types.CandidateApproved
	metrics.SurgeCandidates.WithLabelValues("approved").Inc()
	p.emit(telemetry.Event{
		Kind:   telemetry.KindSurgeApproved,
		Symbol: c.Symbol,
		Price:  c.Price,
		Reason: fmt.Sprintf("score %.1f approved", c.Score),
	})
	p.mirrorCandidate(c)

	if err := p.quotes.SubscribeQuotes([]string{c.Symbol}); err != nil {
		log.Error().Err(err).Str("symbol", c.Symbol).Msg("quote subscription failed for approved candidate")
	}

	qty := int64(p.riskMgr.PositionBudget() / c.Price)
	if qty <= 0 {
		p.reject(c, "risk budget too small for one share")
		return
	}

	if decision := p.riskMgr.Authorize(c.Symbol, qty, c.Price); !decision.Allowed {
		p.reject(c, "risk veto: "+decision.Reason())
		return
	}

	order, err := p.exec.Submit(ctx, c.Symbol, types.SideBuy, qty, c.Price, types.KindMarket)
	if err != nil {
		p.reject(c, "submission failed: "+err.Error())
		return
	}

	// Candidate turns EXECUTED only once the entry order actually fills.
	go p.trackExecution(c, order.OrderID)
}

// approve runs the admission strategy with a bounded wait. A strategy that
// does not answer within the timeout rejects the candidate.
func (p *Pipeline) approve(c types.SurgeCandidate) bool {
	result := make(chan bool, 1)
	go func() {
		result <- p.approver.Approve(c)
	}()

	timer := time.NewTimer(p.cfg.ApprovalTimeout)
	defer timer.Stop()
	select {
	case ok := <-result:
		return ok
	case <-timer.C:
		log.Warn().Str("symbol", c.Symbol).Dur("timeout", p.cfg.ApprovalTimeout).
			Msg("approval decision timed out, candidate rejected")
		return false
	}
}

func (p *Pipeline) reject(c types.SurgeCandidate, reason string) {
	c.State = types.CandidateRejected
	c.Reason = reason
	metrics.SurgeCandidates.WithLabelValues("rejected").Inc()
	p.emit(telemetry.Event{
		Kind:   telemetry.KindSurgeRejected,
		Symbol: c.Symbol,
		Price:  c.Price,
		Reason: reason,
	})
	p.mirrorCandidate(c)
}

func (p *Pipeline) trackExecution(c types.SurgeCandidate, orderID string) {
	done, err := p.exec.Await(orderID)
	if err != nil {
		return
	}
	<-done

	order, err := p.exec.Get(orderID)
	if err != nil {
		return
	}
	if order.State != types.OrderFilled {
		p.reject(c, "entry order "+string(order.State))
		return
	}

	c.State = types.CandidateExecuted
	p.mirrorCandidate(c)
	log.Info().Str("symbol", c.Symbol).Str("order_id", orderID).Msg("surge entry executed")
}

func (p *Pipeline) emit(ev telemetry.Event) {
	if p.sink != nil {
		ev = p.sink.Emit(ev)
	}
	if p.mirror != nil && ev.EventID != "" {
		p.mirror.MirrorEvent(ev)
	}
}

// mirrorCandidate records the candidate's latest state, both durably and in
// the in-memory history served to reporting callers.
func (p *Pipeline) mirrorCandidate(c types.SurgeCandidate) {
	p.mu.Lock()
	updated := false
	for i := range p.recent {
		if p.recent[i].CandidateID == c.CandidateID {
			p.recent[i] = c
			updated = true
			break
		}
	}
	if !updated {
		if len(p.recent) >= recentCap {
			p.recent = p.recent[1:]
		}
		p.recent = append(p.recent, c)
	}
	p.mu.Unlock()

	if p.mirror != nil {
		p.mirror.MirrorCandidate(c)
	}
}

// Recent returns the candidate history, oldest first.
func (p *Pipeline) Recent() []types.SurgeCandidate {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]types.SurgeCandidate(nil), p.recent...)
}
