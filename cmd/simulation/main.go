// Simulation drives the full trading stack against the simulated venue:
// surge detections are offered to the admission pipeline, quotes walk the
// entered positions into stop-loss and take-profit territory, and a summary
// of orders, fills and P&L is printed at the end.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tradekit/autotrader/internal/config"
	"github.com/tradekit/autotrader/internal/execution"
	"github.com/tradekit/autotrader/internal/fees"
	"github.com/tradekit/autotrader/internal/gateway"
	"github.com/tradekit/autotrader/internal/ledger"
	"github.com/tradekit/autotrader/internal/ratelimit"
	"github.com/tradekit/autotrader/internal/risk"
	"github.com/tradekit/autotrader/internal/surge"
	"github.com/tradekit/autotrader/internal/telemetry"
	"github.com/tradekit/autotrader/internal/types"
)

const (
	numDetections = 8
	quoteTicks    = 40
	tickInterval  = 25 * time.Millisecond
)

var universe = []struct {
	symbol string
	name   string
	price  float64
}{
	{"005930", "Samsung Electronics", 71_000},
	{"000660", "SK Hynix", 132_500},
	{"035420", "NAVER", 186_000},
	{"051910", "LG Chem", 412_000},
	{"005380", "Hyundai Motor", 244_500},
	{"035720", "Kakao", 42_300},
}

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// orderStats tracks submission-to-fill latencies across the run.
type orderStats struct {
	mu        sync.Mutex
	durations []time.Duration
}

func (s *orderStats) record(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.durations = append(s.durations, d)
}

func (s *orderStats) summary() (count int, p50, p95 time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count = len(s.durations)
	if count == 0 {
		return
	}
	sorted := append([]time.Duration(nil), s.durations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	p50 = sorted[count/2]
	p95 = sorted[count*95/100]
	return
}

// watchingListener samples fill latency for every order the run completes.
type watchingListener struct {
	stats *orderStats
}

func (w *watchingListener) OnFill(o types.Order) {
	if o.State == types.OrderFilled && !o.SubmittedAt.IsZero() {
		w.stats.record(time.Since(o.SubmittedAt))
	}
}

func (w *watchingListener) OnRealized(symbol string, realized float64) {}

func main() {
	cfg := config.Default()
	cfg.Account.Simulation = true
	// Short cooldown so repeated detections in a fast run are not all
	// discarded.
	cfg.Surge.Cooldown = 2 * time.Second

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	simCfg := gateway.DefaultSimConfig()
	simCfg.StartingCash = cfg.Account.StartingEquity
	gw := gateway.NewSim(simCfg)
	defer gw.Close()
	if err := gw.Login(ctx); err != nil {
		log.Fatal().Err(err).Msg("gateway login failed")
	}

	sink := telemetry.NewSink(nil, telemetry.NopNotifier{})
	governor := ratelimit.New(cfg.RateLimit)
	book := ledger.New(fees.NewSchedule(cfg.Fees, true))

	exec := execution.NewManager(cfg.Account.ID, cfg.Execution, gw, governor, book, sink, nil)
	riskMgr := risk.NewManager(cfg.Risk, cfg.Account.StartingEquity, exec, book, sink)

	stats := &orderStats{}
	watcher := &watchingListener{stats: stats}
	exec.SetFillListener(fanout{riskMgr, watcher})
	gw.SetQuoteHandler(riskMgr.OnQuote)

	pipeline := surge.NewPipeline(cfg.Surge,
		surge.ScoreThresholdApprover{Threshold: cfg.Surge.ScoreThreshold},
		riskMgr, exec, gw, sink, nil)
	go pipeline.Run(ctx)

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	log.Info().Int("detections", numDetections).Msg("starting simulation run")

	// Phase 1: surge detections, roughly half above the approval threshold.
	for i := 0; i < numDetections; i++ {
		stock := universe[rng.Intn(len(universe))]
		score := 40 + rng.Float64()*60
		pipeline.Offer(surge.Detection{
			Symbol:      stock.symbol,
			Name:        stock.name,
			Price:       stock.price,
			ChangeRate:  0.05 + rng.Float64()*0.15,
			VolumeRatio: 2 + rng.Float64()*8,
			Score:       score,
			At:          time.Now(),
		})
		time.Sleep(150 * time.Millisecond)
	}

	// Give entries time to fill before quotes start moving.
	time.Sleep(2 * time.Second)

	// Phase 2: random-walk quotes with enough drift to cross the exit bands.
	for tick := 0; tick < quoteTicks; tick++ {
		for _, p := range book.All() {
			drift := 1 + (rng.Float64()-0.45)*0.02
			gw.PublishQuote(types.Quote{
				Symbol:    p.Symbol,
				Price:     p.LastPrice * drift,
				Timestamp: time.Now(),
			})
		}
		time.Sleep(tickInterval)
	}

	// Let risk exits drain.
	time.Sleep(2 * time.Second)

	report(exec, riskMgr, book, governor, pipeline, stats)
}

// fanout delivers fill callbacks to several listeners in order.
type fanout []execution.FillListener

func (f fanout) OnFill(o types.Order) {
	for _, l := range f {
		l.OnFill(o)
	}
}

func (f fanout) OnRealized(symbol string, realized float64) {
	for _, l := range f {
		l.OnRealized(symbol, realized)
	}
}

func report(exec *execution.Manager, riskMgr *risk.Manager, book *ledger.Ledger, governor *ratelimit.Governor, pipeline *surge.Pipeline, stats *orderStats) {
	fmt.Println("\n=== Simulation Report ===")

	byState := map[types.CandidateState]int{}
	for _, c := range pipeline.Recent() {
		byState[c.State]++
	}
	fmt.Printf("Candidates: executed=%d approved=%d rejected=%d\n",
		byState[types.CandidateExecuted], byState[types.CandidateApproved], byState[types.CandidateRejected])

	fmt.Printf("Open positions: %d\n", book.Count())
	for _, p := range book.All() {
		fmt.Printf("  %-8s qty=%-6d avg=%-10.0f last=%-10.0f unrealized=%+.2f%%\n",
			p.Symbol, p.Quantity, p.AvgPrice, p.LastPrice, p.UnrealizedReturn()*100)
	}

	fmt.Printf("Daily realized P&L: %+.0f\n", riskMgr.DailyPnL())

	count, p50, p95 := stats.summary()
	if count > 0 {
		fmt.Printf("Orders filled: %d, submit-to-fill latency p50=%s p95=%s\n", count, p50, p95)
	}

	for _, cs := range governor.Stats() {
		if cs.DailyCap > 0 {
			fmt.Printf("Governor[%s]: in_window=%d/%d daily=%d/%d\n",
				cs.Class, cs.InWindow, cs.PerSecCap, cs.DailyUsed, cs.DailyCap)
		} else {
			fmt.Printf("Governor[%s]: in_window=%d/%d\n", cs.Class, cs.InWindow, cs.PerSecCap)
		}
	}
}
