package gateway

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradekit/autotrader/internal/types"
)

func TestSimRequiresLogin(t *testing.T) {
	s := NewSim(DefaultSimConfig())
	defer s.Close()

	_, err := s.SubmitOrder(context.Background(), "ACC", "005930", types.SideBuy, 10, 1000, types.KindLimit)
	assert.ErrorIs(t, err, ErrNotLoggedIn)
	assert.ErrorIs(t, s.CancelOrder(context.Background(), "REQ"), ErrNotLoggedIn)
}

func TestSimSubscribeCap(t *testing.T) {
	s := NewSim(DefaultSimConfig())
	defer s.Close()
	require.NoError(t, s.Login(context.Background()))

	symbols := make([]string, MaxSymbolsPerSubscribe+1)
	for i := range symbols {
		symbols[i] = fmt.Sprintf("SYM%03d", i)
	}
	assert.ErrorIs(t, s.SubscribeQuotes(symbols), ErrTooManySymbols)
	assert.NoError(t, s.SubscribeQuotes(symbols[:MaxSymbolsPerSubscribe]))
}

func TestCancelOnSaturatedQueueDoesNotWedgeSession(t *testing.T) {
	s := NewSim(DefaultSimConfig())
	defer s.Close()
	require.NoError(t, s.Login(context.Background()))

	// Park the dispatcher inside a handler and fill the event buffer so the
	// next send blocks.
	release := make(chan struct{})
	defer close(release)
	s.SetOrderEventHandler(func(OrderEvent) { <-release })
	for i := 0; i < cap(s.events)+1; i++ {
		s.events <- OrderEvent{RequestID: "SEED", State: EventAccepted}
	}

	go func() {
		_ = s.CancelOrder(context.Background(), "REQ-1")
	}()

	// A cancel parked on the backlog must not take the session lock with it;
	// other gateway calls keep working.
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := s.QueryBalance(context.Background(), "ACC")
		assert.NoError(t, err)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("gateway call blocked behind a cancel on a saturated event queue")
	}
}
