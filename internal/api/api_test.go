package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradekit/autotrader/internal/auth"
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

func newTestRouter(t *testing.T) (*gin.Engine, *ledger.Ledger) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Default()
	cfg.Server.JWTSecret = "test-secret"

	gw := gateway.NewSim(gateway.DefaultSimConfig())
	t.Cleanup(gw.Close)
	require.NoError(t, gw.Login(context.Background()))

	sink := telemetry.NewSink(nil, nil)
	governor := ratelimit.New(cfg.RateLimit)
	book := ledger.New(fees.NewSchedule(cfg.Fees, true))
	exec := execution.NewManager(cfg.Account.ID, cfg.Execution, gw, governor, book, sink, nil)
	riskMgr := risk.NewManager(cfg.Risk, cfg.Account.StartingEquity, exec, book, sink)
	pipeline := surge.NewPipeline(cfg.Surge,
		surge.ScoreThresholdApprover{Threshold: cfg.Surge.ScoreThreshold},
		riskMgr, exec, gw, sink, nil)

	authService := auth.NewService(cfg.Server.JWTSecret)
	authService.RegisterAPICredentials("test-key", "test-secret-value")

	router := NewRouter(cfg.Server,
		auth.NewGinHandlers(authService),
		NewGinHandlers(exec, riskMgr, book, governor, pipeline),
		nil)
	return router, book
}

func fetchToken(t *testing.T, router *gin.Engine) string {
	t.Helper()
	body, _ := json.Marshal(auth.Credentials{APIKey: "test-key", APISecret: "test-secret-value"})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/token", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		Success bool `json:"success"`
		Data    struct {
			Token string `json:"jwt_token"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	require.NotEmpty(t, resp.Data.Token)
	return resp.Data.Token
}

func TestQueriesRequireToken(t *testing.T) {
	router, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/positions", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestInvalidCredentialsRejected(t *testing.T) {
	router, _ := newTestRouter(t)

	body, _ := json.Marshal(auth.Credentials{APIKey: "test-key", APISecret: "wrong"})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/token", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	// Distinct client IP keeps the shared auth rate limiter out of the way.
	req.RemoteAddr = "192.0.2.50:1234"
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestPositionsWithToken(t *testing.T) {
	router, book := newTestRouter(t)
	token := fetchToken(t, router)

	_, err := book.ApplyFill("005930", types.SideBuy, 100, 71_000)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/positions", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Success bool             `json:"success"`
		Data    []types.Position `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "005930", resp.Data[0].Symbol)
	assert.Equal(t, int64(100), resp.Data[0].Quantity)
}

func TestGovernorStatsWithToken(t *testing.T) {
	router, _ := newTestRouter(t)
	token := fetchToken(t, router)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/governor/stats", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Success bool                   `json:"success"`
		Data    []ratelimit.ClassStats `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 2)
}

func TestUnknownOrderIs404(t *testing.T) {
	router, _ := newTestRouter(t)
	token := fetchToken(t, router)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/ORD-MISSING", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMetricsEndpointIsPublic(t *testing.T) {
	router, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
