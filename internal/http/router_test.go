package httpserver_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/septivank/conservation-rewards-worker/internal/config"
	httpserver "github.com/septivank/conservation-rewards-worker/internal/http"
	"github.com/septivank/conservation-rewards-worker/internal/http/handlers"
	"github.com/septivank/conservation-rewards-worker/internal/http/middleware"
	"github.com/septivank/conservation-rewards-worker/internal/ledger"
	"github.com/septivank/conservation-rewards-worker/internal/metrics"
	"github.com/septivank/conservation-rewards-worker/internal/service"
	"github.com/septivank/conservation-rewards-worker/internal/store"
)

const testSecret = "test-secret"

type nopPublisher struct{}

func (nopPublisher) PublishEvent(context.Context, any, string) error { return nil }

type apiFixture struct {
	handler http.Handler
	ledger  *service.LedgerService
	clock   *clock.Mock
}

func newAPI(t *testing.T) *apiFixture {
	t.Helper()
	reg := prometheus.NewRegistry()
	clk := clock.NewMock()
	clk.Set(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	svc := service.NewLedgerService(store.NewMemory(), nopPublisher{}, clk, metrics.New(reg), config.Defaults(), zap.NewNop())
	router := httpserver.NewRouter(httpserver.Routes{
		Ledger:  handlers.NewLedgerHandlers(svc, zap.NewNop()),
		Health:  handlers.Health,
		Metrics: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}, middleware.AuthMiddleware(testSecret))

	return &apiFixture{handler: router, ledger: svc, clock: clk}
}

func token(t *testing.T, subject string) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": subject,
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func (f *apiFixture) do(t *testing.T, method, target, subject, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if subject != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, subject))
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

const registerBody = `{
	"property_id": "property123",
	"water_external_id": "water123",
	"energy_external_id": "energy123",
	"water_feed_address": "feed-water",
	"energy_feed_address": "feed-energy",
	"track_energy": true
}`

func TestRouter_PublicEndpoints(t *testing.T) {
	api := newAPI(t)

	rec := api.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(t, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "rewards_duplicate_messages_total")

	rec = api.do(t, http.MethodPost, "/health", "", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, http.MethodGet, rec.Header().Get("Allow"))
}

func TestRouter_RequiresToken(t *testing.T) {
	api := newAPI(t)

	rec := api.do(t, http.MethodGet, "/rewards/me", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/rewards/me", nil)
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "alice"}).SignedString([]byte("other"))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+forged)
	rec = httptest.NewRecorder()
	api.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouter_RegisterAndQuery(t *testing.T) {
	api := newAPI(t)

	rec := api.do(t, http.MethodPost, "/register", "alice", registerBody)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Len(t, body["meters"], 2)

	rec = api.do(t, http.MethodPost, "/register", "alice", registerBody)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "InvalidPropertyExternalId", decodeBody(t, rec)["kind"])

	rec = api.do(t, http.MethodGet, "/participants/me", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []interface{}{"property123"}, decodeBody(t, rec)["property_ids"])

	rec = api.do(t, http.MethodGet, "/participants/me", "bob", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "InvalidState", decodeBody(t, rec)["kind"])
}

func TestRouter_RegisterRejectsMalformedIDs(t *testing.T) {
	api := newAPI(t)

	rec := api.do(t, http.MethodPost, "/register", "alice", `{
		"property_id": "property123",
		"water_external_id": "bad id",
		"water_feed_address": "feed-water"
	}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "InvalidWaterExternalId", decodeBody(t, rec)["kind"])

	rec = api.do(t, http.MethodPost, "/register", "alice", `{"owner": "mallory"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRouter_MetersAndRedeem(t *testing.T) {
	api := newAPI(t)
	require.Equal(t, http.StatusCreated, api.do(t, http.MethodPost, "/register", "alice", registerBody).Code)

	ctx := context.Background()
	ref := ledger.MeterRef{Owner: "alice", PropertyID: "property123", Commodity: ledger.Energy, MeterID: "energy123"}
	for i := 0; i < 6; i++ {
		api.clock.Add(time.Hour)
		_, err := api.ledger.RecordUsage(ctx, ref, "feed-energy", 1000)
		require.NoError(t, err)
	}
	api.clock.Add(time.Hour)
	_, err := api.ledger.RecordUsage(ctx, ref, "feed-energy", 890)
	require.NoError(t, err)

	rec := api.do(t, http.MethodGet, "/meters?property_id=property123&commodity=energy&meter_id=energy123", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	meter := decodeBody(t, rec)
	assert.Len(t, meter["history"], 7)
	assert.Equal(t, float64(6890), meter["total_consumed"])

	rec = api.do(t, http.MethodGet, "/meters?property_id=property123&commodity=gas&meter_id=energy123", "alice", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, http.MethodGet, "/meters?property_id=property123&commodity=water&meter_id=nope", "alice", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = api.do(t, http.MethodPost, "/rewards/redeem", "alice", `{"amount": 0}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "InvalidAmount", decodeBody(t, rec)["kind"])

	rec = api.do(t, http.MethodPost, "/rewards/redeem", "alice", `{"amount": -5}`)
	assert.Equal(t, "InvalidAmount", decodeBody(t, rec)["kind"])

	rec = api.do(t, http.MethodPost, "/rewards/redeem", "alice", `{"amount": 51}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "InsufficientPoints", decodeBody(t, rec)["kind"])

	rec = api.do(t, http.MethodPost, "/rewards/redeem", "alice", `{"amount": 20}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(30), decodeBody(t, rec)["balance"])

	rec = api.do(t, http.MethodGet, "/rewards/me", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rewards := decodeBody(t, rec)
	assert.Equal(t, float64(50), rewards["total_credited"])
	assert.Len(t, rewards["redemptions"], 1)
}

func TestRouter_AddMeter(t *testing.T) {
	api := newAPI(t)
	require.Equal(t, http.StatusCreated, api.do(t, http.MethodPost, "/register", "alice", registerBody).Code)

	body := `{"property_id": "property123", "commodity": "water", "meter_id": "water456", "feed_address": "feed-water-2"}`
	rec := api.do(t, http.MethodPost, "/meters", "alice", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = api.do(t, http.MethodPost, "/meters", "alice", body)
	assert.Equal(t, "InvalidWaterExternalId", decodeBody(t, rec)["kind"])

	rec = api.do(t, http.MethodPost, "/meters", "bob", body)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "InvalidPropertyAccount", decodeBody(t, rec)["kind"])

	rec = api.do(t, http.MethodDelete, "/meters", "alice", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "GET, POST", rec.Header().Get("Allow"))
}
