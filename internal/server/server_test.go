package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TKTINC/true-asset-alluse-sub000/internal/server"
)

type fakeHealth struct {
	status server.HealthStatus
}

func (f *fakeHealth) Report(ctx context.Context) server.HealthStatus { return f.status }

type fakeLedger struct {
	seq  int64
	hash string
	err  error
}

func (f *fakeLedger) Snapshot(ctx context.Context) (int64, string, error) {
	return f.seq, f.hash, f.err
}

type fakeAccounts struct {
	pauseErr   error
	killCount  int
	killErr    error
	pausedID   string
}

func (f *fakeAccounts) PauseAccount(ctx context.Context, accountID string) error {
	f.pausedID = accountID
	return f.pauseErr
}

func (f *fakeAccounts) KillAll(ctx context.Context) (int, error) {
	return f.killCount, f.killErr
}

func newTestServer(health *fakeHealth, led *fakeLedger, acc *fakeAccounts) http.Handler {
	s := server.New(server.Config{
		Log:      zerolog.Nop(),
		Port:     0,
		Health:   health,
		Ledger:   led,
		Accounts: acc,
	})
	return s.Router()
}

func TestHealthzReturnsOKWhenLedgerHealthy(t *testing.T) {
	h := newTestServer(&fakeHealth{status: server.HealthStatus{LedgerHealthy: true, Mode: "mock"}}, &fakeLedger{}, &fakeAccounts{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body server.HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "mock", body.Mode)
}

func TestHealthzReturns503WhenLedgerUnhealthy(t *testing.T) {
	h := newTestServer(&fakeHealth{status: server.HealthStatus{LedgerHealthy: false}}, &fakeLedger{}, &fakeAccounts{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSnapshotLedgerReturnsSeqAndHash(t *testing.T) {
	h := newTestServer(&fakeHealth{}, &fakeLedger{seq: 42, hash: "abc123"}, &fakeAccounts{})

	req := httptest.NewRequest(http.MethodPost, "/snapshot-ledger", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "abc123")
}

func TestSnapshotLedgerPropagatesError(t *testing.T) {
	h := newTestServer(&fakeHealth{}, &fakeLedger{err: errors.New("chain broken")}, &fakeAccounts{})

	req := httptest.NewRequest(http.MethodPost, "/snapshot-ledger", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestKillAllReturnsPausedCount(t *testing.T) {
	h := newTestServer(&fakeHealth{}, &fakeLedger{}, &fakeAccounts{killCount: 3})

	req := httptest.NewRequest(http.MethodPost, "/kill-all", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "3")
}

func TestPauseAccountUsesURLParam(t *testing.T) {
	acc := &fakeAccounts{}
	h := newTestServer(&fakeHealth{}, &fakeLedger{}, acc)

	req := httptest.NewRequest(http.MethodPost, "/pause-account/gen-1", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "gen-1", acc.pausedID)
}
