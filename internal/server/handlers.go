package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// HealthStatus is the JSON body returned from /healthz: ledger
// hash-chain status, open account count, mode, process uptime and host
// memory use. It does not report clock or calendar freshness. Grounded
// on the teacher's DB.HealthCheck /
// gopsutil usage for the shape of a self-reporting health payload.
type HealthStatus struct {
	LedgerHealthy    bool    `json:"ledger_healthy"`
	LedgerError      string  `json:"ledger_error,omitempty"`
	OpenAccountCount int     `json:"open_account_count"`
	Mode             string  `json:"mode"`
	UptimeSeconds    int64   `json:"uptime_seconds"`
	HostMemoryPct    float64 `json:"host_memory_pct"`
}

// HealthReporter answers /healthz.
type HealthReporter interface {
	Report(ctx context.Context) HealthStatus
}

// LedgerController backs /snapshot-ledger.
type LedgerController interface {
	Snapshot(ctx context.Context) (seq int64, stateHash string, err error)
}

// AccountController backs /kill-all and /pause-account/{id}.
type AccountController interface {
	PauseAccount(ctx context.Context, accountID string) error
	KillAll(ctx context.Context) (int, error)
}

type handlers struct {
	log      zerolog.Logger
	health   HealthReporter
	ledger   LedgerController
	accounts AccountController
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (h *handlers) handleHealthz(w http.ResponseWriter, r *http.Request) {
	status := h.health.Report(r.Context())
	code := http.StatusOK
	if !status.LedgerHealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

func (h *handlers) handleSnapshotLedger(w http.ResponseWriter, r *http.Request) {
	seq, hash, err := h.ledger.Snapshot(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("snapshot-ledger failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"seq":        seq,
		"state_hash": hash,
		"at":         time.Now().UTC(),
	})
}

func (h *handlers) handleKillAll(w http.ResponseWriter, r *http.Request) {
	n, err := h.accounts.KillAll(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("kill-all failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.log.Warn().Int("accounts_paused", n).Msg("kill-all invoked")
	writeJSON(w, http.StatusOK, map[string]int{"accounts_paused": n})
}

func (h *handlers) handlePauseAccount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing account id")
		return
	}
	if err := h.accounts.PauseAccount(r.Context(), id); err != nil {
		h.log.Error().Err(err).Str("account_id", id).Msg("pause-account failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"account_id": id, "status": "Paused"})
}
