package server

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/TKTINC/true-asset-alluse-sub000/internal/account"
	"github.com/TKTINC/true-asset-alluse-sub000/internal/config"
	"github.com/TKTINC/true-asset-alluse-sub000/internal/domain"
	"github.com/TKTINC/true-asset-alluse-sub000/internal/ledger"
)

// EngineReporter implements HealthReporter, LedgerController, and
// AccountController over the engine's already-wired components — the
// single adapter translating operational HTTP calls into calls on the
// ledger and account store, the way the teacher's SystemHandlers wraps
// its DI container's services for /api/system routes.
type EngineReporter struct {
	startedAt time.Time
	mode      config.Mode
	ledger    *ledger.Ledger
	accounts  *account.Store
}

// NewEngineReporter constructs an EngineReporter. startedAt should be
// the process start time, captured once at wiring time (not here, since
// this package must not call time.Now() at construction in a way that
// depends on call order — callers own the timestamp).
func NewEngineReporter(startedAt time.Time, mode config.Mode, led *ledger.Ledger, accounts *account.Store) *EngineReporter {
	return &EngineReporter{startedAt: startedAt, mode: mode, ledger: led, accounts: accounts}
}

func (r *EngineReporter) Report(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Mode:          string(r.mode),
		UptimeSeconds: int64(time.Since(r.startedAt).Seconds()),
		HostMemoryPct: hostMemoryPercent(),
	}

	if err := r.ledger.VerifyChain(ctx); err != nil {
		status.LedgerHealthy = false
		status.LedgerError = err.Error()
	} else {
		status.LedgerHealthy = true
	}

	open := 0
	for _, a := range r.accounts.Accounts() {
		if a.Status == domain.AccountActive {
			open++
		}
	}
	status.OpenAccountCount = open
	return status
}

func (r *EngineReporter) Snapshot(ctx context.Context) (int64, string, error) {
	return r.ledger.Snapshot(ctx)
}

func (r *EngineReporter) PauseAccount(ctx context.Context, accountID string) error {
	return r.accounts.SetAccountStatus(ctx, "ops-pause-"+accountID, accountID, domain.AccountPaused)
}

// KillAll pauses every currently active account, the process-wide
// emergency brake spec §6's command interface exposes as "kill-all".
func (r *EngineReporter) KillAll(ctx context.Context) (int, error) {
	n := 0
	for _, a := range r.accounts.Accounts() {
		if a.Status != domain.AccountActive {
			continue
		}
		if err := r.accounts.SetAccountStatus(ctx, "ops-kill-all-"+a.ID, a.ID, domain.AccountPaused); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// hostMemoryPercent reports current host memory utilization, surfaced
// for operators on /healthz alongside ledger and account status,
// mirroring the teacher's gopsutil-backed host sampling. Returns 0 on
// any sampling failure rather than propagating it — a degraded host
// metric must never block the health check's ledger/account findings.
func hostMemoryPercent() float64 {
	v, err := mem.VirtualMemory()
	if err != nil {
		return 0
	}
	return v.UsedPercent
}
