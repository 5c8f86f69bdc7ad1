package session

import (
	"context"
	"net/http"
	"time"

	"github.com/panashe-dev/kombi-go/internal/adapter/ledger"
	"github.com/panashe-dev/kombi-go/internal/domain/models"
	"github.com/panashe-dev/kombi-go/internal/domain/types"
	wrap "github.com/panashe-dev/kombi-go/pkg/logger/wrapper"
	"github.com/panashe-dev/kombi-go/pkg/metrics"
)

// startSweep runs the periodic expiry check while authenticated.
func (m *Manager) startSweep() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sweepCancel != nil {
		return // already running
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.sweepCancel = cancel

	go m.sweep(ctx)
}

func (m *Manager) stopSweep() {
	m.mu.Lock()
	cancel := m.sweepCancel
	m.sweepCancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func (m *Manager) sweep(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.checkExpiry(ctx)
		}
	}
}

// checkExpiry computes time-to-expiry and either forces logout (past expiry)
// or kicks a refresh (within the refresh threshold).
func (m *Manager) checkExpiry(ctx context.Context) {
	m.mu.Lock()
	sess := m.session
	m.mu.Unlock()

	if sess == nil {
		return
	}

	remaining := sess.TokenExpiry.Sub(m.now())
	switch {
	case remaining <= 0:
		m.ForceLogout(ctx, types.ErrSessionExpired.Error())

	case remaining <= m.cfg.RefreshThreshold:
		m.setState(types.SessionExpiring, "")
		m.TryRefresh(ctx)
	}
}

// TryRefresh attempts a credential refresh, guarded by a single-flight latch:
// only one refresh may be in progress at a time, concurrent triggers are
// no-ops until the latch clears.
func (m *Manager) TryRefresh(ctx context.Context) {
	m.refreshMu.Lock()
	if m.refreshBusy {
		m.refreshMu.Unlock()
		return
	}
	m.refreshBusy = true
	m.refreshMu.Unlock()

	defer func() {
		m.refreshMu.Lock()
		m.refreshBusy = false
		m.refreshMu.Unlock()
	}()

	m.refresh(ctx)
}

func (m *Manager) refresh(ctx context.Context) {
	ctx = wrap.WithAction(ctx, types.ActionSessionRefresh)
	m.setState(types.SessionRefreshing, "")

	payload, err := m.client.Send(ctx, http.MethodPost, ledger.EndpointRefresh, nil)
	metrics.RecordRefresh(err)
	if err != nil {
		m.log.Error(wrap.ErrorCtx(ctx, err), "credential refresh failed", err)
		m.ForceLogout(ctx, types.ErrSessionExpired.Error())
		return
	}

	res, err := ledger.DecodeAs[authResult](payload)
	if err != nil {
		m.log.Error(wrap.ErrorCtx(ctx, err), "credential refresh returned malformed payload", err)
		m.ForceLogout(ctx, types.ErrSessionExpired.Error())
		return
	}

	if err := m.adoptCredential(ctx, res); err != nil {
		m.ForceLogout(ctx, types.ErrSessionExpired.Error())
		return
	}

	// Old token is invalidated server-side; re-fetch identity under the new one.
	if mePayload, err := m.client.Send(ctx, http.MethodGet, ledger.EndpointMe, nil); err == nil {
		if user, derr := ledger.DecodeAs[models.User](mePayload); derr == nil {
			m.adoptIdentity(&user)
		}
	}

	m.setState(types.SessionAuthenticated, "")
	m.log.Info(ctx, "credential refreshed")
}
