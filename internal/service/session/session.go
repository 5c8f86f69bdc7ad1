package session

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/panashe-dev/kombi-go/config"
	"github.com/panashe-dev/kombi-go/internal/adapter/ledger"
	"github.com/panashe-dev/kombi-go/internal/domain/models"
	"github.com/panashe-dev/kombi-go/internal/domain/types"
	"github.com/panashe-dev/kombi-go/pkg/logger"
	wrap "github.com/panashe-dev/kombi-go/pkg/logger/wrapper"
)

// Realtime is the slice of the channel router the session manager needs
// for teardown ordering.
type Realtime interface {
	TeardownOwner(ctx context.Context, owner string)
	ExitPresence(ctx context.Context) error
	Close(ctx context.Context) error
}

// StateListener is notified on session state changes; message is a
// plain-language note for the user (e.g. "session expired"), or empty.
type StateListener func(state types.SessionState, message string)

/*
Manager owns the credential, its expiry, refresh scheduling and logout.
It is the only component allowed to touch the session store; everything else
reads the session through this interface.
*/
type Manager struct {
	client   *ledger.Client
	store    Store
	realtime Realtime
	cfg      config.SessionConfig
	log      logger.Logger

	mu      sync.Mutex
	state   types.SessionState
	session *models.Session

	listener StateListener

	refreshMu   sync.Mutex // single-flight latch: guards refreshBusy
	refreshBusy bool

	sweepCancel context.CancelFunc

	now func() time.Time
}

func NewManager(client *ledger.Client, store Store, realtime Realtime, cfg config.SessionConfig, log logger.Logger) *Manager {
	m := &Manager{
		client:   client,
		store:    store,
		realtime: realtime,
		cfg:      cfg,
		log:      log,
		state:    types.SessionInitializing,
		now:      time.Now,
	}

	// Every ledger request attaches the current credential; a 401 on a
	// protected endpoint forces teardown.
	client.SetTokenSource(m.Token)
	client.OnAuthExpired(func() {
		m.ForceLogout(context.Background(), types.ErrSessionExpired.Error())
	})

	return m
}

// SetStateListener registers the UI-facing state callback.
func (m *Manager) SetStateListener(fn StateListener) {
	m.mu.Lock()
	m.listener = fn
	m.mu.Unlock()
}

// Token returns the current credential, or "" when unauthenticated.
func (m *Manager) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return ""
	}
	return m.session.Token
}

// CurrentUser returns the cached identity snapshot, or nil.
func (m *Manager) CurrentUser() *models.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil
	}
	return m.session.User
}

// State returns the current lifecycle state.
func (m *Manager) State() types.SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// authResult is the normalized shape of every credential-issuing response.
type authResult struct {
	Token     string       `json:"token"`
	ExpiresAt int64        `json:"expiresAt"` // epoch ms, may be absent
	User      *models.User `json:"user"`
}

// Bootstrap restores the session on startup.
//
// No stored credential, or a stored credential already past its expiry, means
// unauthenticated with no network call. Otherwise the identity is fetched;
// connectivity failures fall back to the cached snapshot, authorization
// failures invalidate it.
func (m *Manager) Bootstrap(ctx context.Context) error {
	ctx = wrap.WithAction(ctx, types.ActionSessionBootstrap)

	stored, err := m.store.Load()
	if err != nil {
		m.log.Warn(ctx, "could not load stored session", "err", err.Error())
	}

	if stored == nil {
		m.setState(types.SessionUnauthenticated, "")
		return nil
	}

	if !stored.Valid(m.now()) {
		m.log.Info(ctx, "stored credential expired, discarding")
		_ = m.store.Clear()
		m.setState(types.SessionUnauthenticated, "")
		return nil
	}

	m.mu.Lock()
	m.session = stored
	m.mu.Unlock()

	payload, err := m.client.Send(ctx, http.MethodGet, ledger.EndpointMe, nil)
	switch {
	case err == nil:
		user, derr := ledger.DecodeAs[models.User](payload)
		if derr != nil {
			return wrap.Error(ctx, derr)
		}
		m.adoptIdentity(&user)

	case isConnectivity(err):
		// Trust the cached snapshot only for connectivity failures.
		if stored.User == nil {
			m.teardownLocal(ctx)
			m.setState(types.SessionUnauthenticated, "")
			return wrap.Error(ctx, err)
		}
		m.log.Warn(ctx, "identity fetch failed, using cached snapshot", "err", err.Error())

	default:
		// Authorization failure: the cache must not outlive the credential.
		m.teardownLocal(ctx)
		m.setState(types.SessionUnauthenticated, "")
		return wrap.Error(ctx, err)
	}

	m.setState(types.SessionAuthenticated, "")
	m.startSweep()
	m.log.Info(ctx, "session restored")
	return nil
}

// Login authenticates with credentials and establishes a session.
func (m *Manager) Login(ctx context.Context, creds models.Credentials) error {
	return m.authenticate(ctx, ledger.EndpointLogin, creds)
}

// Signup creates an account and establishes a session.
func (m *Manager) Signup(ctx context.Context, req models.SignupRequest) error {
	return m.authenticate(ctx, ledger.EndpointSignup, req)
}

// RequestPasswordReset asks the Ledger to start a reset flow.
func (m *Manager) RequestPasswordReset(ctx context.Context, phone string) error {
	_, err := m.client.Send(ctx, http.MethodPost, ledger.EndpointRequestPasswordReset, map[string]string{"phone": phone})
	return err
}

// CompletePasswordReset finishes a reset flow; a successful completion
// establishes a session like login does.
func (m *Manager) CompletePasswordReset(ctx context.Context, token, newPassword string) error {
	return m.authenticate(ctx, ledger.EndpointCompletePasswordReset, map[string]string{
		"reset_token":  token,
		"new_password": newPassword,
	})
}

func (m *Manager) authenticate(ctx context.Context, endpoint string, body any) error {
	payload, err := m.client.Send(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return err
	}

	res, err := ledger.DecodeAs[authResult](payload)
	if err != nil {
		return wrap.Error(ctx, err)
	}

	if err := m.adoptCredential(ctx, res); err != nil {
		return err
	}

	m.setState(types.SessionAuthenticated, "")
	m.startSweep()
	return nil
}

// adoptCredential installs a new token/expiry/identity triple and persists it.
func (m *Manager) adoptCredential(ctx context.Context, res authResult) error {
	if res.Token == "" {
		return wrap.Error(ctx, errors.New("ledger returned no credential"))
	}

	expiry := time.UnixMilli(res.ExpiresAt)
	if res.ExpiresAt == 0 {
		exp, ok := expiryFromToken(res.Token)
		if !ok {
			return wrap.Error(ctx, errors.New("credential carries no expiry"))
		}
		expiry = exp
	}

	sess := &models.Session{
		Token:       res.Token,
		TokenExpiry: expiry,
		User:        res.User,
	}

	m.mu.Lock()
	// A refresh response may omit the identity; keep the cached snapshot.
	if sess.User == nil && m.session != nil {
		sess.User = m.session.User
	}
	m.session = sess
	m.mu.Unlock()

	if err := m.store.Save(sess); err != nil {
		m.log.Warn(ctx, "could not persist session", "err", err.Error())
	}
	return nil
}

func (m *Manager) adoptIdentity(user *models.User) {
	m.mu.Lock()
	if m.session != nil {
		m.session.User = user
		_ = m.store.Save(m.session)
	}
	m.mu.Unlock()
}

// UpdateProfile mutates the identity on the Ledger and refreshes the snapshot.
func (m *Manager) UpdateProfile(ctx context.Context, update models.ProfileUpdate) error {
	payload, err := m.client.Send(ctx, http.MethodPut, ledger.EndpointProfile, update)
	if err != nil {
		return err
	}

	user, err := ledger.DecodeAs[models.User](payload)
	if err != nil {
		return wrap.Error(ctx, err)
	}

	m.adoptIdentity(&user)
	return nil
}

// SwitchRole flips the session between rider and driver. Ordering matters:
// role-scoped subscriptions are torn down first so no stale-role event can
// arrive after the switch, then the Ledger is told, then the snapshot updates.
func (m *Manager) SwitchRole(ctx context.Context, newRole types.Role) error {
	ctx = wrap.WithAction(ctx, types.ActionRoleSwitch)

	m.mu.Lock()
	var oldRole types.Role
	if m.session != nil && m.session.User != nil {
		oldRole = m.session.User.Role
	}
	m.mu.Unlock()

	if oldRole == newRole {
		return nil
	}

	if oldRole != "" {
		if oldRole == types.RoleDriver {
			_ = m.realtime.ExitPresence(ctx)
		}
		m.realtime.TeardownOwner(ctx, oldRole.String())
	}

	payload, err := m.client.Send(ctx, http.MethodPost, ledger.EndpointSwitchRole, map[string]string{"role": newRole.String()})
	if err != nil {
		return err
	}

	user, err := ledger.DecodeAs[models.User](payload)
	if err != nil {
		return wrap.Error(ctx, err)
	}

	m.adoptIdentity(&user)
	m.log.Info(ctx, "role switched", "from", oldRole.String(), "to", newRole.String())
	return nil
}

// Logout revokes the server-side credential (best effort, never blocking the
// local teardown) and clears all local session state.
func (m *Manager) Logout(ctx context.Context) {
	ctx = wrap.WithAction(ctx, types.ActionSessionLogout)

	token := m.Token()
	if token != "" {
		// Fire-and-forget: failing to revoke must not block teardown. The
		// credential is attached explicitly because the local session is
		// already gone by the time this request goes out.
		go func() {
			revokeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if _, err := m.client.Send(revokeCtx, http.MethodPost, ledger.EndpointRevoke, nil, ledger.WithToken(token)); err != nil {
				m.log.Warn(revokeCtx, "credential revoke failed", "err", err.Error())
			}
		}()
	}

	m.teardownLocal(ctx)
	m.setState(types.SessionUnauthenticated, "")
	m.log.Info(ctx, "logged out")
}

// ForceLogout tears the session down without a revoke call. Used on
// irrecoverable 401s and failed refreshes.
func (m *Manager) ForceLogout(ctx context.Context, message string) {
	ctx = wrap.WithAction(ctx, types.ActionSessionLogout)

	m.mu.Lock()
	alreadyOut := m.session == nil
	m.mu.Unlock()
	if alreadyOut {
		return
	}

	m.teardownLocal(ctx)
	m.setState(types.SessionExpired, message)
	m.setState(types.SessionUnauthenticated, message)
	m.log.Warn(ctx, "session forcefully ended", "reason", message)
}

// teardownLocal drops the credential, the identity cache, the response caches
// and the realtime connection, and stops the expiry sweep.
func (m *Manager) teardownLocal(ctx context.Context) {
	m.stopSweep()

	m.mu.Lock()
	m.session = nil
	m.mu.Unlock()

	if err := m.store.Clear(); err != nil {
		m.log.Warn(ctx, "could not clear session store", "err", err.Error())
	}
	m.client.Cache().Clear()

	if err := m.realtime.Close(ctx); err != nil {
		m.log.Warn(ctx, "realtime close failed during teardown", "err", err.Error())
	}
}

func (m *Manager) setState(state types.SessionState, message string) {
	m.mu.Lock()
	m.state = state
	listener := m.listener
	m.mu.Unlock()

	if listener != nil {
		listener(state, message)
	}
}

// isConnectivity reports whether the failure is network-level rather than an
// authorization decision.
func isConnectivity(err error) bool {
	var (
		netErr     *ledger.NetworkError
		timeoutErr *ledger.TimeoutError
		serverErr  *ledger.ServerError
	)
	return errors.As(err, &netErr) || errors.As(err, &timeoutErr) || errors.As(err, &serverErr)
}
