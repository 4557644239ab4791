package session

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"marketwatcher/pkg/antidetect"
	"marketwatcher/pkg/browser"
	"marketwatcher/pkg/config"
	"marketwatcher/pkg/errorhandler"
	errs "marketwatcher/pkg/errors"
	"marketwatcher/pkg/logger"
	"marketwatcher/pkg/vault"
)

const breakerLogin = "login"

// Manager owns the authentication lifecycle: establishing a session via
// vaulted cookies or credentials, verifying it against the account page
// and persisting refreshed cookies back to the vault.
type Manager struct {
	cfg     config.SessionConfig
	target  config.TargetConfig
	vaultTL config.VaultConfig
	store   *vault.BlobStore
	handler *errorhandler.Handler
	sim     *antidetect.Simulator
	rng     *rand.Rand
	logger  logger.Logger

	mu          sync.Mutex
	info        Info
	attempts    int
	lastAttempt time.Time
}

// NewManager creates a session manager. The login attempt counter it
// keeps is separate from the login circuit breaker: the breaker reacts
// to transient failure bursts, the counter hard-stops repeated
// credential rejections before the account gets flagged.
func NewManager(cfg config.SessionConfig, target config.TargetConfig, vaultCfg config.VaultConfig,
	store *vault.BlobStore, handler *errorhandler.Handler, sim *antidetect.Simulator,
	rng *rand.Rand, log logger.Logger) *Manager {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Manager{
		cfg:     cfg,
		target:  target,
		vaultTL: vaultCfg,
		store:   store,
		handler: handler,
		sim:     sim,
		rng:     rng,
		logger:  log,
		info:    Info{Status: StatusNotAuthenticated},
	}
}

// Info returns a snapshot of the session state.
func (m *Manager) Info() Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.info
}

// Touch records activity, keeping the idle clock honest.
func (m *Manager) Touch() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.info.LastActivity = time.Now()
}

// SaveCredentials seals the credential pair into the vault.
func (m *Manager) SaveCredentials(creds Credentials) error {
	if creds.Username == "" || creds.Password == "" {
		return errs.New(errs.ErrorTypeValidation, errs.SeverityLow, "save_credentials",
			"username and password must both be set")
	}
	return m.store.Seal(m.credentialsBlob(), creds)
}

// HasCredentials reports whether a sealed credential blob exists.
func (m *Manager) HasCredentials() bool {
	return m.store.Exists(m.credentialsBlob())
}

// Authenticate establishes a session in the given browser context using
// the configured method. A still-valid authenticated session
// short-circuits without touching the site.
func (m *Manager) Authenticate(ctx context.Context, bc browser.Context) (Info, error) {
	m.mu.Lock()
	if m.info.Active(m.cfg.TTL, time.Now()) {
		info := m.info
		m.mu.Unlock()
		m.logger.Debug("session still valid, skipping authentication")
		return info, nil
	}
	m.info.Status = StatusAuthenticating
	m.mu.Unlock()

	method := Method(m.cfg.Method)
	var err error
	switch method {
	case MethodCookie:
		err = m.cookieLogin(ctx, bc)
	case MethodCredentials:
		err = m.credentialLogin(ctx, bc)
	case MethodAuto, "":
		if err = m.cookieLogin(ctx, bc); err != nil {
			m.logger.WithError(err).Debug("cookie session unusable, falling back to credentials")
			err = m.credentialLogin(ctx, bc)
		}
	default:
		err = errs.New(errs.ErrorTypeValidation, errs.SeverityMedium, "authenticate",
			fmt.Sprintf("unknown auth method %q", m.cfg.Method))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.info.Status = StatusFailed
		return m.info, err
	}
	return m.info, nil
}

// Logout drops the vaulted cookies and resets the session state. The
// browser context is left to the caller to close.
func (m *Manager) Logout() error {
	if err := m.store.Delete(m.cookieBlob()); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.info = Info{Status: StatusNotAuthenticated}
	return nil
}

// Refresh forces re-authentication regardless of the session TTL.
func (m *Manager) Refresh(ctx context.Context, bc browser.Context) (Info, error) {
	m.mu.Lock()
	m.info.Status = StatusExpired
	m.info.LoginTime = time.Time{}
	m.mu.Unlock()
	return m.Authenticate(ctx, bc)
}

// cookieLogin restores a vaulted cookie jar and verifies it against the
// account page. Any failure surfaces as an error so the caller can fall
// back to the credential path.
func (m *Manager) cookieLogin(ctx context.Context, bc browser.Context) error {
	var cookies []browser.Cookie
	savedAt, err := m.store.Open(m.cookieBlob(), &cookies)
	if err != nil {
		return errs.Wrap(err, errs.ErrorTypeAuth, errs.SeverityLow, "cookie_login",
			"no usable cookie session in vault")
	}

	if !vault.IsValid(savedAt, m.vaultTL.CookieTTL, time.Now()) {
		return errs.New(errs.ErrorTypeAuth, errs.SeverityLow, "cookie_login",
			"vaulted cookie session has expired")
	}

	if err := bc.AddCookies(ctx, cookies); err != nil {
		return errs.Wrap(err, errs.ErrorTypeAuth, errs.SeverityMedium, "cookie_login",
			"failed to restore cookies into browser context")
	}

	page, err := bc.NewPage(ctx)
	if err != nil {
		return err
	}
	defer page.Close()

	if err := page.Goto(ctx, m.target.AccountURL); err != nil {
		return err
	}
	if err := m.verify(ctx, page); err != nil {
		return err
	}

	m.mu.Lock()
	m.info.AuthMethod = MethodCookie
	m.info.CookieCount = len(cookies)
	m.mu.Unlock()

	m.logger.InfoWithFields("session restored from cookies", map[string]interface{}{
		"cookies": len(cookies),
		"user":    m.Info().Username,
	})
	return nil
}

// credentialLogin drives the login form with human-like input behind
// the login breaker and retry policy, then vaults the fresh cookie jar.
func (m *Manager) credentialLogin(ctx context.Context, bc browser.Context) error {
	if err := m.checkAttemptBudget(); err != nil {
		return err
	}

	var creds Credentials
	savedAt, err := m.store.Open(m.credentialsBlob(), &creds)
	if err != nil {
		return errs.Wrap(err, errs.ErrorTypeAuth, errs.SeverityHigh, "credential_login",
			"no credentials in vault, run the auth command first")
	}
	if !vault.IsValid(savedAt, m.vaultTL.CredentialTTL, time.Now()) {
		return errs.New(errs.ErrorTypeAuth, errs.SeverityHigh, "credential_login",
			"vaulted credentials are stale, re-run the auth command")
	}

	m.recordAttempt()

	err = m.handler.GuardedWithRetry(ctx, breakerLogin, func(ctx context.Context) error {
		return m.submitLoginForm(ctx, bc, creds)
	})
	if err != nil {
		return err
	}

	m.resetAttempts()

	cookies, err := bc.Cookies(ctx)
	if err != nil {
		m.logger.WithError(err).Warn("failed to read cookies after login, session not vaulted")
	} else if err := m.store.Seal(m.cookieBlob(), cookies); err != nil {
		m.logger.WithError(err).Warn("failed to vault cookie session")
	} else {
		m.mu.Lock()
		m.info.CookieCount = len(cookies)
		m.mu.Unlock()
	}

	m.mu.Lock()
	m.info.AuthMethod = MethodCredentials
	m.mu.Unlock()

	m.logger.InfoWithFields("credential login succeeded", map[string]interface{}{
		"user": m.Info().Username,
	})
	return nil
}

// submitLoginForm is one login attempt: navigate, type both fields with
// human cadence, click submit and verify the account page.
func (m *Manager) submitLoginForm(ctx context.Context, bc browser.Context, creds Credentials) error {
	page, err := bc.NewPage(ctx)
	if err != nil {
		return err
	}
	defer page.Close()

	sel := m.target.Selectors

	if err := page.Goto(ctx, m.target.LoginURL); err != nil {
		return err
	}
	if err := page.WaitForSelector(ctx, sel.LoginUser); err != nil {
		return err
	}

	if err := m.sim.HumanType(ctx, page, sel.LoginUser, creds.Username); err != nil {
		return err
	}
	if err := m.sim.HumanType(ctx, page, sel.LoginPassword, creds.Password); err != nil {
		return err
	}

	// Drift the cursor toward the submit area before clicking, like a
	// hand crossing the form.
	x := 500 + m.rng.Float64()*200
	y := 400 + m.rng.Float64()*120
	if err := m.sim.HumanMove(ctx, page, x, y); err != nil {
		return err
	}
	if err := page.Click(ctx, sel.LoginSubmit); err != nil {
		return err
	}

	return m.verify(ctx, page)
}

// verify confirms the session by waiting for the profile marker and
// extracting the account identity. A missing marker means the site did
// not accept the session; that is an auth error, never a crash.
func (m *Manager) verify(ctx context.Context, page browser.Page) error {
	sel := m.target.Selectors

	if err := page.WaitForSelector(ctx, sel.ProfileMarker); err != nil {
		m.mu.Lock()
		m.info.Status = StatusNotAuthenticated
		m.mu.Unlock()
		return errs.Wrap(err, errs.ErrorTypeAuth, errs.SeverityMedium, "verify",
			"profile marker not found, session rejected")
	}

	userID, err := page.Text(ctx, sel.UserID)
	if err != nil {
		m.logger.WithError(err).Debug("could not extract user id")
	}
	username, err := page.Text(ctx, sel.Username)
	if err != nil {
		m.logger.WithError(err).Debug("could not extract username")
	}

	verified := false
	if sel.VerifiedBadge != "" {
		badges, err := page.QueryAll(ctx, sel.VerifiedBadge)
		if err == nil {
			verified = len(badges) > 0
		}
	}

	now := time.Now()
	m.mu.Lock()
	m.info.Status = StatusAuthenticated
	m.info.UserID = strings.TrimSpace(userID)
	m.info.Username = strings.TrimSpace(username)
	m.info.Verified = verified
	m.info.LoginTime = now
	m.info.LastActivity = now
	m.mu.Unlock()

	return nil
}

// checkAttemptBudget enforces the hard cap on consecutive credential
// attempts. Unlike the breaker, the budget only resets on success or
// after the cooldown elapses.
func (m *Manager) checkAttemptBudget() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.attempts >= m.cfg.MaxLoginAttempts {
		if time.Since(m.lastAttempt) < m.cfg.AttemptCooldown {
			return errs.New(errs.ErrorTypeAuth, errs.SeverityHigh, "credential_login",
				fmt.Sprintf("login attempt budget (%d) exhausted, cooling down", m.cfg.MaxLoginAttempts))
		}
		m.attempts = 0
	}
	return nil
}

func (m *Manager) recordAttempt() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts++
	m.lastAttempt = time.Now()
}

func (m *Manager) resetAttempts() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = 0
}

// CookieBlobName returns the vault blob name for an account's cookie
// jar.
func CookieBlobName(account string) string {
	return "cookies_" + account
}

// CredentialsBlobName returns the vault blob name for an account's
// credential pair.
func CredentialsBlobName(account string) string {
	return "credentials_" + account
}

func (m *Manager) cookieBlob() string {
	return CookieBlobName(m.cfg.Account)
}

func (m *Manager) credentialsBlob() string {
	return CredentialsBlobName(m.cfg.Account)
}
