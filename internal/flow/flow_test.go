package flow

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okellodev/authgate/internal/identity"
	"github.com/okellodev/authgate/internal/ledger"
	"github.com/okellodev/authgate/internal/models"
	"github.com/okellodev/authgate/internal/policy"
	pkglogger "github.com/okellodev/authgate/pkg/logger"
)

// testStore is a plain in-memory KVStore.
type testStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newTestStore() *testStore {
	return &testStore{data: make(map[string]string)}
}

func (s *testStore) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *testStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

func (s *testStore) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

// mockClient implements identity.Client with overridable behavior and call
// counters.
type mockClient struct {
	mu          sync.Mutex
	loginCalls  int
	verifyCalls int
	resendCalls int

	loginFn  func(email, password string) (*identity.LoginResult, error)
	verifyFn func(email, code string) (*identity.VerifyResult, error)
	resendFn func(email string) error
}

func (m *mockClient) Login(_ context.Context, email, password string) (*identity.LoginResult, error) {
	m.mu.Lock()
	m.loginCalls++
	fn := m.loginFn
	m.mu.Unlock()
	if fn == nil {
		return &identity.LoginResult{SessionEstablished: true, AccessToken: "at", RefreshToken: "rt"}, nil
	}
	return fn(email, password)
}

func (m *mockClient) VerifySecondFactor(_ context.Context, email, code string) (*identity.VerifyResult, error) {
	m.mu.Lock()
	m.verifyCalls++
	fn := m.verifyFn
	m.mu.Unlock()
	if fn == nil {
		return &identity.VerifyResult{AccessToken: "at", RefreshToken: "rt"}, nil
	}
	return fn(email, code)
}

func (m *mockClient) ResendSecondFactor(_ context.Context, email string) error {
	m.mu.Lock()
	m.resendCalls++
	fn := m.resendFn
	m.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(email)
}

func (m *mockClient) counts() (login, verify, resend int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loginCalls, m.verifyCalls, m.resendCalls
}

func testConfig() Config {
	cfg := DefaultConfig()
	// A slow interval keeps countdowns from ticking unless a test wants
	// them to.
	cfg.CountdownInterval = time.Hour
	return cfg
}

func newTestFlow(client identity.Client, cfg Config) *Flow {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	led := ledger.New(newTestStore(), policy.DefaultConfig(), logger)
	return New(Deps{
		Ledger: led,
		Policy: policy.New(policy.DefaultConfig()),
		Client: client,
		Logger: logger,
		Audit:  pkglogger.NewAuditLogger(logger),
		Config: cfg,
	})
}

func toSecondFactor(t *testing.T, f *Flow, client *mockClient) {
	t.Helper()
	client.mu.Lock()
	client.loginFn = func(email, _ string) (*identity.LoginResult, error) {
		return &identity.LoginResult{RequiresSecondFactor: true, Email: email}, nil
	}
	client.mu.Unlock()

	_, err := f.SubmitEmail("a@b.com")
	require.NoError(t, err)
	snap, err := f.SubmitPassword(context.Background(), "password123")
	require.NoError(t, err)
	require.Equal(t, models.PhaseSecondFactor, snap.Phase)
}

func TestFlowSubmitEmail_NormalizesAndAdvances(t *testing.T) {
	f := newTestFlow(&mockClient{}, testConfig())

	snap, err := f.SubmitEmail("  User@Example.COM ")
	require.NoError(t, err)

	assert.Equal(t, models.PhasePassword, snap.Phase)
	assert.Equal(t, "user@example.com", snap.Identity)
	assert.Empty(t, snap.ErrorMessage)
}

func TestFlowSubmitEmail_RejectsMalformed(t *testing.T) {
	f := newTestFlow(&mockClient{}, testConfig())

	tests := []struct {
		name  string
		email string
		want  string
	}{
		{"empty", "", "Email is required"},
		{"whitespace only", "   ", "Email is required"},
		{"no at sign", "userexample.com", "Invalid email address"},
		{"no tld", "user@example", "Invalid email address"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap, err := f.SubmitEmail(tt.email)
			require.NoError(t, err)
			assert.Equal(t, models.PhaseEmail, snap.Phase)
			assert.Equal(t, tt.want, snap.ErrorMessage)
		})
	}
}

func TestFlowSubmitPassword_TooShortSkipsNetwork(t *testing.T) {
	client := &mockClient{}
	f := newTestFlow(client, testConfig())

	_, err := f.SubmitEmail("a@b.com")
	require.NoError(t, err)

	snap, err := f.SubmitPassword(context.Background(), "short")
	require.NoError(t, err)

	assert.Equal(t, "Password must be at least 8 characters.", snap.ErrorMessage)
	login, _, _ := client.counts()
	assert.Equal(t, 0, login)
}

func TestFlowPasswordLockout_FiveFailuresThenClientSideReject(t *testing.T) {
	client := &mockClient{
		loginFn: func(string, string) (*identity.LoginResult, error) {
			return nil, models.ErrInvalidCredentials
		},
	}
	f := newTestFlow(client, testConfig())

	_, err := f.SubmitEmail("a@b.com")
	require.NoError(t, err)

	var snap Snapshot
	for i := 0; i < 4; i++ {
		snap, err = f.SubmitPassword(context.Background(), "password123")
		require.NoError(t, err)
	}
	assert.Equal(t, "Invalid credentials. 1 attempt(s) remaining.", snap.ErrorMessage)

	// Fifth failure locks the identity
	snap, err = f.SubmitPassword(context.Background(), "password123")
	require.NoError(t, err)
	assert.Equal(t, "Too many failed attempts. Locked out for 15 minute(s).", snap.ErrorMessage)
	assert.True(t, snap.Locked)

	// Sixth submit is rejected before any network call
	snap, err = f.SubmitPassword(context.Background(), "password123")
	require.NoError(t, err)
	assert.Equal(t, "Too many failed attempts. Try again in ~15 minute(s).", snap.ErrorMessage)

	login, _, _ := client.counts()
	assert.Equal(t, 5, login)
}

func TestFlowEmailPhase_BlocksLockedIdentity(t *testing.T) {
	client := &mockClient{
		loginFn: func(string, string) (*identity.LoginResult, error) {
			return nil, models.ErrInvalidCredentials
		},
	}
	f := newTestFlow(client, testConfig())

	_, err := f.SubmitEmail("a@b.com")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err = f.SubmitPassword(context.Background(), "password123")
		require.NoError(t, err)
	}

	_, err = f.BackToEmail()
	require.NoError(t, err)

	snap, err := f.SubmitEmail("a@b.com")
	require.NoError(t, err)
	assert.Equal(t, models.PhaseEmail, snap.Phase)
	assert.Equal(t, "Too many failed attempts. Try again in ~15 minute(s).", snap.ErrorMessage)
}

func TestFlowBackToEmail_KeepsLedgerState(t *testing.T) {
	client := &mockClient{
		loginFn: func(string, string) (*identity.LoginResult, error) {
			return nil, models.ErrInvalidCredentials
		},
	}
	f := newTestFlow(client, testConfig())

	_, err := f.SubmitEmail("a@b.com")
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err = f.SubmitPassword(context.Background(), "password123")
		require.NoError(t, err)
	}

	_, err = f.BackToEmail()
	require.NoError(t, err)
	_, err = f.SubmitEmail("a@b.com")
	require.NoError(t, err)

	// Prior failures still count within the window
	snap, err := f.SubmitPassword(context.Background(), "password123")
	require.NoError(t, err)
	assert.Equal(t, "Invalid credentials. 2 attempt(s) remaining.", snap.ErrorMessage)
}

func TestFlowLogin_RequiresSecondFactorClearsBothLedgers(t *testing.T) {
	client := &mockClient{
		loginFn: func(string, string) (*identity.LoginResult, error) {
			return nil, models.ErrInvalidCredentials
		},
	}
	f := newTestFlow(client, testConfig())

	_, err := f.SubmitEmail("a@b.com")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = f.SubmitPassword(context.Background(), "password123")
		require.NoError(t, err)
	}

	client.mu.Lock()
	client.loginFn = func(email, _ string) (*identity.LoginResult, error) {
		return &identity.LoginResult{RequiresSecondFactor: true, Email: email}, nil
	}
	client.mu.Unlock()

	snap, err := f.SubmitPassword(context.Background(), "password123")
	require.NoError(t, err)

	assert.Equal(t, models.PhaseSecondFactor, snap.Phase)
	assert.Nil(t, f.deps.Ledger.Peek(models.PurposePassword, "a@b.com"))
	assert.Nil(t, f.deps.Ledger.Peek(models.PurposeSecondFactor, "a@b.com"))
	// Fresh second-factor session shows the full allowance
	assert.Equal(t, 5, snap.AttemptsRemaining)
}

func TestFlowLogin_FullSessionAuthenticates(t *testing.T) {
	client := &mockClient{
		loginFn: func(string, string) (*identity.LoginResult, error) {
			return nil, models.ErrInvalidCredentials
		},
	}
	f := newTestFlow(client, testConfig())

	_, err := f.SubmitEmail("a@b.com")
	require.NoError(t, err)
	_, err = f.SubmitPassword(context.Background(), "password123")
	require.NoError(t, err)

	client.mu.Lock()
	client.loginFn = nil
	client.mu.Unlock()

	snap, err := f.SubmitPassword(context.Background(), "password123")
	require.NoError(t, err)

	assert.True(t, snap.Authenticated)
	assert.Equal(t, "/dashboard", snap.RedirectTo)
	require.NotNil(t, snap.Session)
	assert.Equal(t, "at", snap.Session.AccessToken)
	// No residual count after a successful login
	assert.Nil(t, f.deps.Ledger.Peek(models.PurposePassword, "a@b.com"))
}

func TestFlowTransportError_NeverCountsAgainstUser(t *testing.T) {
	client := &mockClient{
		loginFn: func(string, string) (*identity.LoginResult, error) {
			return nil, errors.New("connection refused")
		},
	}
	f := newTestFlow(client, testConfig())

	_, err := f.SubmitEmail("a@b.com")
	require.NoError(t, err)

	snap, err := f.SubmitPassword(context.Background(), "password123")
	require.NoError(t, err)

	assert.Equal(t, "Something went wrong. Please try again.", snap.ErrorMessage)
	assert.Nil(t, f.deps.Ledger.Peek(models.PurposePassword, "a@b.com"))
}

func TestFlowSubmitWhileBusy_IsNoOp(t *testing.T) {
	release := make(chan struct{})
	client := &mockClient{
		loginFn: func(string, string) (*identity.LoginResult, error) {
			<-release
			return &identity.LoginResult{SessionEstablished: true}, nil
		},
	}
	f := newTestFlow(client, testConfig())

	_, err := f.SubmitEmail("a@b.com")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = f.SubmitPassword(context.Background(), "password123")
	}()

	require.Eventually(t, func() bool {
		return f.State().Busy
	}, time.Second, time.Millisecond)

	snap, err := f.SubmitPassword(context.Background(), "password123")
	require.NoError(t, err)
	assert.True(t, snap.Busy)

	close(release)
	<-done

	login, _, _ := client.counts()
	assert.Equal(t, 1, login)
}

func TestFlowSecondFactor_MalformedCodeSkipsNetwork(t *testing.T) {
	client := &mockClient{}
	f := newTestFlow(client, testConfig())
	toSecondFactor(t, f, client)

	tests := []string{"", "12345", "1234567", "12345a", "abcdef"}
	for _, code := range tests {
		snap, err := f.SubmitCode(context.Background(), code)
		require.NoError(t, err)
		assert.Equal(t, "6 digits required", snap.ErrorMessage)
	}

	_, verify, _ := client.counts()
	assert.Equal(t, 0, verify)
}

func TestFlowSecondFactorLockout_IndependentOfPasswordPurpose(t *testing.T) {
	client := &mockClient{
		verifyFn: func(string, string) (*identity.VerifyResult, error) {
			return nil, models.ErrInvalidCode
		},
	}
	f := newTestFlow(client, testConfig())
	toSecondFactor(t, f, client)

	var snap Snapshot
	var err error
	for i := 0; i < 4; i++ {
		snap, err = f.SubmitCode(context.Background(), "123456")
		require.NoError(t, err)
	}
	assert.Equal(t, "Invalid code. 1 attempt(s) left.", snap.ErrorMessage)

	snap, err = f.SubmitCode(context.Background(), "123456")
	require.NoError(t, err)
	assert.Equal(t, "Too many MFA attempts. Try again in 15 minute(s).", snap.ErrorMessage)
	assert.True(t, snap.Locked)

	// Rejected client-side while locked
	snap, err = f.SubmitCode(context.Background(), "123456")
	require.NoError(t, err)
	_, verify, _ := client.counts()
	assert.Equal(t, 5, verify)

	// Locking the second factor leaves the password purpose untouched
	assert.Nil(t, f.deps.Ledger.Peek(models.PurposePassword, "a@b.com"))
}

func TestFlowSecondFactorSuccess_ClearsLedger(t *testing.T) {
	client := &mockClient{
		verifyFn: func(string, string) (*identity.VerifyResult, error) {
			return nil, models.ErrInvalidCode
		},
	}
	f := newTestFlow(client, testConfig())
	toSecondFactor(t, f, client)

	_, err := f.SubmitCode(context.Background(), "123456")
	require.NoError(t, err)

	client.mu.Lock()
	client.verifyFn = nil
	client.mu.Unlock()

	snap, err := f.SubmitCode(context.Background(), "654321")
	require.NoError(t, err)

	assert.True(t, snap.Authenticated)
	assert.Nil(t, f.deps.Ledger.Peek(models.PurposeSecondFactor, "a@b.com"))
}

func TestFlowResend_NeverTouchesLedger(t *testing.T) {
	client := &mockClient{}
	f := newTestFlow(client, testConfig())
	toSecondFactor(t, f, client)

	for i := 0; i < 3; i++ {
		snap, sent, err := f.Resend(context.Background())
		require.NoError(t, err)
		assert.True(t, sent)
		assert.Equal(t, "New code sent! Check your app.", snap.InfoMessage)
	}

	assert.Nil(t, f.deps.Ledger.Peek(models.PurposeSecondFactor, "a@b.com"))
	_, _, resend := client.counts()
	assert.Equal(t, 3, resend)
}

func TestFlowResend_SecondClickWhileInFlightIsNoOp(t *testing.T) {
	release := make(chan struct{})
	client := &mockClient{
		resendFn: func(string) error {
			<-release
			return nil
		},
	}
	f := newTestFlow(client, testConfig())
	toSecondFactor(t, f, client)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _, _ = f.Resend(context.Background())
	}()

	require.Eventually(t, func() bool {
		return f.State().Resending
	}, time.Second, time.Millisecond)

	_, sent, err := f.Resend(context.Background())
	require.NoError(t, err)
	assert.False(t, sent)

	close(release)
	<-done

	_, _, resend := client.counts()
	assert.Equal(t, 1, resend)
}

func TestFlowResendFailure_SurfacesError(t *testing.T) {
	client := &mockClient{
		resendFn: func(string) error {
			return models.ErrResendFailed
		},
	}
	f := newTestFlow(client, testConfig())
	toSecondFactor(t, f, client)

	snap, sent, err := f.Resend(context.Background())
	require.NoError(t, err)

	assert.False(t, sent)
	assert.Equal(t, "Failed to resend code", snap.ErrorMessage)
}

func TestFlowPasswordExpired_HandsOffToCountdown(t *testing.T) {
	client := &mockClient{
		loginFn: func(string, string) (*identity.LoginResult, error) {
			return nil, models.ErrPasswordExpired
		},
	}
	f := newTestFlow(client, testConfig())

	_, err := f.SubmitEmail("a@b.com")
	require.NoError(t, err)

	snap, err := f.SubmitPassword(context.Background(), "password123")
	require.NoError(t, err)

	require.NotNil(t, snap.Countdown)
	assert.Equal(t, 5, snap.Countdown.RemainingSeconds)
	assert.False(t, snap.Countdown.Fired)
	// Not a brute-force signal: the ledger stays untouched
	assert.Nil(t, f.deps.Ledger.Peek(models.PurposePassword, "a@b.com"))

	// The machine is inert while the countdown owns the screen
	snap, err = f.SubmitPassword(context.Background(), "password123")
	require.NoError(t, err)
	require.NotNil(t, snap.Countdown)
	login, _, _ := client.counts()
	assert.Equal(t, 1, login)
}

func TestFlowCountdown_ReachingZeroNavigatesOnce(t *testing.T) {
	client := &mockClient{
		loginFn: func(string, string) (*identity.LoginResult, error) {
			return nil, models.ErrPasswordExpired
		},
	}
	cfg := testConfig()
	cfg.CountdownInterval = 5 * time.Millisecond
	f := newTestFlow(client, cfg)

	_, err := f.SubmitEmail("a@b.com")
	require.NoError(t, err)
	_, err = f.SubmitPassword(context.Background(), "password123")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return f.State().RedirectTo == "/auth/secure-password-change"
	}, time.Second, time.Millisecond)

	// Skipping after the fact changes nothing
	snap, err := f.SkipCountdown()
	require.NoError(t, err)
	assert.Equal(t, "/auth/secure-password-change", snap.RedirectTo)
	assert.True(t, snap.Countdown.Fired)
}

func TestFlowCountdown_SkipNavigatesImmediately(t *testing.T) {
	client := &mockClient{
		loginFn: func(string, string) (*identity.LoginResult, error) {
			return nil, models.ErrPasswordExpired
		},
	}
	f := newTestFlow(client, testConfig())

	_, err := f.SubmitEmail("a@b.com")
	require.NoError(t, err)
	_, err = f.SubmitPassword(context.Background(), "password123")
	require.NoError(t, err)

	snap, err := f.SkipCountdown()
	require.NoError(t, err)

	assert.Equal(t, "/auth/secure-password-change", snap.RedirectTo)
	require.NotNil(t, snap.Countdown)
	assert.True(t, snap.Countdown.Fired)
}

func TestFlowSkipCountdown_WithoutCountdownIsWrongPhase(t *testing.T) {
	f := newTestFlow(&mockClient{}, testConfig())

	_, err := f.SkipCountdown()
	assert.ErrorIs(t, err, models.ErrWrongPhase)
}

func TestFlowWrongPhaseActions(t *testing.T) {
	f := newTestFlow(&mockClient{}, testConfig())

	_, err := f.SubmitPassword(context.Background(), "password123")
	assert.ErrorIs(t, err, models.ErrWrongPhase)

	_, err = f.SubmitCode(context.Background(), "123456")
	assert.ErrorIs(t, err, models.ErrWrongPhase)

	_, _, err = f.Resend(context.Background())
	assert.ErrorIs(t, err, models.ErrWrongPhase)

	_, err = f.BackToPassword()
	assert.ErrorIs(t, err, models.ErrWrongPhase)
}

func TestFlowBackToPassword_FromSecondFactor(t *testing.T) {
	client := &mockClient{}
	f := newTestFlow(client, testConfig())
	toSecondFactor(t, f, client)

	snap, err := f.BackToPassword()
	require.NoError(t, err)

	assert.Equal(t, models.PhasePassword, snap.Phase)
	assert.Equal(t, "a@b.com", snap.Identity)
}
