package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heybooks/heybooks-sync/internal/connectivity"
	"github.com/heybooks/heybooks-sync/internal/docstore/memdoc"
	"github.com/heybooks/heybooks-sync/internal/domain"
	domainerrors "github.com/heybooks/heybooks-sync/internal/errors"
	"github.com/heybooks/heybooks-sync/internal/i18n"
	"github.com/heybooks/heybooks-sync/internal/logger"
	"github.com/heybooks/heybooks-sync/internal/notify"
	"github.com/heybooks/heybooks-sync/internal/replica"
)

// fakeProvider is an in-process identity provider.
type fakeProvider struct {
	mu        sync.Mutex
	verified  bool
	block     bool // ignore ctx and never answer in time
	signInErr error
	sent      int
	resets    []string
	signedOut int
}

func (f *fakeProvider) creds(email string) Credentials {
	return Credentials{
		Identity:    domain.Identity{UserID: "u1", Email: email, EmailVerified: f.verified},
		AccessToken: "token-u1",
	}
}

func (f *fakeProvider) CreateAccount(_ context.Context, reg domain.Registration) (Credentials, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creds(reg.Email), nil
}

func (f *fakeProvider) SignIn(_ context.Context, c domain.Credentials) (Credentials, error) {
	if f.block {
		time.Sleep(500 * time.Millisecond)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.signInErr != nil {
		return Credentials{}, f.signInErr
	}
	return f.creds(c.Email), nil
}

func (f *fakeProvider) SendEmailVerification(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent++
	return nil
}

func (f *fakeProvider) SendPasswordReset(_ context.Context, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets = append(f.resets, email)
	return nil
}

func (f *fakeProvider) Reload(context.Context, string) (domain.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creds("ada@example.com").Identity, nil
}

func (f *fakeProvider) SignOut(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signedOut++
	return nil
}

type fixture struct {
	session  *Session
	provider *fakeProvider
	probe    *connectivity.Static
	notes    *notify.Recorder
	store    *memdoc.Store
}

func setupTest(t *testing.T, timeout time.Duration) *fixture {
	t.Helper()
	notes := &notify.Recorder{}
	reporter := notify.NewReporter(notes, i18n.NewPrinter("en"), logger.Discard())
	probe := connectivity.NewStatic(true)
	store := memdoc.New(logger.Discard())
	t.Cleanup(func() { _ = store.Close() })
	provider := &fakeProvider{verified: true}

	s := New(Options{
		Provider: provider,
		Replica:  replica.NewClient(store, logger.Discard()),
		Gate:     connectivity.NewGate(probe, reporter, logger.Discard()),
		Reporter: reporter,
		Logger:   logger.Discard(),
		Timeout:  timeout,
	})
	return &fixture{session: s, provider: provider, probe: probe, notes: notes, store: store}
}

var ada = domain.Credentials{Email: "ada@example.com", Password: "secret1"}

func TestSignIn_Success(t *testing.T) {
	f := setupTest(t, time.Second)

	require.NoError(t, f.session.SignIn(context.Background(), ada))

	identity, err := f.session.RequireVerified()
	require.NoError(t, err)
	assert.Equal(t, "u1", identity.UserID)
	assert.Equal(t, "token-u1", f.session.AccessToken())
	assert.Equal(t, domain.Loaded, f.session.State())
}

func TestSignIn_TimeoutReportsOnceAndNeverLoads(t *testing.T) {
	f := setupTest(t, 50*time.Millisecond)
	f.provider.block = true

	err := f.session.SignIn(context.Background(), ada)

	assert.ErrorIs(t, err, domainerrors.ErrTimedOut)
	assert.Equal(t, domain.Error, f.session.State())
	assert.Equal(t, 1, f.notes.Count("The request timed out"))
	assert.Len(t, f.notes.Messages(), 1)

	// The late answer must not sign the user in.
	time.Sleep(600 * time.Millisecond)
	_, ok := f.session.Current()
	assert.False(t, ok)
	assert.Equal(t, domain.Error, f.session.State())
}

func TestSignIn_ProviderFailureIsNotTimeout(t *testing.T) {
	f := setupTest(t, time.Second)
	f.provider.signInErr = domainerrors.InvalidCredentials("wrong password")

	err := f.session.SignIn(context.Background(), ada)

	assert.ErrorIs(t, err, domainerrors.ErrInvalidCredentials)
	assert.NotErrorIs(t, err, domainerrors.ErrTimedOut)
	assert.Equal(t, []string{"Wrong email or password"}, f.notes.Texts())
}

func TestSignIn_Unverified(t *testing.T) {
	f := setupTest(t, time.Second)
	f.provider.verified = false

	err := f.session.SignIn(context.Background(), ada)

	assert.ErrorIs(t, err, domainerrors.ErrEmailNotVerified)
	_, ok := f.session.Current()
	assert.True(t, ok, "unverified users keep their credentials")
	_, err = f.session.RequireVerified()
	assert.ErrorIs(t, err, domainerrors.ErrEmailNotVerified)
	assert.Equal(t, []string{"Email address not verified"}, f.notes.Texts())
}

func TestSignIn_Offline(t *testing.T) {
	f := setupTest(t, time.Second)
	f.probe.Set(false)

	err := f.session.SignIn(context.Background(), ada)

	assert.ErrorIs(t, err, domainerrors.ErrOffline)
	assert.Equal(t, domain.Idle, f.session.State())
	assert.Equal(t, []string{"Device not connected"}, f.notes.Texts())
}

func TestSignIn_ValidationBeforeProvider(t *testing.T) {
	f := setupTest(t, time.Second)
	f.provider.signInErr = domainerrors.Internal("must not be called")

	err := f.session.SignIn(context.Background(), domain.Credentials{Email: "nope"})

	assert.ErrorIs(t, err, domainerrors.ErrValidation)
	assert.Equal(t, domain.Idle, f.session.State())
}

func TestRegister_CreatesProfileAndSendsVerification(t *testing.T) {
	f := setupTest(t, time.Second)
	f.provider.verified = false

	err := f.session.Register(context.Background(), domain.Registration{Name: "Ada", Email: "ada@example.com", Password: "secret1"})
	require.NoError(t, err)

	snap, err := f.store.Get(context.Background(), replica.OwnerAddress("u1"))
	require.NoError(t, err)
	require.True(t, snap.Exists)
	var user domain.User
	require.NoError(t, snap.Decode(&user))
	assert.Equal(t, "Ada", user.Name)
	assert.NotNil(t, user.ListOfBooks)
	assert.Empty(t, user.ListOfBooks)

	assert.Equal(t, 1, f.provider.sent)
	assert.Equal(t, []string{"Verification email sent"}, f.notes.Texts())
}

func TestResetPassword(t *testing.T) {
	f := setupTest(t, time.Second)

	require.NoError(t, f.session.ResetPassword(context.Background(), domain.PasswordReset{Email: "ada@example.com"}))
	assert.Equal(t, []string{"ada@example.com"}, f.provider.resets)
	assert.Equal(t, []string{"Email sent"}, f.notes.Texts())
}

func TestResendVerification(t *testing.T) {
	f := setupTest(t, time.Second)

	err := f.session.ResendVerification(context.Background())
	assert.ErrorIs(t, err, domainerrors.ErrUnauthenticated)

	f.provider.verified = false
	_ = f.session.SignIn(context.Background(), ada)
	require.NoError(t, f.session.ResendVerification(context.Background()))
	assert.Equal(t, 1, f.provider.sent)

	f.provider.verified = true
	require.NoError(t, f.session.ResendVerification(context.Background()))
	assert.Equal(t, 1, f.provider.sent)
	assert.Contains(t, f.notes.Texts(), "Email address already verified")

	_, err = f.session.RequireVerified()
	assert.NoError(t, err, "reload picked up the verification")
}

func TestSignOut_RunsTeardownHooks(t *testing.T) {
	f := setupTest(t, time.Second)
	require.NoError(t, f.session.SignIn(context.Background(), ada))

	calls := 0
	f.session.OnSignOut(func() { calls++ })

	require.NoError(t, f.session.SignOut(context.Background()))

	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, f.provider.signedOut)
	assert.Equal(t, domain.Idle, f.session.State())
	_, err := f.session.RequireIdentity()
	assert.ErrorIs(t, err, domainerrors.ErrUnauthenticated)

	// Signing out again still tears down but skips the provider.
	require.NoError(t, f.session.SignOut(context.Background()))
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, f.provider.signedOut)
}
