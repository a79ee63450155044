package remote

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heybooks/heybooks-sync/internal/api"
	"github.com/heybooks/heybooks-sync/internal/assets"
	"github.com/heybooks/heybooks-sync/internal/auth"
	"github.com/heybooks/heybooks-sync/internal/docstore"
	"github.com/heybooks/heybooks-sync/internal/docstore/docstoretest"
	"github.com/heybooks/heybooks-sync/internal/docstore/memdoc"
	"github.com/heybooks/heybooks-sync/internal/domain"
	domainerrors "github.com/heybooks/heybooks-sync/internal/errors"
	"github.com/heybooks/heybooks-sync/internal/logger"
)

// testRemote is a catalog store emulator on a real listener plus clients pointed at it.
type testRemote struct {
	srv    *httptest.Server
	docs   *memdoc.Store
	outbox *auth.Outbox

	client *Client
	auth   *AuthClient
	remote *Docs
	assets *AssetClient

	mu    sync.Mutex
	token string
}

func (tr *testRemote) setToken(token string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.token = token
}

func (tr *testRemote) currentToken() string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.token
}

func setupRemote(t *testing.T) *testRemote {
	t.Helper()
	dir := t.TempDir()
	log := logger.Discard()

	var handler http.Handler
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	accounts, err := auth.OpenAccountStore(filepath.Join(dir, "accounts.db"), log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = accounts.Close() })
	key, err := auth.LoadOrGenerateKey(dir)
	require.NoError(t, err)
	tokens, err := auth.NewTokenService(key, time.Hour)
	require.NoError(t, err)
	outbox := auth.NewOutbox(log)
	hasher := auth.NewHasher(auth.HashParams{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})

	files, err := assets.NewFileStore(filepath.Join(dir, "assets"), srv.URL)
	require.NoError(t, err)
	docs := memdoc.New(log)
	t.Cleanup(func() { _ = docs.Close() })

	server := api.NewServer(api.Deps{
		Docs:     docs,
		Auth:     auth.NewService(accounts, tokens, hasher, outbox, log),
		Accounts: accounts,
		Files:    files,
		AuthRate: 1000,
	}, log)
	t.Cleanup(server.Close)
	handler = server

	tr := &testRemote{srv: srv, docs: docs, outbox: outbox}
	client, err := New(Options{BaseURL: srv.URL, Token: tr.currentToken, Logger: log})
	require.NoError(t, err)
	t.Cleanup(client.Close)

	tr.client = client
	tr.auth = NewAuthClient(client)
	tr.remote = NewDocs(client, Reconnect{InitialDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond, Multiplier: 2})
	t.Cleanup(tr.remote.Close)
	tr.assets = NewAssetClient(client)
	return tr
}

// signUp registers an account and makes its token current.
func (tr *testRemote) signUp(t *testing.T, email string, verified bool) domain.Identity {
	t.Helper()
	ctx := context.Background()
	creds, err := tr.auth.CreateAccount(ctx, domain.Registration{Name: "Reader", Email: email, Password: "secret1"})
	require.NoError(t, err)
	tr.setToken(creds.AccessToken)

	if !verified {
		return creds.Identity
	}
	mail, ok := tr.outbox.Last(email, auth.PurposeVerifyEmail)
	require.True(t, ok)
	identity, err := tr.auth.ConfirmVerification(ctx, mail.Token)
	require.NoError(t, err)
	return identity
}

func TestNew_InvalidBaseURL(t *testing.T) {
	_, err := New(Options{BaseURL: "not a url", Logger: logger.Discard()})
	assert.Error(t, err)
}

func TestAuthClient_Lifecycle(t *testing.T) {
	tr := setupRemote(t)
	ctx := context.Background()

	creds, err := tr.auth.CreateAccount(ctx, domain.Registration{Name: "Ada", Email: "ada@example.com", Password: "secret1"})
	require.NoError(t, err)
	assert.NotEmpty(t, creds.AccessToken)
	assert.Equal(t, "Ada", creds.Identity.DisplayName)
	assert.False(t, creds.Identity.EmailVerified)

	_, err = tr.auth.CreateAccount(ctx, domain.Registration{Name: "Ada", Email: "ada@example.com", Password: "secret1"})
	assert.ErrorIs(t, err, domainerrors.ErrAlreadyExists)

	require.NoError(t, tr.auth.SendEmailVerification(ctx, creds.AccessToken))
	mail, ok := tr.outbox.Last("ada@example.com", auth.PurposeVerifyEmail)
	require.True(t, ok)
	identity, err := tr.auth.ConfirmVerification(ctx, mail.Token)
	require.NoError(t, err)
	assert.True(t, identity.EmailVerified)

	reloaded, err := tr.auth.Reload(ctx, creds.AccessToken)
	require.NoError(t, err)
	assert.True(t, reloaded.EmailVerified)

	signedIn, err := tr.auth.SignIn(ctx, domain.Credentials{Email: "ada@example.com", Password: "secret1"})
	require.NoError(t, err)
	assert.Equal(t, creds.Identity.UserID, signedIn.Identity.UserID)

	require.NoError(t, tr.auth.SignOut(ctx, creds.AccessToken))
	_, err = tr.auth.Reload(ctx, creds.AccessToken)
	assert.ErrorIs(t, err, domainerrors.ErrUnauthenticated)
}

func TestAuthClient_Failures(t *testing.T) {
	tr := setupRemote(t)
	ctx := context.Background()
	tr.signUp(t, "ada@example.com", false)

	_, err := tr.auth.SignIn(ctx, domain.Credentials{Email: "ada@example.com", Password: "wrong-password"})
	assert.Equal(t, domainerrors.CodeInvalidCredentials, domainerrors.CodeOf(err))

	_, err = tr.auth.ConfirmVerification(ctx, "bogus")
	assert.Equal(t, domainerrors.CodeValidation, domainerrors.CodeOf(err))
}

func TestAuthClient_PasswordReset(t *testing.T) {
	tr := setupRemote(t)
	ctx := context.Background()
	tr.signUp(t, "ada@example.com", false)

	require.NoError(t, tr.auth.SendPasswordReset(ctx, "ada@example.com"))
	mail, ok := tr.outbox.Last("ada@example.com", auth.PurposePasswordReset)
	require.True(t, ok)
	require.NoError(t, tr.auth.ConfirmPasswordReset(ctx, mail.Token, "brand-new"))

	_, err := tr.auth.SignIn(ctx, domain.Credentials{Email: "ada@example.com", Password: "brand-new"})
	assert.NoError(t, err)
}

func TestDocs_ProfileRoundTrip(t *testing.T) {
	tr := setupRemote(t)
	ctx := context.Background()
	identity := tr.signUp(t, "ada@example.com", false)
	addr := docstore.Address{Collection: domain.UsersCollection, ID: identity.UserID}

	snap, err := tr.remote.Get(ctx, addr)
	require.NoError(t, err)
	assert.False(t, snap.Exists)

	doc, err := docstore.Encode(domain.User{UserID: identity.UserID, Name: "Ada", ListOfBooks: []domain.Book{}})
	require.NoError(t, err)
	require.NoError(t, tr.remote.Set(ctx, addr, doc))

	bio, err := docstore.SetField(domain.FieldBio, "mathematician")
	require.NoError(t, err)
	require.NoError(t, tr.remote.Update(ctx, addr, bio))

	snap, err = tr.remote.Get(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), snap.Version)
	var user domain.User
	require.NoError(t, snap.Decode(&user))
	assert.Equal(t, "mathematician", user.Bio)
}

func TestDocs_AccessErrors(t *testing.T) {
	tr := setupRemote(t)
	ctx := context.Background()
	identity := tr.signUp(t, "ada@example.com", false)

	book := domain.Book{ID: "b1", Title: "Dune", Authors: "Frank Herbert", Categories: []string{"Fantasy"}, OwnerID: identity.UserID}
	union, err := docstore.ArrayUnion(domain.FieldListOfBooks, book)
	require.NoError(t, err)

	err = tr.remote.Update(ctx, docstore.Address{Collection: domain.CatalogCollection, ID: domain.CatalogDocument}, union)
	assert.ErrorIs(t, err, domainerrors.ErrEmailNotVerified)

	err = tr.remote.Set(ctx, docstore.Address{Collection: domain.UsersCollection, ID: "someone-else"}, docstore.Document{})
	assert.ErrorIs(t, err, domainerrors.ErrForbidden)

	tr.setToken("")
	err = tr.remote.Update(ctx, docstore.Address{Collection: domain.UsersCollection, ID: identity.UserID}, union)
	assert.ErrorIs(t, err, domainerrors.ErrUnauthenticated)

	err = tr.remote.Update(ctx, docstore.Address{Collection: "users", ID: ".."}, union)
	assert.ErrorIs(t, err, domainerrors.ErrValidation, "bad addresses never leave the client")
}

func TestDocs_Watch(t *testing.T) {
	tr := setupRemote(t)
	identity := tr.signUp(t, "ada@example.com", true)
	addr := docstore.Address{Collection: domain.CatalogCollection, ID: domain.CatalogDocument}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := tr.remote.Watch(ctx, addr)
	require.NoError(t, err)
	assert.False(t, docstoretest.Next(t, events).Exists)

	book := domain.Book{ID: "b1", Title: "Dune", Authors: "Frank Herbert", Categories: []string{"Fantasy"}, OwnerID: identity.UserID}
	union, err := docstore.ArrayUnion(domain.FieldListOfBooks, book)
	require.NoError(t, err)
	require.NoError(t, tr.remote.Update(context.Background(), addr, union))

	snap := docstoretest.Until(t, events, func(s docstore.Snapshot) bool { return s.Exists })
	assert.Equal(t, uint64(1), snap.Version)
	assert.Len(t, docstoretest.Books(t, snap), 1)

	cancel()
	assert.Eventually(t, func() bool {
		select {
		case _, ok := <-events:
			return !ok
		default:
			return false
		}
	}, docstoretest.Wait, 10*time.Millisecond)
}

func TestDocs_WatchForwardsStoreErrors(t *testing.T) {
	tr := setupRemote(t)
	addr := docstore.Address{Collection: domain.UsersCollection, ID: "u1"}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := tr.remote.Watch(ctx, addr)
	require.NoError(t, err)
	docstoretest.Next(t, events)

	require.Eventually(t, func() bool { return tr.docs.Watchers(addr) == 1 }, docstoretest.Wait, 10*time.Millisecond)
	tr.docs.Fail(addr, domainerrors.Internal("replica lagging"))

	select {
	case ev := <-events:
		require.Error(t, ev.Err)
		assert.Equal(t, domainerrors.CodeInternal, domainerrors.CodeOf(ev.Err))
	case <-time.After(docstoretest.Wait):
		t.Fatal("no error event")
	}
}

func TestDocs_WatchReattaches(t *testing.T) {
	tr := setupRemote(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	addr := docstore.Address{Collection: domain.UsersCollection, ID: "u1"}

	events, err := tr.remote.Watch(ctx, addr)
	require.NoError(t, err)
	docstoretest.Next(t, events)

	tr.srv.CloseClientConnections()

	select {
	case ev := <-events:
		assert.ErrorIs(t, ev.Err, domainerrors.ErrListenFailed)
	case <-time.After(docstoretest.Wait):
		t.Fatal("interruption not reported")
	}

	require.Eventually(t, func() bool { return tr.docs.Watchers(addr) == 1 }, docstoretest.Wait, 10*time.Millisecond)
	p, err := docstore.SetField("name", "Ada")
	require.NoError(t, err)
	require.NoError(t, tr.docs.Update(context.Background(), addr, p))

	snap := docstoretest.Until(t, events, func(s docstore.Snapshot) bool { return s.Exists })
	assert.Equal(t, uint64(1), snap.Version)
}

func TestDocs_WatchSetupFailure(t *testing.T) {
	tr := setupRemote(t)

	_, err := tr.remote.Watch(context.Background(), docstore.Address{Collection: "users"})
	assert.ErrorIs(t, err, domainerrors.ErrValidation)

	tr.srv.Close()
	_, err = tr.remote.Watch(context.Background(), docstore.Address{Collection: "users", ID: "u1"})
	assert.Error(t, err)
}

func TestAssetClient(t *testing.T) {
	tr := setupRemote(t)
	ctx := context.Background()
	identity := tr.signUp(t, "ada@example.com", false)
	p := assets.BookPicturePath(identity, "Dune Cover.png")

	url, err := tr.assets.Put(ctx, p, []byte("\x89PNG\r\n\x1a\n"), "")
	require.NoError(t, err)
	assert.Equal(t, tr.srv.URL+"/assets/"+identity.UserID+"/bookPictures/dune-cover.png", url)

	got, ok := tr.assets.PathOf(url)
	require.True(t, ok)
	assert.Equal(t, p, got)

	_, ok = tr.assets.PathOf("https://elsewhere.example/assets/" + p.String())
	assert.False(t, ok)

	require.NoError(t, tr.assets.Delete(ctx, p))
	require.NoError(t, tr.assets.Delete(ctx, p), "deleting a missing asset succeeds")

	other := assets.ProfilePicturePath(domain.Identity{UserID: "someone-else"}, "me.png")
	_, err = tr.assets.Put(ctx, other, []byte("x"), "image/png")
	assert.ErrorIs(t, err, domainerrors.ErrForbidden)
}

func TestDecodeResponse(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   domainerrors.Code
	}{
		{"envelope code wins", http.StatusBadRequest, `{"error":"nope","code":"EMAIL_NOT_VERIFIED"}`, domainerrors.CodeEmailNotVerified},
		{"code from status", http.StatusNotFound, ``, domainerrors.CodeNotFound},
		{"non-JSON proxy page", http.StatusBadGateway, `<html>bad gateway</html>`, domainerrors.CodeInternal},
		{"gateway timeout", http.StatusGatewayTimeout, ``, domainerrors.CodeTimedOut},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := decodeResponse(tt.status, []byte(tt.body), nil)
			assert.Equal(t, tt.want, domainerrors.CodeOf(err))
		})
	}

	var out map[string]int
	require.NoError(t, decodeResponse(http.StatusOK, []byte(`{"success":true,"data":{"n":3}}`), &out))
	assert.Equal(t, 3, out["n"])
}

func TestReconnect_Delay(t *testing.T) {
	r := Reconnect{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}

	assert.Equal(t, 100*time.Millisecond, r.Delay(0))
	assert.Equal(t, 400*time.Millisecond, r.Delay(2))
	assert.Equal(t, time.Second, r.Delay(10))

	r.JitterFactor = 0.5
	for range 20 {
		d := r.Delay(1)
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.LessOrEqual(t, d, 300*time.Millisecond)
	}
}
