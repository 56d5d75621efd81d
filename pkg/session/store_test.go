package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hireboard/accesscore/pkg/types"
)

func sampleSession() *StoredSession {
	p := testPrincipal
	return &StoredSession{
		Token: StoredToken{
			AccessToken:     "access-1",
			RefreshToken:    "refresh-1",
			AccessExpiresAt: time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC),
		},
		Principal: &p,
	}
}

// storeContract runs the behavior every TokenStore shares
func storeContract(t *testing.T, store TokenStore) {
	ctx := context.Background()

	_, err := store.Load(ctx)
	require.ErrorIs(t, err, ErrNoSession)

	want := sampleSession()
	require.NoError(t, store.Save(ctx, want))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, want.Token.AccessToken, got.Token.AccessToken)
	assert.Equal(t, want.Token.RefreshToken, got.Token.RefreshToken)
	assert.True(t, want.Token.AccessExpiresAt.Equal(got.Token.AccessExpiresAt))
	assert.Equal(t, *want.Principal, *got.Principal)

	next := sampleSession()
	next.Token.AccessToken = "access-2"
	next.Token.RefreshToken = "refresh-2"
	require.NoError(t, store.Save(ctx, next))
	got, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "access-2", got.Token.AccessToken)
	assert.Equal(t, "refresh-2", got.Token.RefreshToken)

	require.NoError(t, store.Clear(ctx))
	_, err = store.Load(ctx)
	require.ErrorIs(t, err, ErrNoSession)
	require.NoError(t, store.Clear(ctx), "clearing an empty store is fine")
}

func TestMemoryStore(t *testing.T) {
	storeContract(t, NewMemoryStore())
}

func TestMemoryStore_IsolatesCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	s := sampleSession()
	require.NoError(t, store.Save(ctx, s))
	s.Principal.Role = types.RoleCEO

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.RoleBranchManager, got.Principal.Role)
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.json")
	store, err := NewFileStore(path)
	require.NoError(t, err)

	storeContract(t, store)
}

func TestFileStore_Permissions(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")
	path := filepath.Join(dir, "session.json")
	store, err := NewFileStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), sampleSession()))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	dirInfo, err := os.Stat(dir)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0700), dirInfo.Mode().Perm())
}

func TestFileStore_BadContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	store, err := NewFileStore(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))
	_, err = store.Load(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoSession)

	require.NoError(t, os.WriteFile(path, []byte(`{"accesscore:session:token":{"accessToken":"a"}}`), 0600))
	_, err = store.Load(context.Background())
	assert.ErrorIs(t, err, ErrNoSession, "token without principal is no session")
}

func TestNewFileStore_RequiresPath(t *testing.T) {
	_, err := NewFileStore("")
	require.Error(t, err)
}

func setupMiniredis(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{
		Addr: s.Addr(),
		// Disable CLIENT SETINFO for miniredis compatibility
		DisableIndentity: true,
	})
	store := NewRedisStore(client, ttl)
	t.Cleanup(func() { store.Close() })
	return store, s
}

func TestRedisStore(t *testing.T) {
	store, _ := setupMiniredis(t, time.Hour)
	storeContract(t, store)
}

func TestRedisStore_KeysAndTTL(t *testing.T) {
	store, s := setupMiniredis(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, sampleSession()))
	assert.True(t, s.Exists(TokenKey))
	assert.True(t, s.Exists(PrincipalKey))
	assert.Equal(t, time.Hour, s.TTL(TokenKey))
	assert.Equal(t, time.Hour, s.TTL(PrincipalKey))

	s.FastForward(time.Hour + time.Second)
	_, err := store.Load(ctx)
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestRedisStore_HalfPresentIsNoSession(t *testing.T) {
	store, s := setupMiniredis(t, 0)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, sampleSession()))
	s.Del(PrincipalKey)

	_, err := store.Load(ctx)
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestRedisStore_Failures(t *testing.T) {
	tests := []struct {
		name      string
		setupMock func(mock redismock.ClientMock)
		run       func(store *RedisStore) error
		wantErr   error
	}{
		{
			name: "load error",
			setupMock: func(mock redismock.ClientMock) {
				mock.ExpectMGet(TokenKey, PrincipalKey).SetErr(errors.New("connection reset"))
			},
			run: func(store *RedisStore) error {
				_, err := store.Load(context.Background())
				return err
			},
		},
		{
			name: "load empty",
			setupMock: func(mock redismock.ClientMock) {
				mock.ExpectMGet(TokenKey, PrincipalKey).SetVal([]interface{}{nil, nil})
			},
			run: func(store *RedisStore) error {
				_, err := store.Load(context.Background())
				return err
			},
			wantErr: ErrNoSession,
		},
		{
			name: "clear error",
			setupMock: func(mock redismock.ClientMock) {
				mock.ExpectDel(TokenKey, PrincipalKey).SetErr(errors.New("readonly replica"))
			},
			run: func(store *RedisStore) error {
				return store.Clear(context.Background())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, mock := redismock.NewClientMock()
			tt.setupMock(mock)

			err := tt.run(NewRedisStore(client, time.Hour))
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NotErrorIs(t, err, ErrNoSession)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestRedisConfig_Validate(t *testing.T) {
	cfg := DefaultRedisConfig()
	require.NoError(t, cfg.Validate())

	cfg.Port = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultRedisConfig()
	cfg.Host = ""
	assert.Error(t, cfg.Validate())
}

type failingStore struct{}

func (failingStore) Load(context.Context) (*StoredSession, error) {
	return nil, errors.New("store offline")
}
func (failingStore) Save(context.Context, *StoredSession) error { return errors.New("store offline") }
func (failingStore) Clear(context.Context) error                { return errors.New("store offline") }

func TestManager_StoreFailuresDoNotBlock(t *testing.T) {
	srv := newBackend(t)
	m := newTestManager(t, srv, WithStore(failingStore{}))

	login(t, m)
	_, ok := m.CurrentPrincipal()
	require.True(t, ok)

	m.Logout(context.Background())
	_, ok = m.CurrentPrincipal()
	assert.False(t, ok)

	_, _, err := m.Restore(context.Background())
	assert.Error(t, err)
}

func TestManager_Restore(t *testing.T) {
	srv := newBackend(t)
	store, _ := setupMiniredis(t, time.Hour)

	first := newTestManager(t, srv, WithStore(store))
	login(t, first)

	second := newTestManager(t, srv, WithStore(store))
	p, ok, err := second.Restore(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, testPrincipal, *p)

	res, err := getResource(context.Background(), second, srv)
	require.NoError(t, err)
	assert.Equal(t, testPrincipal.ID, res.PrincipalID)

	// A refresh by the restored manager is persisted for the next one
	_, err = second.Refresh(context.Background())
	require.NoError(t, err)
	third := newTestManager(t, srv, WithStore(store))
	_, ok, err = third.Restore(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	res, err = getResource(context.Background(), third, srv)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Pair)
}

func TestManager_RestoreWithoutSession(t *testing.T) {
	srv := newBackend(t)
	store := NewMemoryStore()
	m := newTestManager(t, srv, WithStore(store))

	_, ok, err := m.Restore(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	// Incomplete sessions are discarded
	require.NoError(t, store.Save(context.Background(), &StoredSession{Token: StoredToken{AccessToken: "a"}}))
	_, ok, err = m.Restore(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = store.Load(context.Background())
	assert.ErrorIs(t, err, ErrNoSession)
}
