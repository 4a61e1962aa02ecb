package credentials

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCredential(user string, provider Provider) *Credential {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &Credential{
		UserID:                user,
		Provider:              provider,
		EncryptedAccessToken:  "enc-access",
		EncryptedRefreshToken: "enc-refresh",
		ExpiresAt:             now.Add(time.Hour),
		ProviderSubjectID:     "sub-123",
		UpdatedAt:             now,
	}
}

// runStoreContract exercises the behaviour every backend must share.
func runStoreContract(t *testing.T, store Store) {
	ctx := context.Background()

	t.Run("get missing", func(t *testing.T) {
		_, err := store.Get(ctx, "nobody", ProviderGoogle)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("put then get", func(t *testing.T) {
		want := testCredential("alice", ProviderGoogle)
		require.NoError(t, store.Put(ctx, want))

		got, err := store.Get(ctx, "alice", ProviderGoogle)
		require.NoError(t, err)
		assert.Equal(t, want.EncryptedAccessToken, got.EncryptedAccessToken)
		assert.Equal(t, want.EncryptedRefreshToken, got.EncryptedRefreshToken)
		assert.Equal(t, want.ProviderSubjectID, got.ProviderSubjectID)
		assert.True(t, want.ExpiresAt.Equal(got.ExpiresAt))
		assert.False(t, got.Revoked)
	})

	t.Run("providers are separate keys", func(t *testing.T) {
		_, err := store.Get(ctx, "alice", ProviderMicrosoft)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("put replaces the record", func(t *testing.T) {
		next := testCredential("alice", ProviderGoogle)
		next.EncryptedAccessToken = "enc-access-2"
		next.EncryptedRefreshToken = "enc-refresh-2"
		next.ExpiresAt = next.ExpiresAt.Add(time.Hour)
		next.Revoked = true
		require.NoError(t, store.Put(ctx, next))

		got, err := store.Get(ctx, "alice", ProviderGoogle)
		require.NoError(t, err)
		assert.Equal(t, "enc-access-2", got.EncryptedAccessToken)
		assert.Equal(t, "enc-refresh-2", got.EncryptedRefreshToken)
		assert.True(t, next.ExpiresAt.Equal(got.ExpiresAt))
		assert.True(t, got.Revoked)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, "alice", ProviderGoogle))
		_, err := store.Get(ctx, "alice", ProviderGoogle)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, store.Delete(ctx, "alice", ProviderGoogle), ErrNotFound)
	})

	t.Run("invalid credential", func(t *testing.T) {
		assert.Error(t, store.Put(ctx, nil))
		assert.Error(t, store.Put(ctx, &Credential{Provider: ProviderGoogle}))
		assert.Error(t, store.Put(ctx, &Credential{UserID: "x", Provider: "yahoo"}))
	})

	t.Run("ping", func(t *testing.T) {
		assert.NoError(t, store.Ping(ctx))
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, NewMemoryStore())
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	c := testCredential("bob", ProviderMicrosoft)
	require.NoError(t, s.Put(ctx, c))
	c.EncryptedAccessToken = "mutated"

	got, err := s.Get(ctx, "bob", ProviderMicrosoft)
	require.NoError(t, err)
	assert.Equal(t, "enc-access", got.EncryptedAccessToken)
	got.EncryptedAccessToken = "mutated again"

	again, err := s.Get(ctx, "bob", ProviderMicrosoft)
	require.NoError(t, err)
	assert.Equal(t, "enc-access", again.EncryptedAccessToken)
}

func TestMemoryStore_Concurrent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Put(ctx, testCredential("carol", ProviderGoogle))
			_, _ = s.Get(ctx, "carol", ProviderGoogle)
		}()
	}
	wg.Wait()
	_, err := s.Get(ctx, "carol", ProviderGoogle)
	assert.NoError(t, err)
}

func TestSQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "creds.db")
	store, err := OpenSQLite(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	runStoreContract(t, store)
}

func TestSQLiteStore_Persists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "creds.db")

	store, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, testCredential("dave", ProviderGoogle)))
	require.NoError(t, store.Close())

	reopened, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer reopened.Close()
	got, err := reopened.Get(ctx, "dave", ProviderGoogle)
	require.NoError(t, err)
	assert.Equal(t, "sub-123", got.ProviderSubjectID)
}

// TestValkeyStore runs against a live server when VALKEY_TEST_URL is set.
func TestValkeyStore(t *testing.T) {
	url := os.Getenv("VALKEY_TEST_URL")
	if url == "" {
		t.Skip("VALKEY_TEST_URL not set")
	}
	store, err := NewValkeyStore(ValkeyConfig{URL: url, KeyPrefix: "calagent-test:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	runStoreContract(t, store)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, Config{})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = Open(ctx, Config{Type: StorageTypeSQLite, SQLitePath: filepath.Join(t.TempDir(), "c.db")})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	_ = s.Close()

	_, err = Open(ctx, Config{Type: StorageTypeValkey})
	assert.Error(t, err)

	_, err = Open(ctx, Config{Type: "etcd"})
	assert.Error(t, err)
}

func TestParseProvider(t *testing.T) {
	p, err := ParseProvider("google")
	require.NoError(t, err)
	assert.Equal(t, ProviderGoogle, p)
	_, err = ParseProvider("yahoo")
	assert.Error(t, err)
}
