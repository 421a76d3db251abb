package asset

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/catalog-ingest/internal/retry"
)

var errStoreDown = errors.New("store unavailable")

// mockStore is a hand-written ObjectStore for tests.
type mockStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    []string
	deletes []string

	putFunc    func(ctx context.Context, key string) error
	deleteFunc func(ctx context.Context, key string) error
}

func newMockStore() *mockStore {
	return &mockStore{objects: make(map[string][]byte)}
}

func (m *mockStore) Put(ctx context.Context, key string, data []byte, _ string) (string, error) {
	m.mu.Lock()
	m.puts = append(m.puts, key)
	fn := m.putFunc
	m.mu.Unlock()

	if fn != nil {
		if err := fn(ctx, key); err != nil {
			return "", err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return "https://cdn.test/" + key, nil
}

func (m *mockStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	m.deletes = append(m.deletes, key)
	fn := m.deleteFunc
	m.mu.Unlock()

	if fn != nil {
		if err := fn(ctx, key); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func TestUploader_Upload(t *testing.T) {
	store := newMockStore()
	u := NewUploader(store, UploaderConfig{}, nil)

	ref, err := u.Upload(context.Background(), Payload{Index: 3, Source: "a.png", Data: []byte("jpeg")})
	require.NoError(t, err)

	assert.Equal(t, 3, ref.Index)
	assert.True(t, strings.HasPrefix(ref.Key, DefaultKeyPrefix+"/"), ref.Key)
	assert.True(t, strings.HasSuffix(ref.Key, ".jpg"), ref.Key)
	assert.Equal(t, "https://cdn.test/"+ref.Key, ref.URL)
	assert.Equal(t, []byte("jpeg"), store.objects[ref.Key])
}

func TestUploader_UniqueKeys(t *testing.T) {
	store := newMockStore()
	u := NewUploader(store, UploaderConfig{KeyPrefix: "custom"}, nil)

	seen := make(map[string]struct{})
	for i := 0; i < 50; i++ {
		ref, err := u.Upload(context.Background(), Payload{Index: i})
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(ref.Key, "custom/"))
		seen[ref.Key] = struct{}{}
	}
	assert.Len(t, seen, 50)
}

func TestUploader_Failure(t *testing.T) {
	store := newMockStore()
	store.putFunc = func(context.Context, string) error { return errStoreDown }
	u := NewUploader(store, UploaderConfig{}, nil)

	_, err := u.Upload(context.Background(), Payload{Index: 1, Source: "b.png"})

	var upErr *UploadError
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, 1, upErr.Index)
	assert.Equal(t, "b.png", upErr.Ref)
	assert.ErrorIs(t, err, errStoreDown)
	assert.Len(t, store.puts, 1)
}

func TestUploader_RetryUsesFreshKey(t *testing.T) {
	store := newMockStore()
	calls := 0
	store.putFunc = func(context.Context, string) error {
		calls++
		if calls == 1 {
			return errStoreDown
		}
		return nil
	}

	u := NewUploader(store, UploaderConfig{
		Retry: retry.Policy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond},
	}, nil)

	ref, err := u.Upload(context.Background(), Payload{})
	require.NoError(t, err)

	require.Len(t, store.puts, 2)
	assert.NotEqual(t, store.puts[0], store.puts[1])
	assert.Equal(t, store.puts[1], ref.Key)
}

func TestUploader_PermanentErrorNotRetried(t *testing.T) {
	store := newMockStore()
	store.putFunc = func(context.Context, string) error { return retry.Permanent(errStoreDown) }

	u := NewUploader(store, UploaderConfig{
		Retry: retry.Policy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond},
	}, nil)

	_, err := u.Upload(context.Background(), Payload{Index: 2, Source: "c.png"})

	var upErr *UploadError
	require.ErrorAs(t, err, &upErr)
	assert.ErrorIs(t, err, errStoreDown)
	assert.Len(t, store.puts, 1)
}

func TestUploader_AttemptTimeout(t *testing.T) {
	store := newMockStore()
	store.putFunc = func(ctx context.Context, _ string) error {
		<-ctx.Done()
		return ctx.Err()
	}
	u := NewUploader(store, UploaderConfig{Timeout: 10 * time.Millisecond}, nil)

	_, err := u.Upload(context.Background(), Payload{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestUploader_Discard(t *testing.T) {
	store := newMockStore()
	store.deleteFunc = func(_ context.Context, key string) error {
		if key == "k2" {
			return errStoreDown
		}
		return nil
	}
	u := NewUploader(store, UploaderConfig{}, nil)

	refs := []Ref{{Index: 0, Key: "k1"}, {Index: 1, Key: "k2"}, {Index: 2, Key: "k3"}}
	left, err := u.Discard(context.Background(), refs)

	require.ErrorIs(t, err, errStoreDown)
	assert.Equal(t, []Ref{{Index: 1, Key: "k2"}}, left)
	assert.Equal(t, []string{"k1", "k2", "k3"}, store.deletes)
}

func TestUploader_DiscardAll(t *testing.T) {
	store := newMockStore()
	u := NewUploader(store, UploaderConfig{}, nil)

	left, err := u.Discard(context.Background(), []Ref{{Key: "k1"}})
	require.NoError(t, err)
	assert.Empty(t, left)
}
