package reliability

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TKTINC/true-asset-alluse-sub000/internal/testutil"
)

// fakeStore is an in-memory ObjectStore so these tests never touch a
// real bucket.
type fakeStore struct {
	objects map[string][]byte
	times   map[string]time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string][]byte{}, times: map[string]time.Time{}}
}

func (f *fakeStore) Put(ctx context.Context, key string, body io.Reader, size int64) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	f.objects[key] = data
	f.times[key] = time.Now()
	return nil
}

func (f *fakeStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var out []ObjectInfo
	for k, v := range f.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, ObjectInfo{Key: k, SizeBytes: int64(len(v)), LastModified: f.times[k]})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (f *fakeStore) Delete(ctx context.Context, key string) error {
	delete(f.objects, key)
	delete(f.times, key)
	return nil
}

// setAge backdates an object's LastModified for retention tests.
func (f *fakeStore) setAge(key string, age time.Duration) {
	f.times[key] = time.Now().Add(-age)
}

func TestArchiveNowUploadsChecksummedCopy(t *testing.T) {
	db, cleanup := testutil.NewTestDB(t, "ledger")
	defer cleanup()

	store := newFakeStore()
	svc := New(db, store, "ledger-archive", zerolog.Nop())

	require.NoError(t, svc.ArchiveNow(context.Background()))

	archives, err := svc.ListArchives(context.Background())
	require.NoError(t, err)
	require.Len(t, archives, 1)
	assert.True(t, strings.HasPrefix(archives[0].Key, "ledger-archive/ledger-"))
	assert.Greater(t, archives[0].SizeBytes, int64(0))

	uploaded := store.objects[archives[0].Key]
	assert.True(t, bytes.HasPrefix(uploaded, []byte("SQLite format 3")))
}

func TestRotateOldArchivesKeepsMinimumRegardlessOfAge(t *testing.T) {
	db, cleanup := testutil.NewTestDB(t, "ledger")
	defer cleanup()

	store := newFakeStore()
	svc := New(db, store, "ledger-archive", zerolog.Nop())

	for i := 0; i < 3; i++ {
		require.NoError(t, svc.ArchiveNow(context.Background()))
		time.Sleep(time.Millisecond)
	}
	archives, err := svc.ListArchives(context.Background())
	require.NoError(t, err)
	require.Len(t, archives, 3)
	for _, a := range archives {
		store.setAge(a.Key, 90*24*time.Hour)
	}

	require.NoError(t, svc.RotateOldArchives(context.Background(), 30))

	remaining, err := svc.ListArchives(context.Background())
	require.NoError(t, err)
	assert.Len(t, remaining, 3, "minimum retention floor must not be breached")
}

func TestRotateOldArchivesDeletesBeyondMinimumAndRetention(t *testing.T) {
	db, cleanup := testutil.NewTestDB(t, "ledger")
	defer cleanup()

	store := newFakeStore()
	svc := New(db, store, "ledger-archive", zerolog.Nop())

	for i := 0; i < 5; i++ {
		require.NoError(t, svc.ArchiveNow(context.Background()))
		time.Sleep(time.Millisecond)
	}
	archives, err := svc.ListArchives(context.Background())
	require.NoError(t, err)
	require.Len(t, archives, 5)

	// Age the two oldest beyond retention; leave the rest fresh.
	store.setAge(archives[3].Key, 90*24*time.Hour)
	store.setAge(archives[4].Key, 90*24*time.Hour)

	require.NoError(t, svc.RotateOldArchives(context.Background(), 30))

	remaining, err := svc.ListArchives(context.Background())
	require.NoError(t, err)
	assert.Len(t, remaining, 3)
}
