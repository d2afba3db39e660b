package ledger

import (
	"bytes"
	"context"
	"mime/multipart"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/formingest/internal/ingest"
)

func settledIngestion(t *testing.T) *ingest.Ingestion {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	require.NoError(t, w.WriteField("title", "quarterly"))
	fw, err := w.CreateFormFile("report", "q3.csv")
	require.NoError(t, err)
	fw.Write([]byte("a,b\n1,2\n"))
	fw, err = w.CreateFormFile("report", "q4.csv")
	require.NoError(t, err)
	fw.Write([]byte("a,b\n3,4\n"))
	require.NoError(t, w.Close())

	ing, err := ingest.Decode(context.Background(), &body, w.FormDataContentType(), int64(body.Len()), ingest.Options{})
	require.NoError(t, err)
	t.Cleanup(ing.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, ing.Wait(ctx))
	return ing
}

func TestFromIngestion(t *testing.T) {
	ing := settledIngestion(t)
	first := ing.Files().All("report")[0]

	rec := FromIngestion(ing, "10.0.0.1", map[*ingest.File]string{first: "/srv/uploads/q3.csv"})

	assert.Equal(t, ing.ID, rec.ID)
	assert.Equal(t, "10.0.0.1", rec.RemoteAddr)
	assert.Equal(t, "quarterly", rec.Fields["title"])
	assert.Equal(t, int64(16), rec.TotalBytes)
	assert.False(t, rec.ReceivedAt.IsZero())

	require.Len(t, rec.Files, 2)
	assert.Equal(t, FileRecord{
		Field:      "report",
		Name:       "q3.csv",
		MimeType:   "application/octet-stream",
		Encoding:   "7bit",
		MD5:        first.Hash,
		Size:       8,
		StoredPath: "/srv/uploads/q3.csv",
	}, rec.Files[0])
	assert.Equal(t, "q4.csv", rec.Files[1].Name)
	assert.Empty(t, rec.Files[1].StoredPath)
}

func TestMemoryStore_SaveGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	rec := Record{ID: "abc", ReceivedAt: time.Now(), Files: []FileRecord{{Name: "a"}}}
	require.NoError(t, store.Save(ctx, rec))

	got, err := store.Get(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, rec, got)
}

func TestMemoryStore_ListNewestFirst(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"old", "new", "mid"} {
		offsets := []time.Duration{0, 2 * time.Hour, time.Hour}
		require.NoError(t, store.Save(ctx, Record{
			ID:         id,
			ReceivedAt: base.Add(offsets[i]),
			Files:      make([]FileRecord, i),
			TotalBytes: int64(i * 10),
		}))
	}

	all, err := store.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "new", all[0].ID)
	assert.Equal(t, "mid", all[1].ID)
	assert.Equal(t, "old", all[2].ID)
	assert.Equal(t, 1, all[0].FileCount)

	limited, err := store.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}
