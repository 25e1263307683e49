package s3blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/lendliquidator/internal/domain"
)

type memBlobs struct {
	objects   map[string][]byte
	multipart []string
}

func newMemBlobs() *memBlobs { return &memBlobs{objects: map[string][]byte{}} }

func (m *memBlobs) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	m.objects[path] = b
	return err
}

func (m *memBlobs) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	m.multipart = append(m.multipart, path)
	return m.Put(ctx, path, data, "")
}

func (m *memBlobs) Get(_ context.Context, path string) (io.ReadCloser, error) {
	b, ok := m.objects[path]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", path, domain.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

type memAudit struct {
	entries    []domain.AuditEntry
	deletedMax int64
	logged     []string
}

func (m *memAudit) ListBefore(_ context.Context, before time.Time) ([]domain.AuditEntry, error) {
	var out []domain.AuditEntry
	for _, e := range m.entries {
		if e.CreatedAt.Before(before) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memAudit) DeleteThrough(_ context.Context, _ time.Time, maxID int64) (int64, error) {
	m.deletedMax = maxID
	return 0, nil
}

func (m *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	m.logged = append(m.logged, event)
	return nil
}

func TestArchiveAuditGroupsByMonth(t *testing.T) {
	blobs := newMemBlobs()
	audit := &memAudit{entries: []domain.AuditEntry{
		{ID: 1, Event: "liquidation", CreatedAt: time.Date(2026, 1, 31, 23, 0, 0, 0, time.UTC)},
		{ID: 2, Event: "swap", CreatedAt: time.Date(2026, 2, 1, 1, 0, 0, 0, time.UTC)},
		{ID: 3, Event: "epoch", CreatedAt: time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC)},
		{ID: 4, Event: "epoch", CreatedAt: time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)},
	}}

	n, err := NewArchiver(blobs, audit).ArchiveAudit(t.Context(), time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Equal(t, int64(3), audit.deletedMax)
	assert.Equal(t, []string{domain.AuditArchive}, audit.logged)

	jan := strings.Split(strings.TrimSpace(string(blobs.objects["archive/audit/2026-01.jsonl"])), "\n")
	feb := strings.Split(strings.TrimSpace(string(blobs.objects["archive/audit/2026-02.jsonl"])), "\n")
	assert.Len(t, jan, 1)
	assert.Len(t, feb, 2)
	assert.Contains(t, feb[1], `"event":"epoch"`)
	assert.NotContains(t, blobs.objects, "archive/audit/2026-03.jsonl")
}

func TestArchiveAuditAppendsToExistingObject(t *testing.T) {
	blobs := newMemBlobs()
	blobs.objects["archive/audit/2026-01.jsonl"] = []byte("{\"id\":1}\n")
	audit := &memAudit{entries: []domain.AuditEntry{
		{ID: 2, Event: "swap", CreatedAt: time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)},
	}}

	_, err := NewArchiver(blobs, audit).ArchiveAudit(t.Context(), time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(blobs.objects["archive/audit/2026-01.jsonl"])), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, `{"id":1}`, lines[0])
	assert.Contains(t, lines[1], `"id":2`)
}

func TestArchiveAuditLargePayloadUsesMultipart(t *testing.T) {
	blobs := newMemBlobs()
	audit := &memAudit{entries: []domain.AuditEntry{
		{ID: 7, Event: "epoch", Detail: map[string]any{"note": strings.Repeat("x", 128)}, CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
	}}
	a := NewArchiver(blobs, audit)
	a.partSize = 64

	_, err := a.ArchiveAudit(t.Context(), time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, []string{"archive/audit/2026-01.jsonl"}, blobs.multipart)
}

func TestArchiveAuditNothingToDo(t *testing.T) {
	audit := &memAudit{}
	n, err := NewArchiver(newMemBlobs(), audit).ArchiveAudit(t.Context(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, audit.logged)
	assert.Zero(t, audit.deletedMax)
}

func TestWithScheme(t *testing.T) {
	assert.Equal(t, "https://e2.example.com", withScheme("e2.example.com", true))
	assert.Equal(t, "http://minio:9000", withScheme("minio:9000", false))
	assert.Equal(t, "https://r2.example.com", withScheme("https://r2.example.com", false))
}
