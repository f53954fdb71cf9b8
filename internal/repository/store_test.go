package repository

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/weldingest/constants"
	"github.com/joseph-ayodele/weldingest/internal/common"
	"github.com/joseph-ayodele/weldingest/internal/entity"
)

func openTestStore(t *testing.T, mutate ...func(*Config)) *Store {
	t.Helper()
	cfg := Config{DSN: filepath.Join(t.TempDir(), "data", "weld.db")}
	for _, m := range mutate {
		m(&cfg)
	}
	s, err := Open(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func wpsDoc(number, process string) *entity.Document {
	doc := &entity.Document{DocType: constants.DocTypeWPS, ClassificationConfidence: 0.6}
	doc.Set(entity.Field{Name: entity.FieldDocNumber, Value: number, Confidence: 0.9})
	doc.Set(entity.Field{Name: entity.FieldProcess, Value: process, Confidence: 0.8})
	doc.Set(entity.Field{Name: entity.FieldThicknessMM, Value: "12.5", Confidence: 0.7})
	doc.Set(entity.Field{Name: entity.FieldDate, Value: "2024-01-15", Confidence: 0.8})
	return doc
}

func TestOpen_AppliesMigrationsOnce(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "weld.db")

	s, err := Open(ctx, Config{DSN: dsn}, nil)
	require.NoError(t, err)
	v, err := s.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	assert.Equal(t, "sqlite3", s.Dialect())
	require.NoError(t, s.HealthCheck(ctx, time.Second))
	s.Close()

	s, err = Open(ctx, Config{DSN: dsn}, nil)
	require.NoError(t, err)
	defer s.Close()
	v, err = s.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestOpen_EmptyDSN(t *testing.T) {
	_, err := Open(context.Background(), Config{}, nil)
	require.Error(t, err)
}

func TestOpen_InMemory(t *testing.T) {
	s, err := Open(context.Background(), Config{DSN: ":memory:"}, nil)
	require.NoError(t, err)
	defer s.Close()

	repo := NewDocumentRepository(s, nil)
	id, err := repo.Insert(context.Background(), "a.pdf", wpsDoc("WPS-1", "GTAW"), "WPS-1 GTAW", nil)
	require.NoError(t, err)
	assert.Positive(t, id)
}

func TestDocumentRepository_InsertAndGet(t *testing.T) {
	ctx := context.Background()
	repo := NewDocumentRepository(openTestStore(t), nil)

	doc := wpsDoc("WPS-2024-001", "GTAW")
	doc.Set(entity.Field{Name: entity.FieldMaterial, Value: "P-No. 1", Confidence: 0.75})
	issues := []entity.ValidationIssue{
		{Field: entity.FieldFiller, Message: "first", Severity: constants.SeverityWarn},
		{Field: entity.FieldDocument, Message: "second", Severity: constants.SeverityError},
	}

	id, err := repo.Insert(ctx, "/in/wps.pdf", doc, "WPS Number WPS-2024-001\nProcess GTAW", issues)
	require.NoError(t, err)

	got, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, "/in/wps.pdf", got.FilePath)
	assert.Equal(t, constants.DocTypeWPS, got.DocType)
	assert.Equal(t, "WPS-2024-001", got.DocNumber)
	assert.Equal(t, "GTAW", got.Process)
	assert.Equal(t, "P-No. 1", got.Material)
	assert.Equal(t, "2024-01-15", got.Date)
	require.NotNil(t, got.ThicknessMM)
	assert.InDelta(t, 12.5, *got.ThicknessMM, 1e-9)
	assert.Empty(t, got.Company)
	assert.InDelta(t, doc.AvgConfidence(), got.AvgConf, 1e-9)
	assert.InDelta(t, 0.6, got.ClassificationConfidence, 1e-9)
	assert.Len(t, got.Fields, 5)
	assert.Contains(t, got.RawText, "Process GTAW")
	assert.WithinDuration(t, time.Now(), got.ImportedAt, time.Minute)
	assert.Equal(t, issues, got.Issues)
}

func TestDocumentRepository_InvalidDateNotStored(t *testing.T) {
	ctx := context.Background()
	repo := NewDocumentRepository(openTestStore(t), nil)

	doc := wpsDoc("WPS-9", "SMAW")
	doc.Set(entity.Field{Name: entity.FieldDate, Value: "15/13/2024", Confidence: 0.85})
	doc.Set(entity.Field{Name: entity.FieldThicknessMM, Value: "abc", Confidence: 0.6})

	id, err := repo.Insert(ctx, "x.pdf", doc, "text", nil)
	require.NoError(t, err)

	got, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, got.Date)
	assert.Nil(t, got.ThicknessMM)
	assert.Empty(t, got.Issues)

	var raw string
	for _, f := range got.Fields {
		if f.Name == entity.FieldDate {
			raw = f.Value
		}
	}
	assert.Equal(t, "15/13/2024", raw)
}

func TestDocumentRepository_GetMissing(t *testing.T) {
	repo := NewDocumentRepository(openTestStore(t), nil)
	_, err := repo.Get(context.Background(), 42)
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrNotFound))
}

func TestDocumentRepository_ListAndExists(t *testing.T) {
	ctx := context.Background()
	repo := NewDocumentRepository(openTestStore(t), nil)

	_, err := repo.Insert(ctx, "a.pdf", wpsDoc("WPS-1", "GTAW"), "a", nil)
	require.NoError(t, err)
	pqr := &entity.Document{DocType: constants.DocTypePQR}
	pqr.Set(entity.Field{Name: entity.FieldDocNumber, Value: "PQR-7", Confidence: 0.9})
	_, err = repo.Insert(ctx, "b.pdf", pqr, "b", nil)
	require.NoError(t, err)
	last, err := repo.Insert(ctx, "c.pdf", wpsDoc("WPS-2", "SMAW"), "c", nil)
	require.NoError(t, err)

	all, err := repo.List(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, last, all[0].ID)

	wps, err := repo.List(ctx, ListFilter{DocType: constants.DocTypeWPS, Limit: 1})
	require.NoError(t, err)
	require.Len(t, wps, 1)
	assert.Equal(t, "WPS-2", wps[0].DocNumber)

	ok, err := repo.ExistsByPath(ctx, "b.pdf")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repo.ExistsByPath(ctx, "zzz.pdf")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDocumentRepository_SearchFullText(t *testing.T) {
	ctx := context.Background()
	var modes []string
	repo := NewDocumentRepository(openTestStore(t), nil,
		WithSearchObserver(func(mode string, _ time.Duration) { modes = append(modes, mode) }))

	id, err := repo.Insert(ctx, "a.pdf", wpsDoc("WPS-2024-001", "GTAW"), "Welding procedure using GTAW root pass", nil)
	require.NoError(t, err)
	_, err = repo.Insert(ctx, "b.pdf", wpsDoc("WPS-2024-002", "SMAW"), "Stick welding procedure", nil)
	require.NoError(t, err)

	hits, err := repo.Search(ctx, "gtaw", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	h := hits[0]
	assert.Equal(t, id, h.ID)
	assert.Equal(t, "WPS", h.DocType)
	assert.Equal(t, "WPS-2024-001", h.DocNumber)
	assert.Equal(t, "GTAW", h.Process)
	assert.Equal(t, "12.5", h.ThicknessMM)
	assert.Equal(t, "2024-01-15", h.Date)
	assert.Empty(t, h.Company)
	assert.Contains(t, h.Snippet, "[")
	assert.Equal(t, []string{SearchModeFullText}, modes)
}

func TestDocumentRepository_SearchMalformedQueryFallsBack(t *testing.T) {
	ctx := context.Background()
	var modes []string
	repo := NewDocumentRepository(openTestStore(t), nil,
		WithSearchObserver(func(mode string, _ time.Duration) { modes = append(modes, mode) }))

	_, err := repo.Insert(ctx, "a.pdf", wpsDoc("WPS-1", "GTAW"), `quoted "GTAW text`, nil)
	require.NoError(t, err)

	hits, err := repo.Search(ctx, `"GTAW`, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, `quoted "GTAW text`, hits[0].Snippet)
	assert.Equal(t, []string{SearchModeSubstring}, modes)
}

func TestDocumentRepository_SubstringSearchOrder(t *testing.T) {
	ctx := context.Background()
	repo := NewDocumentRepository(openTestStore(t, func(c *Config) { c.DisableFullText = true }), nil)

	var want []int64
	for i, text := range []string{"has Needle here", "nothing", "NEEDLE again", "also a needle"} {
		id, err := repo.Insert(ctx, fmt.Sprintf("%d.pdf", i), wpsDoc(fmt.Sprintf("WPS-%d", i), "GTAW"), text, nil)
		require.NoError(t, err)
		if i != 1 {
			want = append([]int64{id}, want...)
		}
	}

	hits, err := repo.Search(ctx, "needle", 10)
	require.NoError(t, err)
	var got []int64
	for _, h := range hits {
		got = append(got, h.ID)
	}
	assert.Equal(t, want, got)

	hits, err = repo.Search(ctx, "needle", 2)
	require.NoError(t, err)
	assert.Len(t, hits, 2)
}

func TestDocumentRepository_Delete(t *testing.T) {
	ctx := context.Background()
	repo := NewDocumentRepository(openTestStore(t), nil)

	issues := []entity.ValidationIssue{{Field: entity.FieldDate, Message: "x", Severity: constants.SeverityWarn}}
	id, err := repo.Insert(ctx, "a.pdf", wpsDoc("WPS-1", "GTAW"), "GTAW text", issues)
	require.NoError(t, err)

	require.NoError(t, repo.Delete(ctx, id))

	_, err = repo.Get(ctx, id)
	assert.True(t, errors.Is(err, common.ErrNotFound))
	hits, err := repo.Search(ctx, "GTAW", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)

	err = repo.Delete(ctx, id)
	assert.True(t, errors.Is(err, common.ErrNotFound))
}

func TestDocumentRepository_ConcurrentInserts(t *testing.T) {
	ctx := context.Background()
	repo := NewDocumentRepository(openTestStore(t), nil)

	const n = 8
	ids := make([]int64, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i], errs[i] = repo.Insert(ctx, fmt.Sprintf("%d.pdf", i), wpsDoc(fmt.Sprintf("WPS-%d", i), "GTAW"), "text", nil)
		}(i)
	}
	wg.Wait()

	seen := map[int64]bool{}
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		seen[ids[i]] = true
	}
	assert.Len(t, seen, n)
}

func TestImportLogRepository(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, func(c *Config) { c.MessageLimit = 5 })
	repo := NewImportLogRepository(store, nil)

	_, err := repo.Log(ctx, entity.ImportLogEntry{
		RunID: "run-1", FilePath: "a.pdf", Status: constants.ImportSuccess, Message: "Imported as WPS WPS-1",
	})
	require.NoError(t, err)
	_, err = repo.Log(ctx, entity.ImportLogEntry{
		FilePath: "a.pdf", Status: constants.ImportFailed, Message: "ünïcödé",
	})
	require.NoError(t, err)

	rows, err := repo.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, constants.ImportFailed, rows[0].Status)
	assert.Equal(t, "ünïcö", rows[0].Message)
	assert.Empty(t, rows[0].RunID)

	assert.Equal(t, constants.ImportSuccess, rows[1].Status)
	assert.Equal(t, "Impor", rows[1].Message)
	assert.Equal(t, "run-1", rows[1].RunID)
	assert.WithinDuration(t, time.Now(), rows[1].CreatedAt, time.Minute)

	rows, err = repo.List(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestHelpers(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abcdef", 3))
	assert.Equal(t, "ab", Truncate("ab", 3))
	assert.Equal(t, "ab", Truncate("ab", 0))

	assert.Equal(t, "a b c", Excerpt("a\nb\n\nc", 200))
	assert.Equal(t, "äö", Excerpt("äöü", 2))

	assert.True(t, isBusy(errors.New("database is locked (5) (SQLITE_BUSY)")))
	assert.False(t, isBusy(errors.New("no such table")))

	assert.True(t, IsPostgresDSN("postgres://u:p@h/db"))
	assert.False(t, IsPostgresDSN("data/weld.db"))
	assert.Equal(t, "postgres://***@h:5432/db", redactDSN("postgres://user:secret@h:5432/db"))
	assert.Equal(t, "data/weld.db", redactDSN("data/weld.db"))
}
