package ingest

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/weldingest/constants"
	"github.com/joseph-ayodele/weldingest/internal/async"
	"github.com/joseph-ayodele/weldingest/internal/pipeline"
)

func touch(t *testing.T, path string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	return path
}

// stubIngester fails every file named bad.pdf.
type stubIngester struct {
	mu    sync.Mutex
	paths []string
}

func (s *stubIngester) Ingest(_ context.Context, path string) pipeline.Result {
	s.mu.Lock()
	s.paths = append(s.paths, path)
	s.mu.Unlock()
	if filepath.Base(path) == "bad.pdf" {
		return pipeline.Result{Path: path, Status: constants.ImportFailed, State: constants.StateFailed}
	}
	id := int64(1)
	return pipeline.Result{Path: path, Status: constants.ImportSuccess, DocumentID: &id, State: constants.StatePersisted}
}

func (s *stubIngester) seen() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.paths...)
}

type pathSet map[string]bool

func (p pathSet) ExistsByPath(_ context.Context, path string) (bool, error) {
	return p[path], nil
}

func TestIsHiddenAndAllowedExt(t *testing.T) {
	assert.True(t, IsHidden("/a/.git"))
	assert.True(t, IsHidden(".cache/x/.tmp.pdf"))
	assert.False(t, IsHidden("/a/b.pdf"))
	assert.False(t, IsHidden("."))

	for _, ext := range []string{".pdf", "PDF", ".TIFF", "jpeg", ".bmp"} {
		assert.True(t, AllowedExt(ext), ext)
	}
	assert.False(t, AllowedExt(".docx"))
	assert.False(t, AllowedExt(""))
}

func TestCollect(t *testing.T) {
	root := t.TempDir()
	b := touch(t, filepath.Join(root, "b.pdf"))
	a := touch(t, filepath.Join(root, "sub", "a.PNG"))
	touch(t, filepath.Join(root, "notes.txt"))
	touch(t, filepath.Join(root, ".hidden", "c.pdf"))
	touch(t, filepath.Join(root, ".d.pdf"))
	named := touch(t, filepath.Join(t.TempDir(), "named.docx"))

	files, errs, stats, err := Collect(context.Background(), []string{root, named, b}, true)
	require.NoError(t, err)
	assert.Empty(t, errs)
	assert.Equal(t, []string{b, a, named, b}, files, "a named file is kept even when already walked")
	assert.Equal(t, 4, stats.Matched)
	assert.Equal(t, 5, stats.Scanned)

	files, _, _, err = Collect(context.Background(), []string{root}, false)
	require.NoError(t, err)
	assert.Len(t, files, 4)

	files, _, _, err = Collect(context.Background(), []string{b, b}, true)
	require.NoError(t, err)
	assert.Equal(t, []string{b, b}, files)

	files, _, _, err = Collect(context.Background(), []string{b, root, filepath.Join(root, "sub")}, true)
	require.NoError(t, err)
	assert.Equal(t, []string{b, a}, files, "overlapping directories add each file once")

	missing := filepath.Join(root, "missing.pdf")
	files, _, _, err = Collect(context.Background(), []string{missing}, true)
	require.NoError(t, err)
	assert.Equal(t, []string{missing}, files)

	_, _, _, err = Collect(context.Background(), []string{" "}, true)
	assert.Error(t, err)
}

func TestBatch_Run(t *testing.T) {
	root := t.TempDir()
	good := touch(t, filepath.Join(root, "a.pdf"))
	bad := touch(t, filepath.Join(root, "bad.pdf"))
	done := touch(t, filepath.Join(root, "c.pdf"))

	ing := &stubIngester{}
	batch := NewBatch(ing, pathSet{done: true}, nil)

	report, err := batch.Run(context.Background(), []string{root}, BatchOptions{Workers: 2, SkipExisting: true, SkipHidden: true})
	require.NoError(t, err)

	require.Len(t, report.Outcomes, 3)
	assert.Equal(t, good, report.Outcomes[0].Path)
	assert.True(t, report.Outcomes[0].Succeeded())
	assert.Equal(t, bad, report.Outcomes[1].Path)
	assert.False(t, report.Outcomes[1].Succeeded())
	assert.True(t, report.Outcomes[2].Skipped)
	assert.Nil(t, report.Outcomes[2].Result)

	assert.Equal(t, BatchStats{Scanned: 3, Matched: 3, Succeeded: 1, Skipped: 1, Failed: 1}, report.Stats)
	assert.False(t, report.OK())
	assert.NotEmpty(t, report.RunID)
	assert.ElementsMatch(t, []string{good, bad}, ing.seen())
}

func TestBatch_NoSkipIngestsEverything(t *testing.T) {
	root := t.TempDir()
	a := touch(t, filepath.Join(root, "a.pdf"))

	ing := &stubIngester{}
	report, err := NewBatch(ing, pathSet{a: true}, nil).Run(context.Background(), []string{a, a}, BatchOptions{})
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.Equal(t, 2, report.Stats.Succeeded)
	assert.Equal(t, []string{a, a}, ing.seen())
}

func TestStartWatcher_InitialScanAndDebounce(t *testing.T) {
	root := t.TempDir()
	existing := touch(t, filepath.Join(root, "existing.pdf"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, _, err := StartWatcher(ctx, WatchConfig{
		Roots:       []string{root},
		InitialScan: true,
		Debounce:    50 * time.Millisecond,
		SkipHidden:  true,
	}, nil)
	require.NoError(t, err)

	select {
	case p := <-events:
		assert.Equal(t, existing, p)
	case <-time.After(2 * time.Second):
		t.Fatal("initial scan not emitted")
	}

	fresh := filepath.Join(root, "fresh.pdf")
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(fresh, []byte("chunk"), 0o644))
	}
	touch(t, filepath.Join(root, "ignored.txt"))

	select {
	case p := <-events:
		assert.Equal(t, fresh, p)
	case <-time.After(2 * time.Second):
		t.Fatal("new file not emitted")
	}

	select {
	case p := <-events:
		t.Fatalf("unexpected extra event %s", p)
	case <-time.After(200 * time.Millisecond):
	}

	cancel()
	assert.Eventually(t, func() bool {
		_, open := <-events
		return !open
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStartWatcher_NoRoots(t *testing.T) {
	_, _, err := StartWatcher(context.Background(), WatchConfig{}, nil)
	assert.Error(t, err)
}

func TestFeed(t *testing.T) {
	root := t.TempDir()
	a := touch(t, filepath.Join(root, "a.pdf"))
	b := touch(t, filepath.Join(root, "b.pdf"))

	ing := &stubIngester{}
	q := async.NewIngestQueue(ing, nil)
	events := make(chan string, 4)
	events <- a
	events <- filepath.Join(root, "gone.pdf")
	events <- b
	close(events)

	require.NoError(t, Feed(context.Background(), events, q, pathSet{b: true}, true, nil))
	q.Shutdown(context.Background())

	var got []string
	for r := range q.Results() {
		got = append(got, r.Path)
	}
	assert.Equal(t, []string{a}, got)
}
