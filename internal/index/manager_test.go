package index

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sm-moshi/aimemory-sub003/internal/fileops"
	"github.com/sm-moshi/aimemory-sub003/internal/models"
	"github.com/sm-moshi/aimemory-sub003/internal/testutil"
)

func testManager(t *testing.T, cfg Config) (*Manager, *fileops.Ops) {
	t.Helper()
	_, ops, reader := testutil.TestBank(t)
	m := NewManager(ops, reader, nil, testutil.Logger(), cfg)
	t.Cleanup(m.Close)
	return m, ops
}

func seedBank(t *testing.T, ops *fileops.Ops) {
	t.Helper()
	testutil.WriteDoc(t, ops, "core/activeContext.md",
		testutil.Doc("Active Context", "core", []string{"focus"}, "# Now\nWorking.\n"))
	testutil.WriteDoc(t, ops, "core/projectbrief.md",
		testutil.Doc("Project Brief", "core", []string{"planning"}, "# Brief\nGoals.\n"))
	testutil.WriteDoc(t, ops, "progress/log.md",
		testutil.Doc("Progress Log", "", nil, "# Log\nDone things.\n"))
}

func TestBuildIndex_CountsAndPersistence(t *testing.T) {
	m, ops := testManager(t, Config{})
	seedBank(t, ops)
	// Two malformed documents: frontmatter block present but invalid YAML.
	testutil.WriteDoc(t, ops, "broken/one.md", "---\n: bad: yaml: {{{\n---\nBody\n")
	testutil.WriteDoc(t, ops, "broken/two.md", "---\n{unclosed\n---\nBody\n")

	res, err := m.BuildIndex(context.Background())
	if err != nil {
		t.Fatalf("BuildIndex: %v", err)
	}
	if res.FilesProcessed != 5 || res.FilesIndexed != 3 || res.FilesErrored != 2 {
		t.Errorf("result = %+v", res)
	}
	if len(res.Errors) != 2 {
		t.Errorf("errors = %v", res.Errors)
	}

	// Persisted index holds exactly the indexed entries, as a JSON array.
	data, err := ops.Read(context.Background(), ".membank-index/metadata.json")
	if err != nil {
		t.Fatalf("read persisted index: %v", err)
	}
	var persisted []models.MetadataIndexEntry
	if err := json.Unmarshal(data, &persisted); err != nil {
		t.Fatalf("unmarshal persisted index: %v", err)
	}
	if len(persisted) != 3 {
		t.Errorf("persisted entries = %d, want 3", len(persisted))
	}
}

func TestBuildIndex_UnreadableDirKeepsTotalsReconciled(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("directory permissions are not enforced for root")
	}
	m, ops := testManager(t, Config{})
	seedBank(t, ops)
	testutil.WriteDoc(t, ops, "locked/doc.md", testutil.Doc("Locked", "locked", nil, "x\n"))

	locked := filepath.Join(ops.Root(), "locked")
	if err := os.Chmod(locked, 0o000); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chmod(locked, 0o755) })

	res, err := m.BuildIndex(context.Background())
	if err != nil {
		t.Fatalf("BuildIndex: %v", err)
	}
	if res.FilesErrored == 0 {
		t.Fatal("expected the unreadable directory to be reported")
	}
	if res.FilesProcessed != res.FilesIndexed+res.FilesErrored {
		t.Errorf("processed = %d, indexed+errored = %d",
			res.FilesProcessed, res.FilesIndexed+res.FilesErrored)
	}
}

func TestBuildIndex_EntryDerivation(t *testing.T) {
	m, ops := testManager(t, Config{})
	seedBank(t, ops)

	if _, err := m.BuildIndex(context.Background()); err != nil {
		t.Fatal(err)
	}

	e, ok := m.Entry("core/activeContext.md")
	if !ok {
		t.Fatal("entry missing")
	}
	if e.Type != "core" || e.Title != "Active Context" {
		t.Errorf("entry = %+v", e)
	}
	if len(e.Tags) != 1 || e.Tags[0] != "focus" {
		t.Errorf("tags = %v", e.Tags)
	}
	if e.Metrics.SizeBytes == 0 || e.Metrics.ContentLineCount == 0 {
		t.Errorf("metrics = %+v", e.Metrics)
	}
	if e.Checksum == "" {
		t.Error("checksum empty")
	}
	// No frontmatter type on progress/log.md: inferred from the path.
	p, ok := m.Entry("progress/log.md")
	if !ok {
		t.Fatal("progress entry missing")
	}
	if p.Type != "progress" {
		t.Errorf("inferred type = %q, want progress", p.Type)
	}
}

func TestBuildIndex_SkipsHiddenAndDependencyDirs(t *testing.T) {
	m, ops := testManager(t, Config{})
	seedBank(t, ops)
	testutil.WriteDoc(t, ops, ".hidden/secret.md", "# hidden\n")
	testutil.WriteDoc(t, ops, "node_modules/pkg/readme.md", "# dep\n")

	res, err := m.BuildIndex(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.FilesProcessed != 3 {
		t.Errorf("processed = %d, want 3", res.FilesProcessed)
	}
}

func TestBuildIndex_ConcurrentGuard(t *testing.T) {
	m, ops := testManager(t, Config{})
	seedBank(t, ops)

	m.building.Store(true)
	_, err := m.BuildIndex(context.Background())
	if fileops.CodeOf(err) != fileops.CodeBuildInProgress {
		t.Errorf("code = %s, want %s", fileops.CodeOf(err), fileops.CodeBuildInProgress)
	}
	if !errors.Is(err, ErrBuildInProgress) {
		t.Errorf("err = %v", err)
	}
	m.building.Store(false)

	if _, err := m.BuildIndex(context.Background()); err != nil {
		t.Errorf("rebuild after release: %v", err)
	}
}

func TestUpdateEntry_ReplaceAppendAndEvents(t *testing.T) {
	m, ops := testManager(t, Config{})
	seedBank(t, ops)
	if _, err := m.BuildIndex(context.Background()); err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var events []Event
	m.Subscribe(func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	// Update an indexed document.
	testutil.WriteDoc(t, ops, "core/activeContext.md",
		testutil.Doc("Active Context", "core", []string{"focus", "sprint"}, "# Now\nMore work.\n"))
	if err := m.UpdateEntry(context.Background(), "core/activeContext.md"); err != nil {
		t.Fatalf("UpdateEntry: %v", err)
	}
	e, _ := m.Entry("core/activeContext.md")
	if len(e.Tags) != 2 {
		t.Errorf("tags = %v", e.Tags)
	}

	// A brand-new document appends.
	testutil.WriteDoc(t, ops, "notes/new.md", testutil.Doc("New", "notes", nil, "body\n"))
	if err := m.UpdateEntry(context.Background(), "notes/new.md"); err != nil {
		t.Fatalf("UpdateEntry append: %v", err)
	}
	if len(m.Index()) != 4 {
		t.Errorf("entries = %d, want 4", len(m.Index()))
	}

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 2 || events[0].Kind != EventEntryUpdated || events[1].Kind != EventEntryAdded {
		t.Errorf("events = %+v", events)
	}
}

func TestUpdateEntry_MissingFileFailsLoudly(t *testing.T) {
	m, _ := testManager(t, Config{})
	err := m.UpdateEntry(context.Background(), "ghost.md")
	if fileops.CodeOf(err) != fileops.CodeFileNotFound {
		t.Errorf("code = %s, want %s", fileops.CodeOf(err), fileops.CodeFileNotFound)
	}
}

func TestRemoveEntry_IdempotentNoEventOnSecondCall(t *testing.T) {
	m, ops := testManager(t, Config{})
	seedBank(t, ops)
	if _, err := m.BuildIndex(context.Background()); err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	removed := 0
	m.Subscribe(func(ev Event) {
		if ev.Kind == EventEntryRemoved {
			mu.Lock()
			removed++
			mu.Unlock()
		}
	})

	ctx := context.Background()
	if err := m.RemoveEntry(ctx, "progress/log.md"); err != nil {
		t.Fatalf("RemoveEntry: %v", err)
	}
	if err := m.RemoveEntry(ctx, "progress/log.md"); err != nil {
		t.Fatalf("second RemoveEntry: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if removed != 1 {
		t.Errorf("removed events = %d, want 1", removed)
	}
	if _, ok := m.Entry("progress/log.md"); ok {
		t.Error("entry still present")
	}
}

func TestIndex_ReturnsDeepCopy(t *testing.T) {
	m, ops := testManager(t, Config{})
	seedBank(t, ops)
	if _, err := m.BuildIndex(context.Background()); err != nil {
		t.Fatal(err)
	}

	snap := m.Index()
	snap[0].Title = "mutated"
	if len(snap[0].Tags) > 0 {
		snap[0].Tags[0] = "mutated"
	}

	fresh := m.Index()
	if fresh[0].Title == "mutated" {
		t.Error("snapshot mutation leaked into the index")
	}
	for _, e := range fresh {
		for _, tag := range e.Tags {
			if tag == "mutated" {
				t.Error("tag mutation leaked into the index")
			}
		}
	}
}

func TestInitialize_LoadsPersistedIndex(t *testing.T) {
	_, ops, reader := testutil.TestBank(t)
	seedBank(t, ops)

	first := NewManager(ops, reader, nil, testutil.Logger(), Config{})
	if _, err := first.BuildIndex(context.Background()); err != nil {
		t.Fatal(err)
	}
	first.Close()

	second := NewManager(ops, reader, nil, testutil.Logger(), Config{})
	t.Cleanup(second.Close)
	if err := second.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if second.State() != StateReady {
		t.Errorf("state = %d, want ready", second.State())
	}
	if len(second.Index()) != 3 {
		t.Errorf("entries = %d, want 3", len(second.Index()))
	}
}

func TestInitialize_CorruptIndexTriggersRebuild(t *testing.T) {
	m, ops := testManager(t, Config{})
	seedBank(t, ops)
	testutil.WriteDoc(t, ops, ".membank-index/metadata.json", "{not json[")

	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if len(m.Index()) != 3 {
		t.Errorf("entries = %d, want 3 after fallback rebuild", len(m.Index()))
	}
}

func TestInitialize_StaleIndexTriggersRebuild(t *testing.T) {
	root, ops, reader := testutil.TestBank(t)
	seedBank(t, ops)

	m := NewManager(ops, reader, nil, testutil.Logger(), Config{MaxAge: time.Hour})
	t.Cleanup(m.Close)
	if _, err := m.BuildIndex(context.Background()); err != nil {
		t.Fatal(err)
	}
	// Age the persisted file past MaxAge, then add a document it cannot know.
	idxPath := filepath.Join(root, ".membank-index", "metadata.json")
	old := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(idxPath, old, old); err != nil {
		t.Fatal(err)
	}
	testutil.WriteDoc(t, ops, "notes/fresh.md", testutil.Doc("Fresh", "notes", nil, "x\n"))

	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if _, ok := m.Entry("notes/fresh.md"); !ok {
		t.Error("stale index was not rebuilt")
	}
}

func TestStats(t *testing.T) {
	m, ops := testManager(t, Config{})
	seedBank(t, ops)
	if _, err := m.BuildIndex(context.Background()); err != nil {
		t.Fatal(err)
	}

	stats := m.Stats(context.Background())
	if stats.TotalFiles != 3 {
		t.Errorf("totalFiles = %d", stats.TotalFiles)
	}
	if stats.TotalSize == 0 || stats.TotalLines == 0 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.ByType["core"] != 2 || stats.ByType["progress"] != 1 {
		t.Errorf("byType = %v", stats.ByType)
	}
	if stats.ByTag["focus"] != 1 {
		t.Errorf("byTag = %v", stats.ByTag)
	}
	if stats.ByValidation[string(models.ValidationUnchecked)] != 3 {
		t.Errorf("byValidation = %v", stats.ByValidation)
	}
	if stats.LastBuild.IsZero() {
		t.Error("lastBuild unset")
	}
}

func TestTriggerAutoRebuild_Debounces(t *testing.T) {
	m, ops := testManager(t, Config{AutoRebuild: true, Debounce: 50 * time.Millisecond})
	seedBank(t, ops)

	var mu sync.Mutex
	rebuilds := 0
	m.Subscribe(func(ev Event) {
		if ev.Kind == EventRebuilt {
			mu.Lock()
			rebuilds++
			mu.Unlock()
		}
	})

	// A burst of triggers collapses into one rebuild.
	for i := 0; i < 5; i++ {
		m.TriggerAutoRebuild()
		time.Sleep(5 * time.Millisecond)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := rebuilds
		mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("rebuilds = %d, want 1", n)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestTriggerAutoRebuild_DisabledIsNoop(t *testing.T) {
	m, ops := testManager(t, Config{AutoRebuild: false, Debounce: 10 * time.Millisecond})
	seedBank(t, ops)

	done := make(chan struct{}, 1)
	m.Subscribe(func(ev Event) {
		if ev.Kind == EventRebuilt {
			done <- struct{}{}
		}
	})
	m.TriggerAutoRebuild()

	select {
	case <-done:
		t.Error("rebuild fired with auto-rebuild disabled")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestEmit_ListenerPanicIsolated(t *testing.T) {
	m, ops := testManager(t, Config{})
	seedBank(t, ops)

	called := false
	m.Subscribe(func(Event) { panic("bad listener") })
	m.Subscribe(func(Event) { called = true })

	if _, err := m.BuildIndex(context.Background()); err != nil {
		t.Fatalf("BuildIndex: %v", err)
	}
	if !called {
		t.Error("second listener not reached after first panicked")
	}
}
