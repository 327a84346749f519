package syncdriver

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/data-connectors/source-klaviyo/internal/message"
	"github.com/data-connectors/source-klaviyo/internal/state"
	"github.com/data-connectors/source-klaviyo/internal/stream"
	"github.com/data-connectors/source-klaviyo/pkg/config"
)

func testConfig() *config.Config {
	return config.NewConfig()
}

// fakeStream is a minimal stream.Stream double used to exercise resolve()
// and runStream()'s dispatch logic without touching klaviyoapi.
type fakeStream struct {
	name    string
	deps    []string
	slices  []stream.Slice
	records []map[string]interface{}
	readErr error
}

func (f *fakeStream) Name() string                { return f.name }
func (f *fakeStream) PrimaryKey() string           { return "id" }
func (f *fakeStream) CursorField() string          { return "" }
func (f *fakeStream) JSONSchema() stream.JSONSchema { return stream.JSONSchema{Type: "object"} }
func (f *fakeStream) CheckpointInterval() int      { return 0 }
func (f *fakeStream) Dependencies() []string       { return f.deps }
func (f *fakeStream) SupportsIncremental() bool    { return false }

func (f *fakeStream) StreamSlices(ctx context.Context, mode stream.SyncMode, mgr *state.Manager) ([]stream.Slice, error) {
	return f.slices, nil
}

func (f *fakeStream) ReadRecords(ctx context.Context, mode stream.SyncMode, slice stream.Slice, mgr *state.Manager, emit func(map[string]interface{}) error) error {
	if f.readErr != nil {
		return f.readErr
	}
	for _, rec := range f.records {
		if err := emit(rec); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeStream) OnBeforeRead(ctx context.Context) error { return nil }
func (f *fakeStream) OnAfterRead(ctx context.Context) error  { return nil }

func (f *fakeStream) UpdatedCutoff(current int64, rec map[string]interface{}) int64 {
	return current
}

func newDriver(streams ...*fakeStream) *Driver {
	m := make(map[string]stream.Stream, len(streams))
	for _, s := range streams {
		m[s.name] = s
	}
	return &Driver{streams: m, cfg: testConfig(), writer: message.NewWriter(&bytes.Buffer{})}
}

func TestResolve_OrdersByDependency(t *testing.T) {
	d := newDriver(
		&fakeStream{name: "campaigns"},
		&fakeStream{name: "campaign-messages", deps: []string{"campaigns"}},
	)

	ordered, err := d.resolve([]CatalogEntry{
		{Name: "campaign-messages"},
		{Name: "campaigns"},
	})
	require.NoError(t, err)
	require.Len(t, ordered, 2)
	assert.Equal(t, "campaigns", ordered[0].Name)
	assert.Equal(t, "campaign-messages", ordered[1].Name)
}

func TestResolve_IgnoresDependencyNotInCatalog(t *testing.T) {
	d := newDriver(
		&fakeStream{name: "campaigns"},
		&fakeStream{name: "campaign-messages", deps: []string{"campaigns"}},
	)

	ordered, err := d.resolve([]CatalogEntry{{Name: "campaign-messages"}})
	require.NoError(t, err)
	require.Len(t, ordered, 1)
	assert.Equal(t, "campaign-messages", ordered[0].Name)
}

func TestResolve_DetectsCycle(t *testing.T) {
	d := newDriver(
		&fakeStream{name: "a", deps: []string{"b"}},
		&fakeStream{name: "b", deps: []string{"a"}},
	)

	_, err := d.resolve([]CatalogEntry{{Name: "a"}, {Name: "b"}})
	require.Error(t, err)
}

func TestResolve_UnknownStream(t *testing.T) {
	d := newDriver(&fakeStream{name: "a"})
	_, err := d.resolve([]CatalogEntry{{Name: "missing"}})
	require.Error(t, err)
}

func TestRunStream_UnshardedHonorsSliceFailureBudget(t *testing.T) {
	s := &fakeStream{
		name:    "templates",
		slices:  []stream.Slice{{}, {}, {}},
		readErr: assert.AnError,
	}
	d := newDriver(s)
	d.cfg.MaxSliceFailures = 2

	mgr := state.NewManager()
	_, err := d.runStream(context.Background(), s, stream.SyncModeFullRefresh, mgr)
	require.Error(t, err, "third slice failure exceeds the budget of 2 tolerated failures")
}

func TestRunStream_UnshardedWithinBudgetSucceeds(t *testing.T) {
	s := &fakeStream{
		name:    "templates",
		slices:  []stream.Slice{{}, {}},
		readErr: assert.AnError,
	}
	d := newDriver(s)
	d.cfg.MaxSliceFailures = 5

	mgr := state.NewManager()
	_, err := d.runStream(context.Background(), s, stream.SyncModeFullRefresh, mgr)
	require.NoError(t, err)
}

func TestRead_StreamFailureOverBudgetEmitsErroredStatusAndState(t *testing.T) {
	s := &fakeStream{
		name:    "templates",
		slices:  []stream.Slice{{}},
		readErr: assert.AnError,
	}
	buf := &bytes.Buffer{}
	d := &Driver{
		streams: map[string]stream.Stream{s.name: s},
		cfg:     testConfig(),
		writer:  message.NewWriter(buf),
	}
	d.cfg.MaxStreamFailures = 0
	d.cfg.MaxSliceFailures = 0

	mgr := state.NewManager()
	err := d.Read(context.Background(), []CatalogEntry{{Name: s.name, SyncMode: stream.SyncModeFullRefresh}}, mgr)
	require.Error(t, err, "first stream failure exceeds a zero-tolerance budget")

	out := buf.String()
	assert.Contains(t, out, string(message.TypeStatus), "over-budget failure must still emit a STATUS message")
	assert.Contains(t, out, string(message.StatusErrored))
	assert.Contains(t, out, string(message.TypeState), "over-budget failure must still emit a final STATE before terminating")
}
