package migrate

import (
	"context"
	"sync"
	"testing"

	"github.com/CaseSolvedUK/rest-migrate/pkg/clients"
	"github.com/CaseSolvedUK/rest-migrate/pkg/config"
	"github.com/CaseSolvedUK/rest-migrate/pkg/errors"
	"github.com/CaseSolvedUK/rest-migrate/pkg/fetch"
	"github.com/CaseSolvedUK/rest-migrate/pkg/mapping"
	"github.com/CaseSolvedUK/rest-migrate/pkg/progress"
	"github.com/CaseSolvedUK/rest-migrate/pkg/store"
	"github.com/CaseSolvedUK/rest-migrate/pkg/testutil"
	"github.com/CaseSolvedUK/rest-migrate/pkg/tree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const importSchema = `
entity_types:
  - name: Customer
    naming_field: customer_name
    fields:
      - {name: customer_name, type: Data, required: true}
      - {name: city, type: Data}
      - {name: territory, type: Link, options: Territory}
      - {name: addresses, type: Table, options: Customer Address}
  - name: Customer Address
    is_child: true
    fields:
      - {name: city, type: Data}
  - name: Territory
    naming_field: territory_name
    fields:
      - {name: territory_name, type: Data}
`

type events struct {
	mu  sync.Mutex
	all []progress.Event
}

func (e *events) Publish(_ context.Context, ev progress.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.all = append(e.all, ev)
}

func (e *events) Close() error { return nil }

type fixture struct {
	importer *Importer
	store    *store.MemoryStore
	events   *events
}

func newFixture(t *testing.T, body string, keepExisting bool) *fixture {
	t.Helper()
	return newFixtureWithStore(t, body, keepExisting, func(st *store.MemoryStore) store.Store { return st })
}

// newFixtureWithStore hands the importer wrap(memory store) instead of the
// memory store itself
func newFixtureWithStore(t *testing.T, body string, keepExisting bool, wrap func(*store.MemoryStore) store.Store) *fixture {
	t.Helper()
	log := testutil.TestLogger(t)
	srv := testutil.NewAPIServer(t, map[string]string{"/customers": body})

	schema, err := store.ParseSchema([]byte(importSchema))
	require.NoError(t, err)
	st := store.NewMemoryStore(schema)

	tr := tree.New(tree.NewMemoryRepository(
		&tree.Segment{ID: "root", Name: srv.URL, IsGroup: true, KeepExisting: keepExisting},
		&tree.Segment{ID: "customers", Name: "customers", ParentID: "root", IsGroup: true, KeepExisting: keepExisting},
		&tree.Segment{ID: "name", Name: "name", ParentID: "customers", KeepExisting: keepExisting,
			TargetEntityType: "Customer", TargetField: "customer_name"},
		&tree.Segment{ID: "city", Name: "city", ParentID: "customers", KeepExisting: keepExisting,
			TargetEntityType: "Customer", TargetField: "city"},
		&tree.Segment{ID: "territory", Name: "territory", ParentID: "customers", KeepExisting: keepExisting,
			TargetEntityType: "Customer", TargetField: "territory"},
		&tree.Segment{ID: "address-city", Name: "addresses.city", ParentID: "customers", KeepExisting: keepExisting,
			TargetEntityType: "Customer Address", TargetField: "city"},
	), log)

	sessions := clients.NewSessionFactory(config.Default().HTTP, nil, nil, log)
	ev := &events{}
	im := New(tr, fetch.New(tr, sessions, log), wrap(st), mapping.NewRegistry(), ev, log)
	return &fixture{importer: im, store: st, events: ev}
}

func TestImportDataEndToEnd(t *testing.T) {
	f := newFixture(t, `{"customers":[
		{"name":"Ann","city":"Leeds","addresses":[{"city":"York"}]},
		{"name":"Bob","territory":"Mars","addresses":[{"city":"Hull"}]}
	]}`, false)
	ctx := context.Background()

	out, err := f.importer.ImportData(ctx, "name", nil)
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, out.Status)
	assert.NotEmpty(t, out.RunID)
	assert.Equal(t, 2, out.Records)
	assert.Equal(t, 1, out.Inserted)
	assert.Equal(t, 1, out.Attached)
	assert.Equal(t, 1, out.Failed)
	assert.Equal(t, 1, out.Orphaned)

	ann, err := f.store.Get(ctx, "Customer", "Ann")
	require.NoError(t, err)
	assert.Equal(t, "Leeds", ann.Get("city"))
	require.Len(t, ann.Children["addresses"], 1)
	assert.Equal(t, "York", ann.Children["addresses"][0].Get("city"))
	assert.Equal(t, "Ann", ann.Children["addresses"][0].Parent)

	_, err = f.store.Get(ctx, "Customer", "Bob")
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))

	titles := make(map[string]int)
	for _, m := range out.Messages {
		titles[m.Title+"/"+m.Indicator]++
	}
	assert.Len(t, out.Messages, 4)
	assert.Equal(t, 1, titles[TitleParent+"/"+IndicatorGreen])
	assert.Equal(t, 1, titles[TitleChild+"/"+IndicatorGreen])
	assert.Equal(t, 1, titles[TitleLinkValidationError+"/"+IndicatorRed])
	assert.Equal(t, 1, titles[TitleChild+"/"+IndicatorRed])
}

func TestImportDataProgress(t *testing.T) {
	f := newFixture(t, `[{"name":"Ann"},{"name":"Bob"}]`, false)

	_, err := f.importer.ImportData(context.Background(), "name", nil)
	require.NoError(t, err)

	all := f.events.all
	require.NotEmpty(t, all)
	assert.Equal(t, 0, all[0].Percentage)
	assert.Equal(t, 100, all[len(all)-1].Percentage)

	var records []int
	docs := make(map[string]int)
	for i, ev := range all {
		if i > 0 {
			assert.GreaterOrEqual(t, ev.Percentage, all[i-1].Percentage)
		}
		if ev.EntityType != "" {
			docs[ev.DocName] = ev.Percentage
			assert.Equal(t, TitleParent, ev.Title)
			assert.Equal(t, IndicatorGreen, ev.Indicator)
		} else if i > 0 {
			records = append(records, ev.Percentage)
		}
	}
	assert.Equal(t, []int{50, 100}, records)
	assert.Equal(t, map[string]int{"Ann": 50, "Bob": 100}, docs)
}

func TestImportDataDuplicates(t *testing.T) {
	tests := []struct {
		name     string
		keep     bool
		wantCity string
	}{
		{"overwrite", false, "Leeds"},
		{"keep existing", true, "Old Town"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, `[{"name":"Ann","city":"Leeds"}]`, tt.keep)
			ctx := context.Background()

			existing := store.NewDocument("Customer")
			existing.Set("customer_name", "Ann")
			existing.Set("city", "Old Town")
			require.NoError(t, f.store.Insert(ctx, existing))

			out, err := f.importer.ImportData(ctx, "city", nil)
			require.NoError(t, err)
			assert.Zero(t, out.Inserted)
			if tt.keep {
				assert.Equal(t, 1, out.Unchanged)
			} else {
				assert.Equal(t, 1, out.Updated)
			}

			docs, err := f.store.ListAll(ctx, "Customer")
			require.NoError(t, err)
			require.Len(t, docs, 1)
			assert.Equal(t, tt.wantCity, docs[0].Get("city"))
		})
	}
}

func TestImportDataProgressReportsFailures(t *testing.T) {
	f := newFixture(t, `[{"name":"Ann","territory":"Mars","addresses":[{"city":"York"}]}]`, false)

	_, err := f.importer.ImportData(context.Background(), "name", nil)
	require.NoError(t, err)

	var docEvents []progress.Event
	for _, ev := range f.events.all {
		if ev.EntityType != "" {
			docEvents = append(docEvents, ev)
		}
	}
	require.Len(t, docEvents, 2)
	assert.Equal(t, "Customer", docEvents[0].EntityType)
	assert.Equal(t, "Ann", docEvents[0].DocName)
	assert.Equal(t, TitleLinkValidationError, docEvents[0].Title)
	assert.Equal(t, IndicatorRed, docEvents[0].Indicator)
	assert.Equal(t, "Customer Address", docEvents[1].EntityType)
	assert.Equal(t, TitleChild, docEvents[1].Title)
	assert.Equal(t, IndicatorRed, docEvents[1].Indicator)
}

// countingStore counts reads that reach the backing store
type countingStore struct {
	*store.MemoryStore
	gets int
}

func (c *countingStore) Get(ctx context.Context, entityType, name string) (*store.Document, error) {
	c.gets++
	return c.MemoryStore.Get(ctx, entityType, name)
}

func TestImportDataDuplicatesReadThroughCache(t *testing.T) {
	var counting *countingStore
	f := newFixtureWithStore(t, `[{"name":"Ann"},{"name":"Ann"}]`, true, func(st *store.MemoryStore) store.Store {
		counting = &countingStore{MemoryStore: st}
		cached, err := store.NewCachedStore(counting, 16)
		require.NoError(t, err)
		return cached
	})
	ctx := context.Background()

	existing := store.NewDocument("Customer")
	existing.Set("customer_name", "Ann")
	require.NoError(t, f.store.Insert(ctx, existing))

	out, err := f.importer.ImportData(ctx, "name", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, out.Unchanged)
	assert.Zero(t, out.Inserted)
	assert.Equal(t, 1, counting.gets)
}

func TestImportDataAttachesToExistingParent(t *testing.T) {
	f := newFixture(t, `[{"name":"Ann","addresses":[{"city":"York"},{"city":"Hull"}]}]`, true)
	ctx := context.Background()

	existing := store.NewDocument("Customer")
	existing.Set("customer_name", "Ann")
	require.NoError(t, f.store.Insert(ctx, existing))

	out, err := f.importer.ImportData(ctx, "name", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, out.Attached)

	ann, err := f.store.Get(ctx, "Customer", "Ann")
	require.NoError(t, err)
	assert.Len(t, ann.Children["addresses"], 2)
}

func TestImportDataMissingMandatory(t *testing.T) {
	f := newFixture(t, `[{"city":"Leeds"}]`, false)

	out, err := f.importer.ImportData(context.Background(), "name", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Failed)
	require.Len(t, out.Messages, 1)
	assert.Equal(t, TitleMandatoryError, out.Messages[0].Title)
	assert.True(t, out.Messages[0].Failed())
}

func TestImportDataRejectsGroup(t *testing.T) {
	f := newFixture(t, `[]`, false)

	_, err := f.importer.ImportData(context.Background(), "customers", nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidOperation))
}

func TestImportDataAbortsOnFetchError(t *testing.T) {
	f := newFixture(t, `[]`, false)

	_, err := f.importer.ImportData(context.Background(), "name", &clients.Credentials{Auth: "NTLM"})
	assert.True(t, errors.IsType(err, errors.ErrorTypeUnsupportedAuthScheme))
}

func TestGetData(t *testing.T) {
	f := newFixture(t, `{"customers":[{"name":"Ann"}]}`, false)

	records, err := f.importer.GetData(context.Background(), "name", nil)
	require.NoError(t, err)
	assert.Equal(t, []fetch.Record{{"name": "Ann"}}, records)

	docs, err := f.store.ListAll(context.Background(), "Customer")
	require.NoError(t, err)
	assert.Empty(t, docs)
}
