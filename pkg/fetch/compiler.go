// Package fetch compiles leaf segments into concrete URLs and retrieves
// their records.
//
// A Run scopes one fetch or import: URL lists are memoized per leaf and the
// records of every data field per referenced leaf for the lifetime of the
// Run, so a data field referenced by several ancestors is fetched once.
// Nothing is shared between runs.
package fetch

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/CaseSolvedUK/rest-migrate/pkg/clients"
	"github.com/CaseSolvedUK/rest-migrate/pkg/errors"
	"github.com/CaseSolvedUK/rest-migrate/pkg/tree"
	"go.uber.org/zap"
)

// Record is one object from a JSON response
type Record = map[string]interface{}

// Fetcher retrieves records for leaf segments
type Fetcher struct {
	tree     *tree.Tree
	sessions *clients.SessionFactory
	logger   *zap.Logger
}

// New creates a Fetcher
func New(tr *tree.Tree, sessions *clients.SessionFactory, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{tree: tr, sessions: sessions, logger: logger.With(zap.String("component", "fetcher"))}
}

// NewRun starts a run with its own URL memo
func (f *Fetcher) NewRun(creds *clients.Credentials) *Run {
	return &Run{
		f:       f,
		creds:   creds,
		urls:    make(map[string][]string),
		records: make(map[string][]Record),
		active:  make(map[string]bool),
	}
}

// CompileURLs is NewRun(creds).CompileURLs
func (f *Fetcher) CompileURLs(ctx context.Context, segmentID string, creds *clients.Credentials) ([]string, error) {
	return f.NewRun(creds).CompileURLs(ctx, segmentID)
}

// FetchAll is NewRun(creds).FetchAll
func (f *Fetcher) FetchAll(ctx context.Context, leafID string, creds *clients.Credentials) ([]Record, error) {
	return f.NewRun(creds).FetchAll(ctx, leafID)
}

// Run is a single fetch/import run
type Run struct {
	f     *Fetcher
	creds *clients.Credentials
	urls  map[string][]string
	// records of leaves referenced as data fields
	records map[string][]Record
	// segments currently being compiled, to catch data field cycles
	active map[string]bool
	mu     sync.Mutex
}

// CompileURLs expands a segment into absolute URLs.
//
// A leaf starts the list with "?"+query when its branch resolves query
// params (and with its own name when PathLeaf is set). Each ancestor then
// contributes its name, or one value per distinct entry of its DataField,
// prefixed onto every partial URL: directly before a "?" fragment,
// "/"-joined otherwise. The root contributes scheme and host. An ancestor
// whose data field yields no values drops the branch.
func (r *Run) CompileURLs(ctx context.Context, segmentID string) ([]string, error) {
	r.mu.Lock()
	if urls, ok := r.urls[segmentID]; ok {
		r.mu.Unlock()
		return urls, nil
	}
	if r.active[segmentID] {
		r.mu.Unlock()
		return nil, errors.New(errors.ErrorTypeInvalidOperation, "data field references its own branch").
			WithDetail("segment", segmentID)
	}
	r.active[segmentID] = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.active, segmentID)
		r.mu.Unlock()
	}()

	seg, err := r.f.tree.Get(ctx, segmentID)
	if err != nil {
		return nil, err
	}

	var urls []string
	started := false
	if seg.IsGroup {
		if urls, err = r.expand(ctx, seg, nil, false); err != nil {
			return nil, err
		}
		started = true
	} else {
		q, err := r.f.tree.QueryString(ctx, seg)
		if err != nil {
			return nil, err
		}
		switch {
		case seg.PathLeaf && q != "":
			urls, started = []string{seg.Name + "?" + q}, true
		case seg.PathLeaf:
			urls, started = []string{seg.Name}, true
		case q != "":
			urls, started = []string{"?" + q}, true
		}
	}

	ancestors, err := r.f.tree.Ancestors(ctx, seg)
	if err != nil {
		return nil, err
	}
	for _, a := range ancestors {
		if started && len(urls) == 0 {
			break
		}
		if urls, err = r.expand(ctx, a, urls, started); err != nil {
			return nil, err
		}
		started = true
	}

	if urls == nil {
		urls = []string{}
	}
	r.mu.Lock()
	r.urls[segmentID] = urls
	r.mu.Unlock()

	r.f.logger.Debug("compiled URLs",
		zap.String("segment", segmentID),
		zap.Int("count", len(urls)))
	return urls, nil
}

// expand prefixes seg's path values onto urls
func (r *Run) expand(ctx context.Context, seg *tree.Segment, urls []string, started bool) ([]string, error) {
	values, err := r.pathValues(ctx, seg)
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(values)*max(len(urls), 1))
	for _, v := range values {
		if !started {
			out = append(out, v)
			continue
		}
		for _, u := range urls {
			if strings.HasPrefix(u, "?") {
				out = append(out, v+u)
			} else {
				out = append(out, v+"/"+u)
			}
		}
	}
	return out, nil
}

// pathValues returns seg's name, or the distinct values of its data field in
// first-seen order
func (r *Run) pathValues(ctx context.Context, seg *tree.Segment) ([]string, error) {
	if seg.DataField == "" {
		return []string{seg.Name}, nil
	}

	ref, err := r.f.tree.Get(ctx, seg.DataField)
	if err != nil {
		return nil, err
	}
	records, err := r.dataFieldRecords(ctx, ref.ID)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var values []string
	for _, rec := range records {
		v, ok := PathValue(rec[ref.Name])
		if !ok || seen[v] {
			continue
		}
		seen[v] = true
		values = append(values, url.PathEscape(v))
	}
	return values, nil
}

// dataFieldRecords is FetchAll, memoized for the Run
func (r *Run) dataFieldRecords(ctx context.Context, refID string) ([]Record, error) {
	r.mu.Lock()
	records, ok := r.records[refID]
	r.mu.Unlock()
	if ok {
		return records, nil
	}

	records, err := r.FetchAll(ctx, refID)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.records[refID] = records
	r.mu.Unlock()
	return records, nil
}

// PathValue renders a scalar record value as a path component
func PathValue(v interface{}) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, t != ""
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case fmt.Stringer:
		return t.String(), true
	case map[string]interface{}, []interface{}:
		return "", false
	default:
		return fmt.Sprint(t), true
	}
}
