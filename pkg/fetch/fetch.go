package fetch

import (
	"context"
	"mime"
	"net/http"
	"strings"

	"github.com/CaseSolvedUK/rest-migrate/pkg/errors"
	jsonpool "github.com/CaseSolvedUK/rest-migrate/pkg/json"
	"github.com/CaseSolvedUK/rest-migrate/pkg/logger"
	"github.com/CaseSolvedUK/rest-migrate/pkg/metrics"
	"github.com/CaseSolvedUK/rest-migrate/pkg/observability"
	"github.com/CaseSolvedUK/rest-migrate/pkg/tree"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// FetchAll retrieves every record for a leaf across all of its compiled
// URLs. One session serves the whole call and is closed on every path.
//
// A JSON object response is unwrapped by the name of the leaf's parent
// segment; a JSON array is taken as-is.
func (r *Run) FetchAll(ctx context.Context, leafID string) (records []Record, err error) {
	ctx, span := observability.StartSpan(ctx, "fetch.FetchAll", attribute.String("segment", leafID))
	defer func() {
		observability.EndWithError(span, err)
		span.End()
	}()

	leaf, err := r.f.tree.Get(ctx, leafID)
	if err != nil {
		return nil, err
	}
	if leaf.IsGroup {
		return nil, errors.Newf(errors.ErrorTypeInvalidOperation, "%q is a group; fetch is only valid on a leaf segment", leaf.Name).
			WithDetail("segment", leafID)
	}

	urls, err := r.CompileURLs(ctx, leafID)
	if err != nil {
		return nil, err
	}
	headers, err := r.f.tree.Headers(ctx, leaf)
	if err != nil {
		return nil, err
	}
	envelope, err := r.envelopeKey(ctx, leaf)
	if err != nil {
		return nil, err
	}

	log := logger.FromContext(logger.WithSegment(ctx, leafID), r.f.logger)

	session, err := r.f.sessions.Open(r.creds, headers)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	for _, u := range urls {
		resp, err := session.Get(ctx, u)
		if err != nil {
			return nil, err
		}
		batch, err := decodeRecords(resp, envelope)
		resp.Body.Close()
		if err != nil {
			if e, ok := err.(*errors.Error); ok {
				e.WithDetail("url", u)
			}
			return nil, err
		}
		log.Debug("fetched", zap.String("url", u), zap.Int("records", len(batch)))
		records = append(records, batch...)
	}

	metrics.RecordsFetched.Add(float64(len(records)))
	span.SetAttributes(attribute.Int("records", len(records)), attribute.Int("urls", len(urls)))
	log.Info("fetch complete",
		zap.Int("urls", len(urls)),
		zap.Int("records", len(records)),
		zap.Stringer("session_state", session.State()))
	return records, nil
}

func (r *Run) envelopeKey(ctx context.Context, leaf *tree.Segment) (string, error) {
	if leaf.IsRoot() {
		return "", nil
	}
	parent, err := r.f.tree.Get(ctx, leaf.ParentID)
	if err != nil {
		return "", err
	}
	return parent.Name, nil
}

func decodeRecords(resp *http.Response, envelope string) ([]Record, error) {
	ct := resp.Header.Get("Content-Type")
	mediaType, _, _ := mime.ParseMediaType(ct)
	if !strings.Contains(strings.ToLower(mediaType), "json") {
		return nil, errors.Newf(errors.ErrorTypeUnsupportedContentType, "unsupported content type %q", ct).
			WithDetail("content_type", ct)
	}

	body, err := jsonpool.Decode(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to decode JSON response")
	}

	var items []interface{}
	switch v := body.(type) {
	case []interface{}:
		items = v
	case map[string]interface{}:
		inner, ok := v[envelope]
		if !ok {
			return nil, errors.Newf(errors.ErrorTypeData, "response object has no %q key", envelope).
				WithDetail("key", envelope)
		}
		list, ok := inner.([]interface{})
		if !ok {
			return nil, errors.Newf(errors.ErrorTypeData, "response key %q is not a list", envelope).
				WithDetail("key", envelope)
		}
		items = list
	default:
		return nil, errors.New(errors.ErrorTypeData, "response is neither a JSON object nor a list")
	}

	records := make([]Record, 0, len(items))
	for i, item := range items {
		rec, ok := item.(map[string]interface{})
		if !ok {
			return nil, errors.Newf(errors.ErrorTypeData, "list item %d is not an object", i).
				WithDetail("index", i)
		}
		records = append(records, rec)
	}
	return records, nil
}
