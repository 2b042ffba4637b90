// Package migrate imports fetched API records into the record store.
//
// ImportData resolves the sibling mappings of a leaf, fetches its records
// and, record by record, builds candidate documents and inserts them.
// Inserted and pre-existing documents become parents for the candidates of
// the same record; candidates rejected only for lacking a parent are
// attached to the first parent whose entity type holds them.
package migrate

import (
	"context"
	"fmt"

	"github.com/CaseSolvedUK/rest-migrate/pkg/clients"
	"github.com/CaseSolvedUK/rest-migrate/pkg/errors"
	"github.com/CaseSolvedUK/rest-migrate/pkg/fetch"
	"github.com/CaseSolvedUK/rest-migrate/pkg/logger"
	"github.com/CaseSolvedUK/rest-migrate/pkg/mapping"
	"github.com/CaseSolvedUK/rest-migrate/pkg/metrics"
	"github.com/CaseSolvedUK/rest-migrate/pkg/observability"
	"github.com/CaseSolvedUK/rest-migrate/pkg/progress"
	"github.com/CaseSolvedUK/rest-migrate/pkg/store"
	"github.com/CaseSolvedUK/rest-migrate/pkg/tree"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Importer runs imports for leaf segments
type Importer struct {
	tree     *tree.Tree
	fetcher  *fetch.Fetcher
	store    store.Store
	registry *mapping.Registry
	progress progress.Sink
	logger   *zap.Logger
}

// New creates an Importer. A nil sink discards progress.
func New(tr *tree.Tree, fetcher *fetch.Fetcher, st store.Store, reg *mapping.Registry, sink progress.Sink, logger *zap.Logger) *Importer {
	if sink == nil {
		sink = progress.Nop{}
	}
	if reg == nil {
		reg = mapping.NewRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Importer{
		tree:     tr,
		fetcher:  fetcher,
		store:    st,
		registry: reg,
		progress: sink,
		logger:   logger.With(zap.String("component", "importer")),
	}
}

// GetData fetches the records of a leaf without importing them
func (im *Importer) GetData(ctx context.Context, leafID string, creds *clients.Credentials) ([]fetch.Record, error) {
	ctx = logger.WithRun(ctx, uuid.NewString())
	return im.fetcher.FetchAll(ctx, leafID, creds)
}

// ImportData imports every record fetched for leafID. Record-level store
// errors are reported in the outcome; any other error aborts the run.
func (im *Importer) ImportData(ctx context.Context, leafID string, creds *clients.Credentials) (out *Outcome, err error) {
	runID := uuid.NewString()
	ctx = logger.WithSegment(logger.WithRun(ctx, runID), leafID)
	log := logger.FromContext(ctx, im.logger)

	ctx, span := observability.StartSpan(ctx, "migrate.ImportData",
		attribute.String("segment", leafID),
		attribute.String("run_id", runID))
	timer := metrics.NewTimer()
	defer func() {
		status := StatusSuccess
		if err != nil {
			status = string(errors.KindOf(err))
			log.Error("import failed", zap.Error(err))
		}
		metrics.ImportRuns.WithLabelValues(status).Inc()
		metrics.ImportDuration.Observe(timer.Stop().Seconds())
		observability.EndWithError(span, err)
		span.End()
	}()

	leaf, err := im.tree.Get(ctx, leafID)
	if err != nil {
		return nil, err
	}
	if leaf.IsGroup {
		return nil, errors.Newf(errors.ErrorTypeInvalidOperation, "%q is a group; import is only valid on a data field", leaf.Name).
			WithDetail("segment", leafID)
	}

	set, err := mapping.Resolve(ctx, im.tree, leaf, im.store, im.registry, log)
	if err != nil {
		return nil, err
	}
	records, err := im.fetcher.NewRun(creds).FetchAll(ctx, leafID)
	if err != nil {
		return nil, err
	}
	keep, err := im.tree.KeepExisting(ctx, leafID)
	if err != nil {
		return nil, err
	}

	out = &Outcome{RunID: runID, Records: len(records)}
	log.Info("import started",
		zap.Int("records", len(records)),
		zap.Int("mappings", len(set.Mappings)),
		zap.Bool("keep_existing", keep))

	im.progress.Publish(ctx, progress.Event{RunID: runID, Percentage: 0})
	for i, record := range records {
		n := i + 1
		docs, skipped, err := set.Build(n, record)
		if err != nil {
			return nil, err
		}
		out.SkippedSubRecords += skipped

		pct := n * 100 / len(records)
		if err := im.insertAndLink(ctx, docs, keep, pct, out); err != nil {
			return nil, err
		}
		im.progress.Publish(ctx, progress.Event{RunID: runID, Percentage: pct})
	}

	out.Status = StatusSuccess
	span.SetAttributes(
		attribute.Int("records", out.Records),
		attribute.Int("inserted", out.Inserted),
		attribute.Int("orphaned", out.Orphaned))
	log.Info("import complete",
		zap.Int("inserted", out.Inserted),
		zap.Int("updated", out.Updated),
		zap.Int("unchanged", out.Unchanged),
		zap.Int("attached", out.Attached),
		zap.Int("orphaned", out.Orphaned),
		zap.Int("failed", out.Failed),
		zap.Int("skipped_sub_records", out.SkippedSubRecords))
	return out, nil
}

// insertAndLink stores the candidates of one source record and attaches
// deferred children to the record's parents
func (im *Importer) insertAndLink(ctx context.Context, docs []*store.Document, keep bool, pct int, out *Outcome) error {
	log := logger.FromContext(ctx, im.logger)

	var parents, children []*store.Document
	for _, doc := range docs {
		err := im.store.Insert(ctx, doc)

		switch {
		case err == nil:
			parents = append(parents, doc)
			out.Inserted++
			im.count(doc, metrics.OutcomeInserted)
			im.publishDoc(ctx, pct, doc, TitleParent, IndicatorGreen)
			out.add(Message{
				Title:      TitleParent,
				Text:       fmt.Sprintf("%s %s created", doc.EntityType, doc.Name),
				Indicator:  IndicatorGreen,
				EntityType: doc.EntityType,
				DocName:    doc.Name,
			})

		case errors.IsType(err, errors.ErrorTypeDuplicateEntry):
			existing, err := im.store.GetCached(ctx, doc.EntityType, doc.Name)
			if err != nil {
				return err
			}
			parents = append(parents, existing)
			if keep {
				out.Unchanged++
				im.count(doc, metrics.OutcomeUnchanged)
				im.publishDoc(ctx, pct, doc, TitleParent, IndicatorGreen)
				continue
			}
			existing.Merge(doc)
			if err := im.store.Update(ctx, existing); err != nil {
				if !errors.IsRecoverable(err) {
					return err
				}
				im.fail(ctx, pct, out, doc, err)
				continue
			}
			out.Updated++
			im.count(doc, metrics.OutcomeUpdated)
			im.publishDoc(ctx, pct, doc, TitleParent, IndicatorGreen)

		case errors.IsType(err, errors.ErrorTypeMandatoryFieldMissing):
			if contains(store.MissingFields(err), "parent") {
				children = append(children, doc)
				im.count(doc, metrics.OutcomeDeferred)
				continue
			}
			im.fail(ctx, pct, out, doc, err)

		case errors.IsType(err, errors.ErrorTypeLinkValidation):
			im.fail(ctx, pct, out, doc, err)

		default:
			return err
		}
	}

	for _, child := range children {
		parent, field := im.parentFor(parents, child)
		if parent == nil {
			out.Orphaned++
			im.count(child, metrics.OutcomeOrphaned)
			log.Warn("child document has no parent in record",
				zap.String("entity_type", child.EntityType))
			im.publishDoc(ctx, pct, child, TitleChild, IndicatorRed)
			out.add(Message{
				Title:      TitleChild,
				Text:       fmt.Sprintf("%s orphan lost", child.EntityType),
				Indicator:  IndicatorRed,
				EntityType: child.EntityType,
			})
			continue
		}

		parent.Append(field, child)
		if err := im.store.Update(ctx, parent); err != nil {
			list := parent.Children[field]
			parent.Children[field] = list[:len(list)-1]
			if !errors.IsRecoverable(err) {
				return err
			}
			im.fail(ctx, pct, out, child, err)
			continue
		}
		out.Attached++
		im.count(child, metrics.OutcomeAttached)
		im.publishDoc(ctx, pct, child, TitleChild, IndicatorGreen)
		out.add(Message{
			Title:      TitleChild,
			Text:       fmt.Sprintf("%s %s attached to %s %s", child.EntityType, child.Name, parent.EntityType, parent.Name),
			Indicator:  IndicatorGreen,
			EntityType: child.EntityType,
			DocName:    child.Name,
		})
	}
	return nil
}

// parentFor returns the first parent with a table field for child
func (im *Importer) parentFor(parents []*store.Document, child *store.Document) (*store.Document, string) {
	for _, p := range parents {
		if field := im.store.ParentFieldFor(p.EntityType, child.EntityType); field != "" {
			return p, field
		}
	}
	return nil, ""
}

// publishDoc reports the settled fate of one candidate document
func (im *Importer) publishDoc(ctx context.Context, pct int, doc *store.Document, title, indicator string) {
	runID, _ := ctx.Value(logger.RunIDKey).(string)
	im.progress.Publish(ctx, progress.Event{
		RunID:      runID,
		Percentage: pct,
		EntityType: doc.EntityType,
		DocName:    doc.Name,
		Title:      title,
		Indicator:  indicator,
	})
}

func (im *Importer) fail(ctx context.Context, pct int, out *Outcome, doc *store.Document, err error) {
	title := TitleParent
	switch errors.KindOf(err) {
	case errors.ErrorTypeMandatoryFieldMissing:
		title = TitleMandatoryError
	case errors.ErrorTypeLinkValidation:
		title = TitleLinkValidationError
	}
	out.Failed++
	im.count(doc, metrics.OutcomeFailed)
	im.publishDoc(ctx, pct, doc, title, IndicatorRed)
	out.add(Message{
		Title:      title,
		Text:       err.Error(),
		Indicator:  IndicatorRed,
		EntityType: doc.EntityType,
		DocName:    doc.Name,
	})
}

func (im *Importer) count(doc *store.Document, outcome string) {
	metrics.DocumentsProcessed.WithLabelValues(doc.EntityType, outcome).Inc()
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
