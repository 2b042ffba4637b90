// Package mongostore is a MongoDB record store. Each entity type maps to a
// collection whose _id is the document name.
package mongostore

import (
	"context"
	"sort"
	"time"

	"github.com/CaseSolvedUK/rest-migrate/pkg/errors"
	"github.com/CaseSolvedUK/rest-migrate/pkg/store"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// Store implements store.Store on MongoDB
type Store struct {
	*store.Schema
	client   *mongo.Client
	database *mongo.Database
	logger   *zap.Logger
}

// Open connects and pings the server
func Open(ctx context.Context, uri, database string, timeout time.Duration, schema *store.Schema, logger *zap.Logger) (*Store, error) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	clientOptions := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(timeout).
		SetServerSelectionTimeout(timeout)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to connect to MongoDB")
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to ping MongoDB")
	}

	logger.Info("connected to MongoDB", zap.String("database", database))
	return &Store{
		Schema:   schema,
		client:   client,
		database: client.Database(database),
		logger:   logger,
	}, nil
}

func (s *Store) collection(entityType string) *mongo.Collection {
	return s.database.Collection(entityType)
}

// ListAll implements store.Store
func (s *Store) ListAll(ctx context.Context, entityType string) ([]*store.Document, error) {
	cur, err := s.collection(entityType).Find(ctx, bson.D{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to list documents").
			WithDetail("entity_type", entityType)
	}
	defer cur.Close(ctx)

	var docs []*store.Document
	if err := cur.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to decode documents").
			WithDetail("entity_type", entityType)
	}
	for _, d := range docs {
		fixup(d, entityType)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Name < docs[j].Name })
	return docs, nil
}

// Get implements store.Store
func (s *Store) Get(ctx context.Context, entityType, name string) (*store.Document, error) {
	var d store.Document
	err := s.collection(entityType).FindOne(ctx, bson.D{{Key: "_id", Value: name}}).Decode(&d)
	if err == mongo.ErrNoDocuments {
		return nil, store.NotFound(entityType, name)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to load document").
			WithDetail("entity_type", entityType).
			WithDetail("name", name)
	}
	fixup(&d, entityType)
	return &d, nil
}

// GetCached implements store.Store; wrap with store.NewCachedStore for caching
func (s *Store) GetCached(ctx context.Context, entityType, name string) (*store.Document, error) {
	return s.Get(ctx, entityType, name)
}

// GetValue implements store.Store
func (s *Store) GetValue(ctx context.Context, entityType, name string, fields ...string) (map[string]interface{}, error) {
	d, err := s.Get(ctx, entityType, name)
	if err != nil {
		return nil, err
	}
	return store.PickValues(d, fields), nil
}

// Insert implements store.Store
func (s *Store) Insert(ctx context.Context, doc *store.Document) error {
	if err := s.Prepare(ctx, doc, s.exists); err != nil {
		return err
	}
	_, err := s.collection(doc.EntityType).InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return store.DuplicateEntry(doc.EntityType, doc.Name)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to insert document").
			WithDetail("entity_type", doc.EntityType).
			WithDetail("name", doc.Name)
	}
	return nil
}

// Update implements store.Store
func (s *Store) Update(ctx context.Context, doc *store.Document) error {
	if err := s.Validate(ctx, doc, s.exists); err != nil {
		return err
	}
	res, err := s.collection(doc.EntityType).ReplaceOne(ctx, bson.D{{Key: "_id", Value: doc.Name}}, doc)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to update document").
			WithDetail("entity_type", doc.EntityType).
			WithDetail("name", doc.Name)
	}
	if res.MatchedCount == 0 {
		return store.NotFound(doc.EntityType, doc.Name)
	}
	return nil
}

// Close implements store.Store
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *Store) exists(ctx context.Context, entityType, name string) (bool, error) {
	n, err := s.collection(entityType).CountDocuments(ctx, bson.D{{Key: "_id", Value: name}}, options.Count().SetLimit(1))
	if err != nil {
		return false, errors.Wrap(err, errors.ErrorTypeConnection, "failed to check link target").
			WithDetail("entity_type", entityType)
	}
	return n > 0, nil
}

// fixup restores fields bson leaves empty
func fixup(d *store.Document, entityType string) {
	if d.EntityType == "" {
		d.EntityType = entityType
	}
	if d.Fields == nil {
		d.Fields = make(map[string]interface{})
	}
	for _, list := range d.Children {
		for _, c := range list {
			fixup(c, c.EntityType)
		}
	}
}
