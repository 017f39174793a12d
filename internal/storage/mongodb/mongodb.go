// Package mongodb stores each organization namespace as a MongoDB database
// named org_<organization_name> with a single "data" collection. MongoDB only
// materializes a database on first write, which is why every namespace
// carries a marker document.
package mongodb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/orgstore/orgstore/internal/config"
	"github.com/orgstore/orgstore/internal/db/models"
	"github.com/orgstore/orgstore/internal/storage"
)

// CollectionName is the collection holding tenant documents in every namespace.
const CollectionName = "data"

// mongoDuplicateKey is the server error code for a unique index violation.
const mongoDuplicateKey = 11000

const defaultConnectTimeout = 10 * time.Second

func init() {
	storage.Register("mongo", func(ctx context.Context, cfg *config.Config, _ storage.Deps) (storage.NamespaceStore, error) {
		return Connect(ctx, &cfg.Namespaces.Mongo)
	})
}

// Store implements storage.NamespaceStore on MongoDB databases
type Store struct {
	client    *mongo.Client
	opTimeout time.Duration
	owned     bool
	now       func() time.Time
}

// Connect dials MongoDB and verifies the primary is reachable. The returned
// store owns the client and disconnects it on Close.
func Connect(ctx context.Context, cfg *config.MongoConfig) (*Store, error) {
	connectTimeout := cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = defaultConnectTimeout
	}
	opts := options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(connectTimeout).
		SetAppName("orgstore")

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	s := New(client, cfg.OperationTimeout)
	s.owned = true
	return s, nil
}

// New wraps an existing client. The caller keeps ownership of the client.
func New(client *mongo.Client, opTimeout time.Duration) *Store {
	return &Store{client: client, opTimeout: opTimeout, now: time.Now}
}

func (s *Store) collection(organization string) *mongo.Collection {
	return s.client.Database(models.NamespaceName(organization)).Collection(CollectionName)
}

// opContext bounds a single storage call by the configured operation timeout.
func (s *Store) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

var markerFilter = bson.M{models.MarkerField: true}

type markerDoc struct {
	CreatedAt time.Time `bson:"created_at"`
}

// ensureMarker upserts the marker so repeated calls leave exactly one.
func (s *Store) ensureMarker(ctx context.Context, organization string) error {
	update := bson.M{"$setOnInsert": bson.M{
		models.MarkerField: true,
		"created_at":       s.now().UTC(),
	}}
	_, err := s.collection(organization).UpdateOne(ctx, markerFilter, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to write marker in %s: %w", models.NamespaceName(organization), err)
	}
	return nil
}

// Create materializes the database by upserting its marker document
func (s *Store) Create(ctx context.Context, organization string) (*storage.Namespace, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	if err := s.ensureMarker(ctx, organization); err != nil {
		return nil, err
	}
	return s.get(ctx, organization)
}

// Get returns the namespace when its marker document is present
func (s *Store) Get(ctx context.Context, organization string) (*storage.Namespace, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	return s.get(ctx, organization)
}

func (s *Store) get(ctx context.Context, organization string) (*storage.Namespace, error) {
	name := models.NamespaceName(organization)

	var marker markerDoc
	err := s.collection(organization).FindOne(ctx, markerFilter).Decode(&marker)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, storage.ErrNamespaceNotFound
		}
		return nil, fmt.Errorf("failed to get namespace %s: %w", name, err)
	}
	return &storage.Namespace{Organization: organization, Name: name, CreatedAt: marker.CreatedAt}, nil
}

// Drop drops the namespace database
func (s *Store) Drop(ctx context.Context, organization string) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	name := models.NamespaceName(organization)
	if err := s.client.Database(name).Drop(ctx); err != nil {
		return fmt.Errorf("failed to drop namespace %s: %w", name, err)
	}
	return nil
}

// CopyAll reads every tenant document from src and bulk-inserts it into dst.
// Documents keep their _id, so a retried copy skips what already landed.
func (s *Store) CopyAll(ctx context.Context, src, dst string) (int, error) {
	if src == dst {
		return 0, nil
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	docs, err := s.find(ctx, src)
	if err != nil {
		return 0, err
	}

	copied := len(docs)
	if copied > 0 {
		batch := make([]interface{}, 0, len(docs))
		for _, d := range docs {
			batch = append(batch, d)
		}
		_, err := s.collection(dst).InsertMany(ctx, batch, options.InsertMany().SetOrdered(false))
		if err != nil {
			dups, onlyDups := duplicateCount(err)
			if !onlyDups {
				return 0, fmt.Errorf("failed to copy documents into %s: %w", models.NamespaceName(dst), err)
			}
			copied -= dups
		}
	}

	if err := s.ensureMarker(ctx, dst); err != nil {
		return 0, err
	}
	return copied, nil
}

// InsertDocuments inserts bodies into an existing namespace
func (s *Store) InsertDocuments(ctx context.Context, organization string, bodies []map[string]interface{}) ([]models.Document, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	// Without this check an insert would silently materialize an
	// uncreated database.
	if _, err := s.get(ctx, organization); err != nil {
		return nil, err
	}

	batch := make([]interface{}, 0, len(bodies))
	docs := make([]models.Document, 0, len(bodies))
	for _, body := range bodies {
		id := primitive.NewObjectID()
		doc := bson.M{"_id": id}
		for k, v := range body {
			doc[k] = v
		}
		batch = append(batch, doc)
		docs = append(docs, models.Document{ID: id.Hex(), Body: body, CreatedAt: id.Timestamp()})
	}

	if _, err := s.collection(organization).InsertMany(ctx, batch); err != nil {
		return nil, fmt.Errorf("failed to insert documents: %w", err)
	}
	return docs, nil
}

// Documents lists tenant documents ordered by _id
func (s *Store) Documents(ctx context.Context, organization string) ([]models.Document, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	if _, err := s.get(ctx, organization); err != nil {
		return nil, err
	}

	raw, err := s.find(ctx, organization)
	if err != nil {
		return nil, err
	}

	docs := make([]models.Document, 0, len(raw))
	for _, d := range raw {
		doc, err := toDocument(d)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// List returns every org_ database, sorted
func (s *Store) List(ctx context.Context) ([]string, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	filter := bson.M{"name": bson.M{"$regex": "^" + models.NamespacePrefix}}
	names, err := s.client.ListDatabaseNames(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list namespaces: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// Ping checks the primary is reachable
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// Close disconnects the client if the store created it
func (s *Store) Close(ctx context.Context) error {
	if !s.owned {
		return nil
	}
	return s.client.Disconnect(ctx)
}

// find returns all non-marker documents of a namespace in _id order.
func (s *Store) find(ctx context.Context, organization string) ([]bson.M, error) {
	filter := bson.M{models.MarkerField: bson.M{"$ne": true}}
	cursor, err := s.collection(organization).Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to read documents from %s: %w", models.NamespaceName(organization), err)
	}

	var docs []bson.M
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode documents from %s: %w", models.NamespaceName(organization), err)
	}
	return docs, nil
}

// toDocument converts a stored BSON document into the API document shape.
func toDocument(d bson.M) (models.Document, error) {
	var doc models.Document
	if oid, ok := d["_id"].(primitive.ObjectID); ok {
		doc.ID = oid.Hex()
		doc.CreatedAt = oid.Timestamp()
	} else {
		doc.ID = fmt.Sprint(d["_id"])
	}
	delete(d, "_id")

	raw, err := json.Marshal(d)
	if err != nil {
		return doc, fmt.Errorf("failed to encode document %s: %w", doc.ID, err)
	}
	doc.Body, err = storage.DecodeBody(raw)
	if err != nil {
		return doc, fmt.Errorf("failed to decode document %s: %w", doc.ID, err)
	}
	return doc, nil
}

// duplicateCount reports how many write errors were duplicate keys and
// whether those were the only errors.
func duplicateCount(err error) (int, bool) {
	var bwe mongo.BulkWriteException
	if !errors.As(err, &bwe) || bwe.WriteConcernError != nil || len(bwe.WriteErrors) == 0 {
		return 0, false
	}
	for _, we := range bwe.WriteErrors {
		if we.Code != mongoDuplicateKey {
			return 0, false
		}
	}
	return len(bwe.WriteErrors), true
}
