package storage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/x/mongo/driver/connstring"

	"github.com/lightwatch/lightwatch/common/models"
)

const defaultMongoDatabase = "monitoring"

// MongoStore implements DocumentStore on MongoDB.
type MongoStore struct {
	client    *mongo.Client
	db        *mongo.Database
	opTimeout time.Duration
}

// NewMongoStore creates a client for uri. The database is taken from
// database, else the URI path, else "monitoring". The driver connects lazily.
func NewMongoStore(ctx context.Context, uri, database string, opTimeout time.Duration) (*MongoStore, error) {
	if database == "" {
		cs, err := connstring.ParseAndValidate(uri)
		if err != nil {
			return nil, fmt.Errorf("parse mongo uri: %w", err)
		}
		database = cs.Database
	}
	if database == "" {
		database = defaultMongoDatabase
	}
	if opTimeout <= 0 {
		opTimeout = 5 * time.Second
	}

	clientOpts := options.Client().
		ApplyURI(uri).
		SetAppName("lightwatch-ingest").
		SetBSONOptions(&options.BSONOptions{DefaultDocumentM: true})
	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}

	return &MongoStore{
		client:    client,
		db:        client.Database(database),
		opTimeout: opTimeout,
	}, nil
}

// EnsureIndexes creates the unique key on the liveness registry.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	_, err := s.db.Collection(models.CollectionServices).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "name", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("create services index: %w", err)
	}
	return nil
}

func (s *MongoStore) InsertOne(ctx context.Context, collection string, doc map[string]any) error {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	if _, err := s.db.Collection(collection).InsertOne(ctx, bson.M(doc)); err != nil {
		return fmt.Errorf("insert into %s: %w", collection, err)
	}
	return nil
}

func (s *MongoStore) UpsertOne(ctx context.Context, collection, keyField, keyValue string, set, onInsert map[string]any) error {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	update := bson.M{"$set": bson.M(set)}
	if len(onInsert) > 0 {
		update["$setOnInsert"] = bson.M(onInsert)
	}

	_, err := s.db.Collection(collection).UpdateOne(ctx,
		bson.M{keyField: keyValue},
		update,
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("upsert into %s: %w", collection, err)
	}
	return nil
}

// FindOne decodes the document whose keyField equals keyValue into out.
func (s *MongoStore) FindOne(ctx context.Context, collection, keyField, keyValue string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	err := s.db.Collection(collection).FindOne(ctx, bson.M{keyField: keyValue}).Decode(out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	return err
}

// Find runs q against collection. Substring filters become case-insensitive
// regular expressions over the quoted input.
func (s *MongoStore) Find(ctx context.Context, collection string, q Query) (Page, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	filter := mongoFilter(q)
	coll := s.db.Collection(collection)

	total, err := coll.CountDocuments(ctx, filter)
	if err != nil {
		return Page{}, fmt.Errorf("count %s: %w", collection, err)
	}

	opts := options.Find().
		SetSkip(int64(q.skip())).
		SetLimit(int64(q.limit())).
		SetProjection(bson.M{"_id": 0})
	if q.SortField != "" {
		opts.SetSort(bson.D{{Key: q.SortField, Value: -1}})
	}

	cursor, err := coll.Find(ctx, filter, opts)
	if err != nil {
		return Page{}, fmt.Errorf("find in %s: %w", collection, err)
	}
	defer cursor.Close(ctx)

	docs := []map[string]any{}
	if err := cursor.All(ctx, &docs); err != nil {
		return Page{}, fmt.Errorf("decode %s: %w", collection, err)
	}
	return Page{Docs: docs, Total: total}, nil
}

func mongoFilter(q Query) bson.M {
	filter := bson.M{}
	for field, v := range q.Equals {
		filter[field] = v
	}
	for field, v := range q.Contains {
		filter[field] = bson.M{"$regex": regexp.QuoteMeta(v), "$options": "i"}
	}
	if q.TimeField != "" {
		bounds := bson.M{}
		if !q.From.IsZero() {
			bounds["$gte"] = q.From
		}
		if !q.To.IsZero() {
			bounds["$lte"] = q.To
		}
		if len(bounds) > 0 {
			filter[q.TimeField] = bounds
		}
	}
	return filter
}

func (s *MongoStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

var (
	_ DocumentStore = (*MongoStore)(nil)
	_ Finder        = (*MongoStore)(nil)
)
