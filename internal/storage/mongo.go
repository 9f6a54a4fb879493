package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore keeps every record in one MongoDB collection, keyed by id and
// tagged with its logical collection.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
	now    Clock
}

var _ Store = (*MongoStore)(nil)

type mongoRecordDoc struct {
	ID         string `bson:"_id"`
	Collection string `bson:"collection"`
	Fields     []byte `bson:"fields"`
	Archived   bool   `bson:"archived"`
	CreatedAt  int64  `bson:"created_at"`
	UpdatedAt  int64  `bson:"updated_at"`
}

// OpenMongoStore connects to uri and returns a store using database dbName.
func OpenMongoStore(ctx context.Context, uri, dbName string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return NewMongoStore(client, dbName), nil
}

// NewMongoStore wraps an existing client. dbName defaults to "taskflow".
func NewMongoStore(client *mongo.Client, dbName string) *MongoStore {
	if dbName == "" {
		dbName = "taskflow"
	}
	return &MongoStore{
		client: client,
		coll:   client.Database(dbName).Collection("records"),
		now:    time.Now,
	}
}

func (s *MongoStore) CreateRecord(ctx context.Context, collection string, fields Fields) (string, error) {
	if collection == "" {
		return "", ErrEmptyCollection
	}
	data, err := EncodeFields(fields)
	if err != nil {
		return "", err
	}

	now := s.now().UnixNano()
	doc := mongoRecordDoc{
		ID:         uuid.NewString(),
		Collection: collection,
		Fields:     data,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		return "", fmt.Errorf("insert record: %w", err)
	}
	return doc.ID, nil
}

func (s *MongoStore) ArchiveRecord(ctx context.Context, id string) error {
	res, err := s.coll.UpdateByID(ctx, id, bson.M{"$set": bson.M{
		"archived":   true,
		"updated_at": s.now().UnixNano(),
	}})
	if err != nil {
		return fmt.Errorf("archive record %s: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("archive %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *MongoStore) UpdateRecord(ctx context.Context, id string, fields Fields) error {
	rec, err := s.GetRecord(ctx, id)
	if err != nil {
		return err
	}
	data, err := EncodeFields(rec.Fields.Merge(fields))
	if err != nil {
		return err
	}

	res, err := s.coll.UpdateByID(ctx, id, bson.M{"$set": bson.M{
		"fields":     data,
		"updated_at": s.now().UnixNano(),
	}})
	if err != nil {
		return fmt.Errorf("update record %s: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("update %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *MongoStore) GetRecord(ctx context.Context, id string) (*Record, error) {
	var doc mongoRecordDoc
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("get %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	fields, err := DecodeFields(doc.Fields)
	if err != nil {
		return nil, err
	}
	return &Record{
		ID:         doc.ID,
		Collection: doc.Collection,
		Fields:     fields,
		Archived:   doc.Archived,
		CreatedAt:  time.Unix(0, doc.CreatedAt).UTC(),
		UpdatedAt:  time.Unix(0, doc.UpdatedAt).UTC(),
	}, nil
}

// Close disconnects the client.
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
