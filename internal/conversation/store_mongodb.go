package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

type mongoSessionDocument struct {
	ID        string `bson:"_id"`
	CreatedAt int64  `bson:"created_at"`
	UpdatedAt int64  `bson:"updated_at"`
	Data      []byte `bson:"data"`
}

// MongoDBStore stores sessions in MongoDB.
type MongoDBStore struct {
	collection *mongo.Collection
}

// NewMongoDBStore creates collection indexes if needed.
func NewMongoDBStore(database *mongo.Database) (*MongoDBStore, error) {
	if database == nil {
		return nil, fmt.Errorf("database is required")
	}

	coll := database.Collection("conversations")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
	}
	if _, err := coll.Indexes().CreateMany(ctx, indexes); err != nil {
		return nil, fmt.Errorf("create conversations indexes: %w", err)
	}

	return &MongoDBStore{collection: coll}, nil
}

// Create inserts a new session.
func (s *MongoDBStore) Create(ctx context.Context, session *Session) error {
	payload, err := serializeSession(session)
	if err != nil {
		return err
	}

	doc := mongoSessionDocument{
		ID:        session.ID,
		CreatedAt: session.CreatedAt.UnixNano(),
		UpdatedAt: session.UpdatedAt.UnixNano(),
		Data:      payload,
	}
	if _, err := s.collection.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

// Get returns a session by id.
func (s *MongoDBStore) Get(ctx context.Context, id string) (*Session, error) {
	var doc mongoSessionDocument
	err := s.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query conversation: %w", err)
	}

	session, err := deserializeSession(doc.Data)
	if err != nil {
		return nil, fmt.Errorf("decode conversation: %w", err)
	}
	return session, nil
}

// List returns sessions ordered by created_at desc, id desc.
func (s *MongoDBStore) List(ctx context.Context) ([]*Session, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	cursor, err := s.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer cursor.Close(ctx)

	var items []*Session
	for cursor.Next(ctx) {
		var doc mongoSessionDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode conversation document: %w", err)
		}
		session, err := deserializeSession(doc.Data)
		if err != nil {
			return nil, fmt.Errorf("decode conversation payload: %w", err)
		}
		items = append(items, session)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations cursor: %w", err)
	}

	return items, nil
}

// Update replaces a stored session.
func (s *MongoDBStore) Update(ctx context.Context, session *Session) error {
	payload, err := serializeSession(session)
	if err != nil {
		return err
	}

	result, err := s.collection.UpdateOne(ctx,
		bson.M{"_id": session.ID},
		bson.M{"$set": bson.M{
			"updated_at": session.UpdatedAt.UnixNano(),
			"data":       payload,
		}},
	)
	if err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a session.
func (s *MongoDBStore) Delete(ctx context.Context, id string) error {
	result, err := s.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if result.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// Close is a no-op; Mongo client lifecycle is managed by storage layer.
func (s *MongoDBStore) Close() error {
	return nil
}
