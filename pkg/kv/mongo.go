package kv

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

type mongoDocument struct {
	Key     string `bson:"_id"`
	Value   []byte `bson:"value"`
	Version int64  `bson:"version"`
}

type mongoStore struct {
	coll *mongo.Collection
}

// NewMongoStore returns a Store keeping one document per key in coll.
func NewMongoStore(coll *mongo.Collection) Store {
	if coll == nil {
		panic("kv: mongo collection is required")
	}
	return &mongoStore{coll: coll}
}

func (s *mongoStore) Get(ctx context.Context, key string) (Entry, error) {
	if key == "" {
		return Entry{}, ErrEmptyKey
	}

	var doc mongoDocument
	if err := s.coll.FindOne(ctx, bson.D{{Key: "_id", Value: key}}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, fmt.Errorf("kv: mongo get %s: %w", key, err)
	}
	return Entry{Value: doc.Value, Version: doc.Version}, nil
}

func (s *mongoStore) Put(ctx context.Context, key string, value []byte, expectedVersion int64) (int64, error) {
	if key == "" {
		return 0, ErrEmptyKey
	}
	next := expectedVersion + 1

	if expectedVersion == 0 {
		_, err := s.coll.InsertOne(ctx, mongoDocument{Key: key, Value: value, Version: next})
		if mongo.IsDuplicateKeyError(err) {
			return 0, ErrVersionConflict
		}
		if err != nil {
			return 0, fmt.Errorf("kv: mongo insert %s: %w", key, err)
		}
		return next, nil
	}

	filter := bson.D{{Key: "_id", Value: key}, {Key: "version", Value: expectedVersion}}
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "value", Value: value},
		{Key: "version", Value: next},
	}}}

	res, err := s.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return 0, fmt.Errorf("kv: mongo update %s: %w", key, err)
	}
	if res.MatchedCount == 0 {
		return 0, ErrVersionConflict
	}
	return next, nil
}

func (s *mongoStore) Delete(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	if _, err := s.coll.DeleteOne(ctx, bson.D{{Key: "_id", Value: key}}); err != nil {
		return fmt.Errorf("kv: mongo delete %s: %w", key, err)
	}
	return nil
}
