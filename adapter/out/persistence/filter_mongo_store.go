package persistence

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"spamfilter/core/domain"
	"spamfilter/pkg/apperr"
)

// =============================================================================
// MongoDB Reference Store
// =============================================================================

const referenceCollection = "reference_records"

// MongoStore keeps reference metadata in a MongoDB collection keyed by index.
type MongoStore struct {
	coll *mongo.Collection
}

// NewMongoStore creates a store on database.
func NewMongoStore(client *mongo.Client, database string) *MongoStore {
	return &MongoStore{coll: client.Database(database).Collection(referenceCollection)}
}

// LoadRecords reads every reference record ordered by _id.
func (s *MongoStore) LoadRecords(ctx context.Context) (RecordStore, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	cursor, err := s.coll.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, apperr.DatabaseError("query reference records", err)
	}
	defer cursor.Close(ctx)

	var records []domain.Record
	if err := cursor.All(ctx, &records); err != nil {
		return nil, apperr.DatabaseError("decode reference records", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%s is empty", referenceCollection)
	}
	return NewRecordStore(records)
}

// ReplaceRecords drops the collection and inserts records in batches.
func (s *MongoStore) ReplaceRecords(ctx context.Context, records []domain.Record) error {
	if err := s.coll.Drop(ctx); err != nil {
		return apperr.DatabaseError("drop "+referenceCollection, err)
	}
	const chunk = 1000
	for start := 0; start < len(records); start += chunk {
		end := min(start+chunk, len(records))
		docs := make([]interface{}, 0, end-start)
		for _, r := range records[start:end] {
			docs = append(docs, r)
		}
		if _, err := s.coll.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false)); err != nil {
			return apperr.DatabaseError("insert reference records", err)
		}
	}
	return nil
}
