package audit

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// mongoDoc is the BSON shape persisted for each audit Record.
type mongoDoc struct {
	Kind          string            `bson:"kind"`
	NodeID        string            `bson:"nodeId"`
	TransactionID string            `bson:"transactionId"`
	Status        string            `bson:"status"`
	Data          map[string]string `bson:"data,omitempty"`
	ParticipantID string            `bson:"participantId,omitempty"`
	Host          string            `bson:"host,omitempty"`
	Port          int               `bson:"port,omitempty"`
	OccurredAt    int64             `bson:"occurredAt"`
	MirroredAt    int64             `bson:"mirroredAt"`
}

// MongoSink mirrors audit records into a single collection.
type MongoSink struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// NewMongoSink connects to uri and pings the primary before returning.
func NewMongoSink(ctx context.Context, uri, database string) (*MongoSink, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("audit: connect mongo: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("audit: ping mongo: %w", err)
	}
	return &MongoSink{client: client, coll: client.Database(database).Collection("threepc_audit")}, nil
}

// Write inserts rec as a new document.
func (s *MongoSink) Write(ctx context.Context, rec Record) error {
	_, err := s.coll.InsertOne(ctx, mongoDoc{
		Kind:          rec.Kind,
		NodeID:        rec.NodeID,
		TransactionID: rec.TransactionID,
		Status:        rec.Status,
		Data:          rec.Data,
		ParticipantID: rec.ParticipantID,
		Host:          rec.Host,
		Port:          rec.Port,
		OccurredAt:    rec.OccurredAt,
		MirroredAt:    rec.MirroredAt,
	})
	return err
}

// Close disconnects the client.
func (s *MongoSink) Close() error {
	return s.client.Disconnect(context.Background())
}
