package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/johnwmail/quickbin/models"
)

// MongoConfig configures the MongoDB backend.
type MongoConfig struct {
	URI        string
	Database   string
	Collection string
	OpTimeout  time.Duration
}

// MongoStore implements SnippetStore using MongoDB
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
	timeout    time.Duration
}

// NewMongoStore creates a new MongoDB storage backend
func NewMongoStore(ctx context.Context, cfg MongoConfig) (*MongoStore, error) {
	if cfg.Collection == "" {
		cfg.Collection = "snippets"
	}
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("mongodb: connect: %w", err)
	}

	// Test the connection
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongodb: ping: %w", err)
	}

	store := &MongoStore{
		client:     client,
		collection: client.Database(cfg.Database).Collection(cfg.Collection),
		timeout:    cfg.OpTimeout,
	}

	if err := store.createIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongodb: create indexes: %w", err)
	}

	return store, nil
}

// createIndexes creates the range index used by ScanExpired and a TTL
// index on purge_at, so the server removes whatever the reaper misses.
func (m *MongoStore) createIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	_, err := m.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "expires_at", Value: 1}}},
		{
			Keys:    bson.D{{Key: "purge_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		},
	})
	return err
}

// mongoSnippet is the stored document. BSON dates keep only milliseconds,
// so the timestamps are unix nanoseconds and purge_at exists for the TTL
// index alone.
type mongoSnippet struct {
	ID        string    `bson:"_id"`
	Title     string    `bson:"title"`
	Content   string    `bson:"content"`
	CreatedAt int64     `bson:"created_at"`
	ExpiresAt int64     `bson:"expires_at"`
	PurgeAt   time.Time `bson:"purge_at"`
}

func snippetToDocument(s *models.Snippet) mongoSnippet {
	return mongoSnippet{
		ID:        s.ID,
		Title:     s.Title,
		Content:   s.Content,
		CreatedAt: s.CreatedAt.UnixNano(),
		ExpiresAt: s.ExpiresAt.UnixNano(),
		PurgeAt:   s.ExpiresAt,
	}
}

func (d mongoSnippet) snippet() *models.Snippet {
	return &models.Snippet{
		ID:        d.ID,
		Title:     d.Title,
		Content:   d.Content,
		CreatedAt: time.Unix(0, d.CreatedAt).UTC(),
		ExpiresAt: time.Unix(0, d.ExpiresAt).UTC(),
	}
}

// Put inserts a snippet. _id uniqueness gives duplicate detection.
func (m *MongoStore) Put(ctx context.Context, snippet *models.Snippet) error {
	ctx, cancel := opContext(ctx, m.timeout)
	defer cancel()

	_, err := m.collection.InsertOne(ctx, snippetToDocument(snippet))
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicateID
	}
	return m.wrap("put", err)
}

// Get retrieves a snippet by its ID
func (m *MongoStore) Get(ctx context.Context, id string, now time.Time) (*models.Snippet, error) {
	ctx, cancel := opContext(ctx, m.timeout)
	defer cancel()

	var doc mongoSnippet
	err := m.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil // Not found
		}
		return nil, m.wrap("get", err)
	}

	snippet := doc.snippet()
	if snippet.IsExpired(now) {
		return nil, nil
	}
	return snippet, nil
}

// Delete removes a snippet from MongoDB
func (m *MongoStore) Delete(ctx context.Context, id string) error {
	ctx, cancel := opContext(ctx, m.timeout)
	defer cancel()

	_, err := m.collection.DeleteOne(ctx, bson.M{"_id": id})
	return m.wrap("delete", err)
}

// ScanExpired runs an indexed range query on expires_at.
func (m *MongoStore) ScanExpired(ctx context.Context, now time.Time, limit int) ([]string, error) {
	ctx, cancel := opContext(ctx, m.timeout)
	defer cancel()

	opts := options.Find().
		SetSort(bson.D{{Key: "expires_at", Value: 1}}).
		SetProjection(bson.M{"_id": 1})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := m.collection.Find(ctx, bson.M{"expires_at": bson.M{"$lte": now.UnixNano()}}, opts)
	if err != nil {
		return nil, m.wrap("scan expired", err)
	}
	defer func() { _ = cursor.Close(context.Background()) }()

	var ids []string
	for cursor.Next(ctx) {
		var doc struct {
			ID string `bson:"_id"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, m.wrap("scan expired", err)
		}
		ids = append(ids, doc.ID)
	}
	if err := cursor.Err(); err != nil {
		return nil, m.wrap("scan expired", err)
	}
	return ids, nil
}

// Count returns the collection's document count.
func (m *MongoStore) Count(ctx context.Context) (int64, error) {
	ctx, cancel := opContext(ctx, m.timeout)
	defer cancel()

	n, err := m.collection.CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, m.wrap("count", err)
	}
	return n, nil
}

// Close closes the MongoDB connection
func (m *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return m.client.Disconnect(ctx)
}

func (m *MongoStore) wrap(op string, err error) error {
	if errors.Is(err, mongo.ErrClientDisconnected) {
		return ErrClosed
	}
	return unavailable(op, err)
}
