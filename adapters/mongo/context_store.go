package mongo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/satriahrh/tutorloop/domain"
)

const (
	documentsCollection = "documents"
	queryResultLimit    = 5
)

type contextDocument struct {
	ID        string    `bson:"_id"`
	Content   string    `bson:"content"`
	CreatedAt time.Time `bson:"created_at"`
}

// ContextStore is a context store backed by a MongoDB text index
type ContextStore struct {
	collection *mongo.Collection
	logger     *zap.Logger
}

// NewContextStore creates the store and makes sure the text index exists
func NewContextStore(ctx context.Context, db *mongo.Database, logger *zap.Logger) (*ContextStore, error) {
	store := &ContextStore{
		collection: db.Collection(documentsCollection),
		logger:     logger,
	}
	if err := store.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *ContextStore) ensureIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "content", Value: "text"}},
		Options: options.Index().SetName("content_text"),
	})
	if err != nil {
		return fmt.Errorf("failed to create text index: %w", err)
	}
	return nil
}

// AddDocument implements repositories.ContextStore
func (s *ContextStore) AddDocument(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: empty document", domain.ErrUpload)
	}

	doc := contextDocument{
		ID:        uuid.New().String(),
		Content:   text,
		CreatedAt: time.Now(),
	}
	if _, err := s.collection.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrUpload, err)
	}
	return nil
}

// QueryRelevant implements repositories.ContextStore
func (s *ContextStore) QueryRelevant(ctx context.Context, text string) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return []string{}, nil
	}

	filter := bson.M{"$text": bson.M{"$search": text}}
	opts := options.Find().
		SetProjection(bson.M{"content": 1, "score": bson.M{"$meta": "textScore"}}).
		SetSort(bson.M{"score": bson.M{"$meta": "textScore"}}).
		SetLimit(queryResultLimit)

	cursor, err := s.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrRetrieval, err)
	}
	defer cursor.Close(ctx)

	results := make([]string, 0, queryResultLimit)
	for cursor.Next(ctx) {
		var doc contextDocument
		if err := cursor.Decode(&doc); err != nil {
			s.logger.Warn("Skipping undecodable context document", zap.Error(err))
			continue
		}
		results = append(results, doc.Content)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrRetrieval, err)
	}

	return results, nil
}
