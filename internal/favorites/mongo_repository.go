package favorites

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type favoriteDocument struct {
	ProductID string    `bson:"product_id"`
	AddedAt   time.Time `bson:"added_at"`
}

type favoritesDocument struct {
	UserID    string             `bson:"user_id"`
	Items     []favoriteDocument `bson:"items"`
	UpdatedAt time.Time          `bson:"updated_at"`
}

type mongoRepository struct {
	collection *mongo.Collection
}

func NewMongoRepository(db *mongo.Database) Repository {
	return &mongoRepository{collection: db.Collection("favorites")}
}

func (m *mongoRepository) List(ctx context.Context, userID string) ([]Favorite, error) {
	var doc favoritesDocument
	err := m.collection.FindOne(ctx, bson.M{"user_id": userID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return []Favorite{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get favorites: %w", err)
	}

	favs := make([]Favorite, 0, len(doc.Items))
	for _, it := range doc.Items {
		favs = append(favs, Favorite{ProductID: it.ProductID, AddedAt: it.AddedAt})
	}
	return favs, nil
}

// Add pushes the product unless it is already present. With the unique
// user_id index, an upsert that misses because the product is there fails
// with a duplicate key error.
func (m *mongoRepository) Add(ctx context.Context, userID, productID string) error {
	now := time.Now()
	filter := bson.M{"user_id": userID, "items.product_id": bson.M{"$ne": productID}}
	update := bson.M{
		"$push": bson.M{"items": favoriteDocument{ProductID: productID, AddedAt: now}},
		"$set":  bson.M{"updated_at": now},
	}

	_, err := m.collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		return ErrAlreadyFavorite
	}
	if err != nil {
		return fmt.Errorf("failed to add favorite: %w", err)
	}
	return nil
}

func (m *mongoRepository) Remove(ctx context.Context, userID, productID string) error {
	filter := bson.M{"user_id": userID, "items.product_id": productID}
	update := bson.M{
		"$pull": bson.M{"items": bson.M{"product_id": productID}},
		"$set":  bson.M{"updated_at": time.Now()},
	}

	result, err := m.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to remove favorite: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrNotFavorite
	}
	return nil
}

func CreateIndexes(ctx context.Context, db *mongo.Database) error {
	index := mongo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	if _, err := db.Collection("favorites").Indexes().CreateOne(ctx, index); err != nil {
		return fmt.Errorf("failed to create favorites index: %w", err)
	}
	return nil
}
