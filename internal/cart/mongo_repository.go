package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AnuragParashar2000/ShoeKart/internal/domain"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type itemDocument struct {
	ProductID string    `bson:"product_id"`
	Size      int       `bson:"size"`
	Qty       int       `bson:"qty"`
	AddedAt   time.Time `bson:"added_at"`
}

type cartDocument struct {
	UserID     string         `bson:"user_id"`
	Items      []itemDocument `bson:"items"`
	TotalPrice float64        `bson:"total_price"`
	CreatedAt  time.Time      `bson:"created_at"`
	UpdatedAt  time.Time      `bson:"updated_at"`
}

func (d *cartDocument) toDomain() *domain.Cart {
	c := &domain.Cart{
		UserID:     d.UserID,
		Items:      make([]domain.CartItem, 0, len(d.Items)),
		TotalPrice: decimal.NewFromFloat(d.TotalPrice),
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}
	for _, it := range d.Items {
		c.Items = append(c.Items, domain.CartItem{ProductID: it.ProductID, Size: it.Size, Qty: it.Qty, AddedAt: it.AddedAt})
	}
	return c
}

type mongoRepository struct {
	collection *mongo.Collection
}

func NewMongoRepository(db *mongo.Database) Repository {
	return &mongoRepository{
		collection: db.Collection("carts"),
	}
}

func (m *mongoRepository) GetCart(ctx context.Context, userID string) (*domain.Cart, error) {
	var doc cartDocument

	err := m.collection.FindOne(ctx, bson.M{"user_id": userID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrCartNotFound
		}
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}

	return doc.toDomain(), nil
}

func (m *mongoRepository) AddItem(ctx context.Context, userID string, item domain.CartItem) error {
	now := time.Now()
	filter := bson.M{"user_id": userID}
	line := itemDocument{ProductID: item.ProductID, Size: item.Size, Qty: item.Qty, AddedAt: now}

	var existing cartDocument
	err := m.collection.FindOne(ctx, filter).Decode(&existing)
	if err != nil {
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return fmt.Errorf("failed to check existing cart: %w", err)
		}
		_, err = m.collection.InsertOne(ctx, cartDocument{
			UserID:    userID,
			Items:     []itemDocument{line},
			CreatedAt: now,
			UpdatedAt: now,
		})
		if err != nil {
			return fmt.Errorf("failed to create cart with item: %w", err)
		}
		return nil
	}

	itemExists := false
	for _, it := range existing.Items {
		if it.ProductID == item.ProductID && it.Size == item.Size {
			itemExists = true
			break
		}
	}

	if itemExists {
		update := bson.M{
			"$set": bson.M{
				"items.$[elem].qty":      item.Qty,
				"items.$[elem].added_at": now,
				"updated_at":             now,
			},
		}
		arrayFilters := options.Update().SetArrayFilters(options.ArrayFilters{
			Filters: []interface{}{
				bson.M{"elem.product_id": item.ProductID, "elem.size": item.Size},
			},
		})
		if _, err = m.collection.UpdateOne(ctx, filter, update, arrayFilters); err != nil {
			return fmt.Errorf("failed to update existing item: %w", err)
		}
		return nil
	}

	update := bson.M{
		"$push": bson.M{"items": line},
		"$set":  bson.M{"updated_at": now},
	}
	if _, err = m.collection.UpdateOne(ctx, filter, update); err != nil {
		return fmt.Errorf("failed to add new item: %w", err)
	}
	return nil
}

func (m *mongoRepository) RemoveItem(ctx context.Context, userID, productID string, size int) error {
	filter := bson.M{
		"user_id": userID,
		"items":   bson.M{"$elemMatch": bson.M{"product_id": productID, "size": size}},
	}
	update := bson.M{
		"$pull": bson.M{"items": bson.M{"product_id": productID, "size": size}},
		"$set":  bson.M{"updated_at": time.Now()},
	}

	result, err := m.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to remove item: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (m *mongoRepository) RemoveLines(ctx context.Context, userID string, lines []domain.StockLine, addedBefore time.Time) error {
	if len(lines) == 0 {
		return nil
	}
	match := make(bson.A, 0, len(lines))
	for _, l := range lines {
		match = append(match, bson.M{"product_id": l.ProductID, "size": l.Size})
	}
	update := bson.M{
		"$pull": bson.M{"items": bson.M{"$or": match, "added_at": bson.M{"$lte": addedBefore}}},
		"$set":  bson.M{"updated_at": time.Now()},
	}
	if _, err := m.collection.UpdateOne(ctx, bson.M{"user_id": userID}, update); err != nil {
		return fmt.Errorf("failed to remove ordered items: %w", err)
	}
	return nil
}

func (m *mongoRepository) SetTotal(ctx context.Context, userID string, total decimal.Decimal) error {
	update := bson.M{"$set": bson.M{"total_price": total.InexactFloat64(), "updated_at": time.Now()}}
	result, err := m.collection.UpdateOne(ctx, bson.M{"user_id": userID}, update)
	if err != nil {
		return fmt.Errorf("failed to set cart total: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrCartNotFound
	}
	return nil
}

func (m *mongoRepository) Clear(ctx context.Context, userID string) error {
	update := bson.M{"$set": bson.M{
		"items":       bson.A{},
		"total_price": 0,
		"updated_at":  time.Now(),
	}}
	if _, err := m.collection.UpdateOne(ctx, bson.M{"user_id": userID}, update); err != nil {
		return fmt.Errorf("failed to clear cart: %w", err)
	}
	return nil
}

// CreateIndexes makes user_id unique so concurrent first adds cannot create
// two carts for one user.
func CreateIndexes(ctx context.Context, db *mongo.Database) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}

	if _, err := db.Collection("carts").Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}
