package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/AnuragParashar2000/ShoeKart/internal/domain"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const releaseAttempts = 3

type sizeQuantityDocument struct {
	Size     int `bson:"size"`
	Quantity int `bson:"quantity"`
}

type productDocument struct {
	ID           string                 `bson:"_id"`
	Name         string                 `bson:"name"`
	Brand        string                 `bson:"brand"`
	Image        string                 `bson:"image"`
	Price        float64                `bson:"price"`
	SizeQuantity []sizeQuantityDocument `bson:"sizeQuantity"`
}

func (d *productDocument) toDomain() *domain.Product {
	p := &domain.Product{
		ID:           d.ID,
		Name:         d.Name,
		Brand:        d.Brand,
		Image:        d.Image,
		Price:        decimal.NewFromFloat(d.Price),
		SizeQuantity: make([]domain.SizeQuantity, 0, len(d.SizeQuantity)),
	}
	for _, sq := range d.SizeQuantity {
		p.SizeQuantity = append(p.SizeQuantity, domain.SizeQuantity{Size: sq.Size, Quantity: sq.Quantity})
	}
	return p
}

func fromDomain(p *domain.Product) *productDocument {
	d := &productDocument{
		ID:           p.ID,
		Name:         p.Name,
		Brand:        p.Brand,
		Image:        p.Image,
		Price:        p.Price.InexactFloat64(),
		SizeQuantity: make([]sizeQuantityDocument, 0, len(p.SizeQuantity)),
	}
	for _, sq := range p.SizeQuantity {
		d.SizeQuantity = append(d.SizeQuantity, sizeQuantityDocument{Size: sq.Size, Quantity: sq.Quantity})
	}
	return d
}

// MongoStore keeps stock inside the product documents of the "products"
// collection.
type MongoStore struct {
	collection *mongo.Collection
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{collection: db.Collection("products")}
}

func (m *MongoStore) UpsertProduct(ctx context.Context, p *domain.Product) error {
	opts := options.Replace().SetUpsert(true)
	_, err := m.collection.ReplaceOne(ctx, bson.M{"_id": p.ID}, fromDomain(p), opts)
	if err != nil {
		return fmt.Errorf("failed to upsert product: %w", err)
	}
	return nil
}

func (m *MongoStore) GetProducts(ctx context.Context, ids []string) (map[string]*domain.Product, error) {
	result := make(map[string]*domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	cur, err := m.collection.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, fmt.Errorf("failed to find products: %w", err)
	}
	defer cur.Close(ctx)

	for cur.Next(ctx) {
		var doc productDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode product: %w", err)
		}
		result[doc.ID] = doc.toDomain()
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("product cursor error: %w", err)
	}
	return result, nil
}

func (m *MongoStore) Reserve(ctx context.Context, productID string, size, qty int) (int, error) {
	if qty <= 0 {
		return 0, ErrInvalidQuantity
	}

	var doc productDocument
	err := m.collection.FindOne(ctx, bson.M{"_id": productID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, ErrProductNotFound
		}
		return 0, fmt.Errorf("failed to get product: %w", err)
	}
	return min(qty, doc.toDomain().Available(size)), nil
}

// Commit is one conditional update: the filter only matches while the bucket
// holds at least qty, and the pipeline subtracts and drops empty buckets in
// the same write.
func (m *MongoStore) Commit(ctx context.Context, line domain.StockLine) error {
	if line.Qty <= 0 {
		return ErrInvalidQuantity
	}

	filter := bson.M{
		"_id": line.ProductID,
		"sizeQuantity": bson.M{"$elemMatch": bson.M{
			"size":     line.Size,
			"quantity": bson.M{"$gte": line.Qty},
		}},
	}

	decremented := bson.M{"$map": bson.M{
		"input": "$sizeQuantity",
		"as":    "sq",
		"in": bson.M{"$cond": bson.A{
			bson.M{"$eq": bson.A{"$$sq.size", line.Size}},
			bson.M{
				"size":     "$$sq.size",
				"quantity": bson.M{"$subtract": bson.A{"$$sq.quantity", line.Qty}},
			},
			"$$sq",
		}},
	}}

	update := mongo.Pipeline{
		bson.D{{Key: "$set", Value: bson.M{
			"sizeQuantity": bson.M{"$filter": bson.M{
				"input": decremented,
				"as":    "sq",
				"cond":  bson.M{"$gt": bson.A{"$$sq.quantity", 0}},
			}},
		}}},
	}

	result, err := m.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to commit stock: %w", err)
	}
	if result.MatchedCount == 1 {
		return nil
	}
	return m.missReason(ctx, line.ProductID, ErrInsufficientStock)
}

func (m *MongoStore) Release(ctx context.Context, line domain.StockLine) error {
	if line.Qty <= 0 {
		return ErrInvalidQuantity
	}

	for attempt := 0; attempt < releaseAttempts; attempt++ {
		inc, err := m.collection.UpdateOne(ctx,
			bson.M{"_id": line.ProductID, "sizeQuantity.size": line.Size},
			bson.M{"$inc": bson.M{"sizeQuantity.$.quantity": line.Qty}},
		)
		if err != nil {
			return fmt.Errorf("failed to release stock: %w", err)
		}
		if inc.MatchedCount == 1 {
			return nil
		}

		// The bucket was removed at zero; push it back unless another
		// release recreated it in between.
		push, err := m.collection.UpdateOne(ctx,
			bson.M{"_id": line.ProductID, "sizeQuantity.size": bson.M{"$ne": line.Size}},
			bson.M{"$push": bson.M{"sizeQuantity": bson.M{
				"$each": bson.A{sizeQuantityDocument{Size: line.Size, Quantity: line.Qty}},
				"$sort": bson.M{"size": 1},
			}}},
		)
		if err != nil {
			return fmt.Errorf("failed to restore size bucket: %w", err)
		}
		if push.MatchedCount == 1 {
			return nil
		}

		if err := m.missReason(ctx, line.ProductID, nil); err != nil {
			return err
		}
	}
	return fmt.Errorf("release %s/%d: bucket contended", line.ProductID, line.Size)
}

func (m *MongoStore) missReason(ctx context.Context, productID string, otherwise error) error {
	n, err := m.collection.CountDocuments(ctx, bson.M{"_id": productID})
	if err != nil {
		return fmt.Errorf("failed to count product: %w", err)
	}
	if n == 0 {
		return ErrProductNotFound
	}
	return otherwise
}
