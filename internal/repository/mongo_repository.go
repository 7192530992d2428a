package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// cartDocument is the stored form of a cart. Prices are kept as decimal
// strings so they round-trip exactly.
type cartDocument struct {
	SessionID string         `bson:"session_id"`
	Items     []itemDocument `bson:"items"`
	CreatedAt time.Time      `bson:"created_at"`
	UpdatedAt time.Time      `bson:"updated_at"`
}

type itemDocument struct {
	ProductID   int64  `bson:"product_id"`
	Title       string `bson:"title"`
	Description string `bson:"description"`
	Price       string `bson:"price"`
	Image       string `bson:"image"`
	Quantity    int    `bson:"quantity"`
}

// MongoRepository keeps one document per session in the "carts" collection.
type MongoRepository struct {
	collection *mongo.Collection
}

func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{
		collection: db.Collection("carts"),
	}
}

func (m *MongoRepository) GetCart(ctx context.Context, sessionID string) (*domain.Cart, error) {
	var doc cartDocument

	filter := bson.M{"session_id": sessionID}
	err := m.collection.FindOne(ctx, filter).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrCartNotFound
		}
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}

	return fromDocument(doc)
}

func (m *MongoRepository) SaveCart(ctx context.Context, cart *domain.Cart) error {
	now := time.Now().UTC()
	if cart.CreatedAt.IsZero() {
		cart.CreatedAt = now
	}
	cart.UpdatedAt = now

	doc := toDocument(cart)
	filter := bson.M{"session_id": cart.SessionID}
	update := bson.M{
		"$set": bson.M{
			"items":      doc.Items,
			"updated_at": doc.UpdatedAt,
		},
		"$setOnInsert": bson.M{
			"session_id": doc.SessionID,
			"created_at": doc.CreatedAt,
		},
	}
	opts := options.Update().SetUpsert(true)

	if _, err := m.collection.UpdateOne(ctx, filter, update, opts); err != nil {
		return fmt.Errorf("failed to save cart: %w", err)
	}
	return nil
}

func (m *MongoRepository) DeleteCart(ctx context.Context, sessionID string) error {
	filter := bson.M{"session_id": sessionID}

	result, err := m.collection.DeleteOne(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to delete cart: %w", err)
	}

	if result.DeletedCount == 0 {
		return ErrCartNotFound
	}
	return nil
}

func (m *MongoRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "session_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "updated_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(90 * 24 * 60 * 60), // 90 days TTL
		},
	}

	if _, err := m.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

func toDocument(cart *domain.Cart) cartDocument {
	items := make([]itemDocument, len(cart.Items))
	for i, item := range cart.Items {
		items[i] = itemDocument{
			ProductID:   item.Product.ID,
			Title:       item.Product.Title,
			Description: item.Product.Description,
			Price:       item.Product.Price.String(),
			Image:       item.Product.Image,
			Quantity:    item.Quantity,
		}
	}
	return cartDocument{
		SessionID: cart.SessionID,
		Items:     items,
		CreatedAt: cart.CreatedAt,
		UpdatedAt: cart.UpdatedAt,
	}
}

func fromDocument(doc cartDocument) (*domain.Cart, error) {
	items := make([]domain.CartItem, len(doc.Items))
	for i, item := range doc.Items {
		price, err := decimal.NewFromString(item.Price)
		if err != nil {
			return nil, fmt.Errorf("invalid stored price for product %d: %w", item.ProductID, err)
		}
		items[i] = domain.CartItem{
			Product: domain.Product{
				ID:          item.ProductID,
				Title:       item.Title,
				Description: item.Description,
				Price:       price,
				Image:       item.Image,
			},
			Quantity: item.Quantity,
		}
	}
	return &domain.Cart{
		SessionID: doc.SessionID,
		Items:     items,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}, nil
}
