package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	txDomain "github.com/davicafu/txpipeline/internal/transaction/domain"
)

// TransactionRepoMongoDB guarda un documento por transacción con _id = transactionId.
type TransactionRepoMongoDB struct {
	client *mongo.Client
	coll   *mongo.Collection
}

var _ txDomain.TransactionRepository = (*TransactionRepoMongoDB)(nil)

func NewTransactionRepoMongoDB(ctx context.Context, client *mongo.Client, dbName string) (*TransactionRepoMongoDB, error) {
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("could not ping mongoDB: %w", err)
	}
	return &TransactionRepoMongoDB{
		client: client,
		coll:   client.Database(dbName).Collection("transactions"),
	}, nil
}

// --- Structs de BSON para el mapeo ---
// Se definen localmente para no "contaminar" el dominio con tags de BSON.

type mongoTransaction struct {
	ID          string               `bson:"_id"`
	AccountID   string               `bson:"accountId"`
	Amount      primitive.Decimal128 `bson:"amount"`
	Currency    string               `bson:"currency"`
	Type        string               `bson:"type"`
	OccurredAt  time.Time            `bson:"occurredAt"`
	Description string               `bson:"description"`
}

func toMongoTransaction(e txDomain.TransactionEvent) (mongoTransaction, error) {
	amount, err := primitive.ParseDecimal128(e.Amount.String())
	if err != nil {
		return mongoTransaction{}, txDomain.Fatal("amount out of decimal128 range", err)
	}
	return mongoTransaction{
		ID:          e.ID.String(),
		AccountID:   e.AccountID,
		Amount:      amount,
		Currency:    e.Currency,
		Type:        string(e.Type),
		OccurredAt:  e.OccurredAt.UTC(),
		Description: e.Description,
	}, nil
}

func (m mongoTransaction) toDomain() (txDomain.PersistedTransaction, error) {
	id, err := uuid.Parse(m.ID)
	if err != nil {
		return txDomain.PersistedTransaction{}, fmt.Errorf("corrupt _id %q: %w", m.ID, err)
	}
	amount, err := decimal.NewFromString(m.Amount.String())
	if err != nil {
		return txDomain.PersistedTransaction{}, fmt.Errorf("corrupt amount for %s: %w", m.ID, err)
	}
	return txDomain.PersistedTransaction{
		ID:          id,
		AccountID:   m.AccountID,
		Amount:      amount,
		Currency:    m.Currency,
		Type:        txDomain.TxType(m.Type),
		OccurredAt:  m.OccurredAt.UTC(),
		Description: m.Description,
	}, nil
}

// InitSchema crea los índices de lectura; la colección se crea sola.
func (r *TransactionRepoMongoDB) InitSchema(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "accountId", Value: 1}}},
		{Keys: bson.D{{Key: "occurredAt", Value: -1}}},
	})
	return err
}

// Save reemplaza (o inserta) el documento completo: un upsert atómico por _id.
func (r *TransactionRepoMongoDB) Save(ctx context.Context, e txDomain.TransactionEvent) error {
	doc, err := toMongoTransaction(e)
	if err != nil {
		return err
	}
	_, err = r.coll.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return classifyError("save", err)
	}
	return nil
}

func (r *TransactionRepoMongoDB) ListRecent(ctx context.Context, limit int) ([]txDomain.PersistedTransaction, error) {
	opts := options.Find().SetSort(bson.D{{Key: "occurredAt", Value: -1}}).SetLimit(int64(limit))
	cursor, err := r.coll.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, classifyError("list", err)
	}
	defer cursor.Close(ctx)

	txs := make([]txDomain.PersistedTransaction, 0, limit)
	for cursor.Next(ctx) {
		var doc mongoTransaction
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		tx, err := doc.toDomain()
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	if err := cursor.Err(); err != nil {
		return nil, classifyError("list", err)
	}
	return txs, nil
}

func (r *TransactionRepoMongoDB) GetByID(ctx context.Context, id uuid.UUID) (*txDomain.PersistedTransaction, error) {
	var doc mongoTransaction
	err := r.coll.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, txDomain.ErrTransactionNotFound
	}
	if err != nil {
		return nil, classifyError("get", err)
	}
	tx, err := doc.toDomain()
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func (r *TransactionRepoMongoDB) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.client.Disconnect(ctx)
}

// Códigos de servidor que nunca se resuelven reintentando.
var fatalWriteCodes = map[int]bool{
	2:     true, // BadValue
	121:   true, // DocumentValidationFailure
	10334: true, // BSONObjectTooLarge
}

func classifyError(op string, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled),
		errors.Is(err, mongo.ErrClientDisconnected),
		mongo.IsNetworkError(err),
		mongo.IsTimeout(err):
		return txDomain.Retryable(op, err)
	}

	var we mongo.WriteException
	if errors.As(err, &we) {
		for _, e := range we.WriteErrors {
			if fatalWriteCodes[e.Code] {
				return txDomain.Fatal("mongodb "+op+" rejected", err)
			}
		}
		if we.WriteConcernError != nil {
			return txDomain.Retryable(op, err)
		}
	}

	var se mongo.ServerError
	if errors.As(err, &se) && se.HasErrorLabel("RetryableWriteError") {
		return txDomain.Retryable(op, err)
	}
	return fmt.Errorf("mongodb %s: %w", op, err)
}
