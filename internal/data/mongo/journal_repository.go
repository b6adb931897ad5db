// Package mongo stores the transfer journal, the append only audit trail of
// every transfer state change relayed from the outbox.
package mongo

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/komunitin/komunitin-sub000/internal/domain/journal"
)

const (
	// JournalCollectionName is the name of the journal collection in MongoDB
	JournalCollectionName = "transfer_journal"
)

// JournalRepository implements the journal.Repository interface for MongoDB
type JournalRepository struct {
	db     *mongo.Database
	logger *slog.Logger
}

// NewJournalRepository creates a new MongoDB journal repository
func NewJournalRepository(logger *slog.Logger, db *mongo.Database) *JournalRepository {
	return &JournalRepository{
		db:     db,
		logger: logger,
	}
}

// EnsureIndexes creates the unique (transfer_id, state) index Append relies on
// and the index used to page through a currency history.
func (r *JournalRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.db.Collection(JournalCollectionName).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "transfer_id", Value: 1}, {Key: "state", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "currency", Value: 1}, {Key: "occurred_at", Value: -1}},
		},
	})
	if err != nil {
		r.logger.Error("Failed to create journal indexes", "error", err)
		return fmt.Errorf("failed to create journal indexes: %w", err)
	}
	return nil
}

// Append stores a state change. Relaying the same change twice yields
// ErrDuplicateEntry, which callers treat as success.
func (r *JournalRepository) Append(ctx context.Context, entry *journal.Entry) error {
	_, err := r.db.Collection(JournalCollectionName).InsertOne(ctx, entry)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return journal.ErrDuplicateEntry{TransferID: entry.TransferID, State: entry.State}
		}
		r.logger.Error("Failed to append journal entry",
			"transfer_id", entry.TransferID.String(),
			"state", entry.State,
			"error", err)
		return fmt.Errorf("failed to append journal entry: %w", err)
	}

	return nil
}

// ListByTransfer returns the history of one transfer, oldest first.
func (r *JournalRepository) ListByTransfer(ctx context.Context, transferID uuid.UUID) ([]*journal.Entry, error) {
	opts := options.Find().SetSort(bson.D{{Key: "occurred_at", Value: 1}})

	entries, err := r.find(ctx, bson.M{"transfer_id": transferID}, opts)
	if err != nil {
		r.logger.Error("Failed to get transfer journal",
			"transfer_id", transferID.String(),
			"error", err)
		return nil, fmt.Errorf("failed to get transfer journal: %w", err)
	}
	return entries, nil
}

// ListByCurrency retrieves paginated entries of a currency, newest first.
func (r *JournalRepository) ListByCurrency(ctx context.Context, currency string, limit, offset int) ([]*journal.Entry, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "occurred_at", Value: -1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))

	entries, err := r.find(ctx, bson.M{"currency": currency}, opts)
	if err != nil {
		r.logger.Error("Failed to get currency journal",
			"currency", currency,
			"error", err)
		return nil, fmt.Errorf("failed to get currency journal: %w", err)
	}
	return entries, nil
}

func (r *JournalRepository) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*journal.Entry, error) {
	cursor, err := r.db.Collection(JournalCollectionName).Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	entries := []*journal.Entry{}
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// CountByCurrency counts the journal entries of a currency
func (r *JournalRepository) CountByCurrency(ctx context.Context, currency string) (int64, error) {
	count, err := r.db.Collection(JournalCollectionName).CountDocuments(ctx, bson.M{"currency": currency})
	if err != nil {
		r.logger.Error("Failed to count journal entries",
			"currency", currency,
			"error", err)
		return 0, fmt.Errorf("failed to count journal entries: %w", err)
	}

	return count, nil
}

var _ journal.Repository = (*JournalRepository)(nil)
