package persistence

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func TestNewMongoDB_Defaults(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	// Connecting is lazy, no server is contacted here.
	client, err := mongo.Connect(context.Background(), options.Client().ApplyURI("mongodb://localhost:27017"))
	require.NoError(t, err)
	defer func() { _ = client.Disconnect(context.Background()) }()

	db := newMongoDB(logger, client, "journal", 0)
	assert.Equal(t, "journal", db.Database().Name())
	assert.Equal(t, 5*time.Second, db.timeout)

	db = newMongoDB(logger, client, "journal", time.Second)
	assert.Equal(t, time.Second, db.timeout)
}
