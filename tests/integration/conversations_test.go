//go:build integration

package integration

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatrelay/config"
	"chatrelay/internal/conversation"
	"chatrelay/internal/conversation/conversationtest"
	"chatrelay/internal/core"
)

func postgresConfig() config.StorageConfig {
	return config.StorageConfig{
		Type:       "postgresql",
		PostgreSQL: config.PostgreSQLConfig{URL: pgURL, MaxConns: 4},
	}
}

// mongoConfig uses a database named after the test so runs never share state.
func mongoConfig(t *testing.T) config.StorageConfig {
	name := strings.NewReplacer("/", "_", " ", "_").Replace(strings.ToLower(t.Name()))
	return config.StorageConfig{
		Type:    "mongodb",
		MongoDB: config.MongoDBConfig{URL: mongoURL, Database: name},
	}
}

func resetPostgres(t *testing.T) {
	t.Helper()
	_, err := pgPool.Exec(testCtx, "DROP TABLE IF EXISTS conversations")
	require.NoError(t, err)
}

func openStore(t *testing.T, cfg config.StorageConfig) *conversation.Result {
	t.Helper()
	res, err := conversation.NewStore(testCtx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = res.Close() })
	return res
}

func TestPostgreSQLConversationStore(t *testing.T) {
	resetPostgres(t)
	conversationtest.RunStoreContract(t, openStore(t, postgresConfig()).Store)
}

func TestMongoDBConversationStore(t *testing.T) {
	conversationtest.RunStoreContract(t, openStore(t, mongoConfig(t)).Store)
}

// Conversations written through the manager survive a reopen with titles,
// message order and completion state intact.
func TestConversationsSurviveRestart(t *testing.T) {
	backends := map[string]func(t *testing.T) config.StorageConfig{
		"postgresql": func(t *testing.T) config.StorageConfig { resetPostgres(t); return postgresConfig() },
		"mongodb":    mongoConfig,
	}
	for name, cfgFn := range backends {
		t.Run(name, func(t *testing.T) {
			cfg := cfgFn(t)
			ctx := context.Background()

			first, err := conversation.NewStore(ctx, cfg)
			require.NoError(t, err)
			m, err := conversation.NewManager(ctx, first.Store, nil)
			require.NoError(t, err)

			id := m.Active()
			_, err = m.Append(ctx, id, core.Message{Role: core.RoleUser, Content: "Where should we go for the weekend?"})
			require.NoError(t, err)
			p, err := m.BeginAssistant(ctx, id)
			require.NoError(t, err)
			p.Write("The coast")
			p.Write(" is nice.")
			require.NoError(t, p.Finish(ctx, nil))

			other, err := m.Create(ctx)
			require.NoError(t, err)
			require.NoError(t, m.Rename(ctx, other.ID, "Groceries"))
			require.NoError(t, first.Close())

			second := openStore(t, cfg)
			restored, err := conversation.NewManager(ctx, second.Store, nil)
			require.NoError(t, err)

			list, active := restored.List()
			require.Len(t, list, 2)
			assert.Equal(t, other.ID, active)
			assert.Equal(t, "Groceries", list[0].Title)
			assert.Equal(t, "Where should we go for the wee...", list[1].Title)

			snap, err := restored.Get(ctx, id)
			require.NoError(t, err)
			require.Len(t, snap.Messages, 2)
			assert.Equal(t, "The coast is nice.", snap.Messages[1].Content)
			assert.False(t, snap.Messages[1].Streaming)
		})
	}
}
