package tokens

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/thinkmaps/thinkmaps/pkg/database"
	"github.com/thinkmaps/thinkmaps/pkg/models"
)

// PostgresStore persists usage batches into the token_usage table with a
// single COPY per batch.
type PostgresStore struct {
	db *database.Client
}

func NewPostgresStore(db *database.Client) *PostgresStore {
	return &PostgresStore{db: db}
}

var usageColumns = []string{
	"user_id",
	"org_id",
	"api_key_id",
	"session_id",
	"conversation_id",
	"model_provider",
	"model_name",
	"model_alias",
	"input_tokens",
	"output_tokens",
	"total_tokens",
	"input_cost",
	"output_cost",
	"total_cost",
	"request_type",
	"diagram_type",
	"endpoint_path",
	"success",
	"response_time_ms",
	"created_at",
}

// InsertUsageBatch bulk-inserts a batch of usage records.
func (s *PostgresStore) InsertUsageBatch(ctx context.Context, records []models.UsageRecord) error {
	if len(records) == 0 {
		return nil
	}

	rows := make([][]any, 0, len(records))
	for _, rec := range records {
		rows = append(rows, []any{
			rec.UserID,
			rec.OrgID,
			rec.APIKeyID,
			rec.SessionID,
			rec.ConversationID,
			rec.ModelProvider,
			rec.ModelName,
			rec.ModelAlias,
			rec.InputTokens,
			rec.OutputTokens,
			rec.TotalTokens,
			rec.InputCost,
			rec.OutputCost,
			rec.TotalCost,
			rec.RequestType,
			rec.DiagramType,
			rec.EndpointPath,
			rec.Success,
			rec.ResponseTime.Milliseconds(),
			rec.CreatedAt,
		})
	}

	_, err := s.db.Pool().CopyFrom(ctx,
		pgx.Identifier{"token_usage"},
		usageColumns,
		pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to insert usage batch: %w", err)
	}
	return nil
}
