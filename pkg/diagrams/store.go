package diagrams

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/thinkmaps/thinkmaps/pkg/database"
	"github.com/thinkmaps/thinkmaps/pkg/models"
)

// Store is the durable side of the diagram cache. Insert is idempotent so
// the sync worker can replay pending creates safely; Upsert covers dirty
// entries whose row may or may not exist yet.
type Store interface {
	Insert(ctx context.Context, d *models.Diagram) error
	Upsert(ctx context.Context, d *models.Diagram) error
	Get(ctx context.Context, userID, id string) (*models.Diagram, error)
	ListByUser(ctx context.Context, userID string) ([]*models.Diagram, error)
	CountByUser(ctx context.Context, userID string) (int, error)
}

// PostgresStore implements Store over the diagrams table.
type PostgresStore struct {
	db *database.Client
}

func NewPostgresStore(db *database.Client) *PostgresStore {
	return &PostgresStore{db: db}
}

const diagramColumns = `id, user_id, title, diagram_type, spec, language,
	COALESCE(thumbnail, ''), created_at, updated_at, is_deleted, is_pinned`

// Insert adds a diagram row, ignoring conflicts on id. A replayed pending
// create hitting an existing row is a no-op.
func (s *PostgresStore) Insert(ctx context.Context, d *models.Diagram) error {
	_, err := s.db.Pool().Exec(ctx, `
		INSERT INTO diagrams
			(id, user_id, title, diagram_type, spec, language, thumbnail,
			 created_at, updated_at, is_deleted, is_pinned)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING`,
		d.ID, d.UserID, d.Title, d.DiagramType, string(d.Spec), d.Language,
		d.Thumbnail, d.CreatedAt, d.UpdatedAt, d.IsDeleted, d.IsPinned)
	if err != nil {
		return fmt.Errorf("failed to insert diagram %s: %w", d.ID, err)
	}
	return nil
}

// Upsert writes the full diagram state, inserting the row if it is missing.
// CreatedAt is never overwritten on conflict.
func (s *PostgresStore) Upsert(ctx context.Context, d *models.Diagram) error {
	_, err := s.db.Pool().Exec(ctx, `
		INSERT INTO diagrams
			(id, user_id, title, diagram_type, spec, language, thumbnail,
			 created_at, updated_at, is_deleted, is_pinned)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			diagram_type = EXCLUDED.diagram_type,
			spec = EXCLUDED.spec,
			language = EXCLUDED.language,
			thumbnail = EXCLUDED.thumbnail,
			updated_at = EXCLUDED.updated_at,
			is_deleted = EXCLUDED.is_deleted,
			is_pinned = EXCLUDED.is_pinned`,
		d.ID, d.UserID, d.Title, d.DiagramType, string(d.Spec), d.Language,
		d.Thumbnail, d.CreatedAt, d.UpdatedAt, d.IsDeleted, d.IsPinned)
	if err != nil {
		return fmt.Errorf("failed to upsert diagram %s: %w", d.ID, err)
	}
	return nil
}

// Get returns one diagram, soft-deleted included.
func (s *PostgresStore) Get(ctx context.Context, userID, id string) (*models.Diagram, error) {
	row := s.db.Pool().QueryRow(ctx, `
		SELECT `+diagramColumns+`
		FROM diagrams
		WHERE id = $1 AND user_id = $2`, id, userID)

	d, err := scanDiagram(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get diagram %s: %w", id, err)
	}
	return d, nil
}

// ListByUser returns all non-deleted diagrams for a user in listing order.
func (s *PostgresStore) ListByUser(ctx context.Context, userID string) ([]*models.Diagram, error) {
	rows, err := s.db.Pool().Query(ctx, `
		SELECT `+diagramColumns+`
		FROM diagrams
		WHERE user_id = $1 AND is_deleted = FALSE
		ORDER BY is_pinned DESC, updated_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list diagrams for user %s: %w", userID, err)
	}
	defer rows.Close()

	var result []*models.Diagram
	for rows.Next() {
		d, err := scanDiagram(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan diagram row: %w", err)
		}
		result = append(result, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read diagram rows: %w", err)
	}
	return result, nil
}

// CountByUser counts non-deleted diagrams, the value the per-user quota is
// checked against.
func (s *PostgresStore) CountByUser(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.Pool().QueryRow(ctx, `
		SELECT COUNT(*) FROM diagrams
		WHERE user_id = $1 AND is_deleted = FALSE`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count diagrams for user %s: %w", userID, err)
	}
	return count, nil
}

func scanDiagram(row pgx.Row) (*models.Diagram, error) {
	var (
		d    models.Diagram
		spec string
	)
	err := row.Scan(&d.ID, &d.UserID, &d.Title, &d.DiagramType, &spec,
		&d.Language, &d.Thumbnail, &d.CreatedAt, &d.UpdatedAt,
		&d.IsDeleted, &d.IsPinned)
	if err != nil {
		return nil, err
	}
	d.Spec = []byte(spec)
	return &d, nil
}
