package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"github.com/acme/sms-campaign-dispatch/internal/domain"
	"github.com/acme/sms-campaign-dispatch/internal/repository"
)

// ClientRepository implements repository.ClientRepository using PostgreSQL.
type ClientRepository struct {
	db *sqlx.DB
}

// NewClientRepository constructs a new repository.
func NewClientRepository(db *sqlx.DB) *ClientRepository {
	return &ClientRepository{db: db}
}

const clientColumns = `id, tenant_id, name, phone, category_id, created_at, updated_at`

// Create inserts the client and its tag links. A duplicate phone within the
// tenant surfaces as ErrConflict.
func (r *ClientRepository) Create(ctx context.Context, client *domain.Client) error {
	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		q := `INSERT INTO clients (id, tenant_id, name, phone, category_id, created_at, updated_at)
			VALUES (:id, :tenant_id, :name, :phone, :category_id, :created_at, :updated_at)`

		if _, err := tx.NamedExecContext(ctx, q, map[string]any{
			"id":          client.ID,
			"tenant_id":   client.TenantID,
			"name":        client.Name,
			"phone":       client.Phone,
			"category_id": client.CategoryID,
			"created_at":  client.CreatedAt,
			"updated_at":  client.UpdatedAt,
		}); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: phone %s already registered", repository.ErrConflict, client.Phone)
			}
			return fmt.Errorf("client repo: insert: %w", err)
		}

		for _, tagID := range client.TagIDs {
			if _, err := tx.ExecContext(ctx, `INSERT INTO client_tags (client_id, tag_id)
				VALUES ($1, $2) ON CONFLICT DO NOTHING`, client.ID, tagID); err != nil {
				return fmt.Errorf("client repo: attach tag: %w", err)
			}
		}
		return nil
	})
}

// Get fetches a client scoped to its owning tenant.
func (r *ClientRepository) Get(ctx context.Context, tenantID, id uuid.UUID) (*domain.Client, error) {
	row := r.db.QueryRowxContext(ctx, `SELECT `+clientColumns+` FROM clients
		WHERE id = $1 AND tenant_id = $2`, id, tenantID)

	var rec clientRecord
	if err := row.StructScan(&rec); err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("client repo: get: %w", err)
	}

	client := rec.toDomain()
	tags, err := r.tagLinks(ctx, []uuid.UUID{client.ID})
	if err != nil {
		return nil, err
	}
	client.TagIDs = tags[client.ID]
	return &client, nil
}

// List returns the tenant's clients with keyset pagination.
func (r *ClientRepository) List(ctx context.Context, tenantID uuid.UUID, afterID *uuid.UUID, limit int) ([]*domain.Client, error) {
	if limit <= 0 {
		limit = 50
	}

	var rows *sqlx.Rows
	var err error
	if afterID != nil {
		rows, err = r.db.QueryxContext(ctx, `SELECT `+clientColumns+` FROM clients
			WHERE tenant_id = $1 AND id > $2 ORDER BY id ASC LIMIT $3`, tenantID, *afterID, limit)
	} else {
		rows, err = r.db.QueryxContext(ctx, `SELECT `+clientColumns+` FROM clients
			WHERE tenant_id = $1 ORDER BY id ASC LIMIT $2`, tenantID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("client repo: list: %w", err)
	}
	defer rows.Close()

	var results []*domain.Client
	ids := make([]uuid.UUID, 0)
	for rows.Next() {
		var rec clientRecord
		if err := rows.StructScan(&rec); err != nil {
			return nil, fmt.Errorf("client repo: scan: %w", err)
		}
		client := rec.toDomain()
		results = append(results, &client)
		ids = append(ids, client.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("client repo: rows err: %w", err)
	}

	tags, err := r.tagLinks(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, client := range results {
		client.TagIDs = tags[client.ID]
	}
	return results, nil
}

// ResolveIDs returns the subset of ids owned by the tenant, deduplicated by
// the query itself.
func (r *ClientRepository) ResolveIDs(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]uuid.UUID, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := r.db.QueryxContext(ctx, `SELECT DISTINCT id FROM clients
		WHERE tenant_id = $1 AND id = ANY($2)`, tenantID, ids)
	if err != nil {
		return nil, fmt.Errorf("client repo: resolve ids: %w", err)
	}
	defer rows.Close()

	return scanIDs(rows)
}

// ResolveFilter returns ids of the tenant's clients matching any of the tags
// or any of the categories. Tag and category criteria combine as a union.
func (r *ClientRepository) ResolveFilter(ctx context.Context, tenantID uuid.UUID, criteria domain.FilterCriteria) ([]uuid.UUID, error) {
	if criteria.Empty() {
		return nil, nil
	}

	rows, err := r.db.QueryxContext(ctx, `SELECT DISTINCT c.id FROM clients c
		LEFT JOIN client_tags ct ON ct.client_id = c.id
		WHERE c.tenant_id = $1
		  AND (ct.tag_id = ANY($2) OR c.category_id = ANY($3))`,
		tenantID, criteria.TagIDs, criteria.CategoryIDs)
	if err != nil {
		return nil, fmt.Errorf("client repo: resolve filter: %w", err)
	}
	defer rows.Close()

	return scanIDs(rows)
}

func (r *ClientRepository) tagLinks(ctx context.Context, clientIDs []uuid.UUID) (map[uuid.UUID][]uuid.UUID, error) {
	result := make(map[uuid.UUID][]uuid.UUID, len(clientIDs))
	if len(clientIDs) == 0 {
		return result, nil
	}

	rows, err := r.db.QueryxContext(ctx, `SELECT client_id, tag_id FROM client_tags
		WHERE client_id = ANY($1)`, clientIDs)
	if err != nil {
		return nil, fmt.Errorf("client repo: tag links: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var clientID, tagID uuid.UUID
		if err := rows.Scan(&clientID, &tagID); err != nil {
			return nil, fmt.Errorf("client repo: scan tag link: %w", err)
		}
		result[clientID] = append(result[clientID], tagID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("client repo: rows err: %w", err)
	}
	return result, nil
}

func scanIDs(rows *sqlx.Rows) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("client repo: scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("client repo: rows err: %w", err)
	}
	return ids, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

type clientRecord struct {
	ID         uuid.UUID    `db:"id"`
	TenantID   uuid.UUID    `db:"tenant_id"`
	Name       string       `db:"name"`
	Phone      string       `db:"phone"`
	CategoryID *uuid.UUID   `db:"category_id"`
	CreatedAt  sql.NullTime `db:"created_at"`
	UpdatedAt  sql.NullTime `db:"updated_at"`
}

func (r clientRecord) toDomain() domain.Client {
	client := domain.Client{
		ID:         r.ID,
		TenantID:   r.TenantID,
		Name:       r.Name,
		Phone:      r.Phone,
		CategoryID: r.CategoryID,
	}
	if r.CreatedAt.Valid {
		client.CreatedAt = r.CreatedAt.Time
	}
	if r.UpdatedAt.Valid {
		client.UpdatedAt = r.UpdatedAt.Time
	}
	return client
}
