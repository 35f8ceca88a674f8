package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jorgekeles/sistema-barberia/internal/db"
	"github.com/jorgekeles/sistema-barberia/internal/model"
)

// CatalogRepository manages the tenant's services and staff.
type CatalogRepository struct {
	pool *db.Pool
}

func NewCatalogRepository(pool *db.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

const serviceColumns = `
	id::text, tenant_id::text, name, duration_min, buffer_before_min, buffer_after_min,
	price::text, is_active, created_at, deleted_at
`

func (r *CatalogRepository) GetService(ctx context.Context, tenantID, serviceID string) (model.Service, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+serviceColumns+`
		FROM services
		WHERE tenant_id = $1 AND id = $2 AND deleted_at IS NULL
		LIMIT 1
	`, tenantID, serviceID)
	return scanService(row)
}

func (r *CatalogRepository) ListActiveServices(ctx context.Context, tenantID string, limit int) ([]model.Service, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+serviceColumns+`
		FROM services
		WHERE tenant_id = $1 AND is_active AND deleted_at IS NULL
		ORDER BY created_at ASC
		LIMIT $2
	`, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Service
	for rows.Next() {
		s, err := scanService(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *CatalogRepository) CreateService(ctx context.Context, s model.Service) (string, error) {
	id := uuid.NewString()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO services (id, tenant_id, name, duration_min, buffer_before_min, buffer_after_min, price, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, id, s.TenantID, s.Name, s.DurationMin, s.BufferBeforeMin, s.BufferAfterMin, s.Price, s.IsActive)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *CatalogRepository) UpdateService(ctx context.Context, s model.Service) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE services
		SET name = $3,
			duration_min = $4,
			buffer_before_min = $5,
			buffer_after_min = $6,
			price = $7,
			is_active = $8,
			updated_at = now()
		WHERE tenant_id = $1 AND id = $2 AND deleted_at IS NULL
	`, s.TenantID, s.ID, s.Name, s.DurationMin, s.BufferBeforeMin, s.BufferAfterMin, s.Price, s.IsActive)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// DeleteService tombstones the row; history and analytics keep referencing it.
func (r *CatalogRepository) DeleteService(ctx context.Context, tenantID, serviceID string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE services
		SET deleted_at = now(), is_active = false
		WHERE tenant_id = $1 AND id = $2 AND deleted_at IS NULL
	`, tenantID, serviceID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *CatalogRepository) ListActiveStaff(ctx context.Context, tenantID string) ([]model.Staff, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, tenant_id::text, full_name, is_active, created_at
		FROM users
		WHERE tenant_id = $1 AND is_active AND deleted_at IS NULL
		ORDER BY created_at ASC, id ASC
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Staff
	for rows.Next() {
		var s model.Staff
		if err := rows.Scan(&s.ID, &s.TenantID, &s.FullName, &s.IsActive, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *CatalogRepository) CreateStaff(ctx context.Context, tenantID, fullName string) (string, error) {
	id := uuid.NewString()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO users (id, tenant_id, full_name, role, is_active)
		VALUES ($1, $2, $3, 'staff', true)
	`, id, tenantID, fullName)
	if err != nil {
		return "", err
	}
	return id, nil
}

func scanService(row pgx.Row) (model.Service, error) {
	var s model.Service
	var deletedAt *time.Time
	err := row.Scan(
		&s.ID,
		&s.TenantID,
		&s.Name,
		&s.DurationMin,
		&s.BufferBeforeMin,
		&s.BufferAfterMin,
		&s.Price,
		&s.IsActive,
		&s.CreatedAt,
		&deletedAt,
	)
	if err != nil {
		return model.Service{}, err
	}
	s.DeletedAt = deletedAt
	return s, nil
}
