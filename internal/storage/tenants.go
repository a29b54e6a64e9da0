package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"merchant-guard/internal/domain"
)

const (
	storeColumns = `id, name, shop_domain, payment_account_id, notification_url, status, created_at, updated_at`

	insertStoreSQL = `INSERT INTO stores (` + storeColumns + `)
    VALUES ($1,$2,$3,$4,$5,$6,$7,$7);`

	getStoreSQL = `SELECT ` + storeColumns + ` FROM stores WHERE id = $1;`

	listStoresSQL = `SELECT ` + storeColumns + ` FROM stores
    WHERE ($1::boolean = false OR status = 'active')
    ORDER BY created_at;`
)

// InsertStore stores a tenant.
func (s *Store) InsertStore(ctx context.Context, store *domain.Store) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if err := store.Validate(); err != nil {
		return err
	}
	if store.ID == uuid.Nil {
		store.ID = uuid.New()
	}
	if store.CreatedAt.IsZero() {
		store.CreatedAt = time.Now().UTC()
	}
	store.UpdatedAt = store.CreatedAt

	if _, err := pool.Exec(ctx, insertStoreSQL,
		store.ID,
		store.Name,
		store.ShopDomain,
		store.PaymentAccountID,
		store.NotificationURL,
		string(store.Status),
		store.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert store: %w", err)
	}
	return nil
}

// GetStore loads a tenant.
func (s *Store) GetStore(ctx context.Context, id uuid.UUID) (domain.Store, error) {
	pool, err := s.getPool()
	if err != nil {
		return domain.Store{}, err
	}
	store, err := scanStore(pool.QueryRow(ctx, getStoreSQL, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Store{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Store{}, fmt.Errorf("get store: %w", err)
	}
	return store, nil
}

// ListStores lists tenants ordered by creation.
func (s *Store) ListStores(ctx context.Context, activeOnly bool) ([]domain.Store, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, listStoresSQL, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("list stores: %w", err)
	}
	defer rows.Close()

	stores := make([]domain.Store, 0)
	for rows.Next() {
		store, err := scanStore(rows)
		if err != nil {
			return nil, err
		}
		stores = append(stores, store)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return stores, nil
}

func scanStore(row scanner) (domain.Store, error) {
	var (
		store  domain.Store
		status string
	)
	if err := row.Scan(
		&store.ID,
		&store.Name,
		&store.ShopDomain,
		&store.PaymentAccountID,
		&store.NotificationURL,
		&status,
		&store.CreatedAt,
		&store.UpdatedAt,
	); err != nil {
		return domain.Store{}, err
	}
	store.Status = domain.StoreStatus(status)
	return store, nil
}
