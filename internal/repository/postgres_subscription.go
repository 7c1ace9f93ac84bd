package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/metinatakli/paygate/internal/domain"
)

// PostgresSubscriptionRepository keeps the subscription as a JSON record next
// to the columns it is queried by.
type PostgresSubscriptionRepository struct {
	db *pgxpool.Pool
}

func NewPostgresSubscriptionRepository(db *pgxpool.Pool) *PostgresSubscriptionRepository {
	return &PostgresSubscriptionRepository{
		db: db,
	}
}

func (p *PostgresSubscriptionRepository) Save(ctx context.Context, subscription *domain.Subscription) error {
	record, err := domain.ToRecord(subscription)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO subscriptions (id, driver, customer_id, status, ended_at, data, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (id) DO UPDATE
		SET driver = EXCLUDED.driver,
			customer_id = EXCLUDED.customer_id,
			status = EXCLUDED.status,
			ended_at = EXCLUDED.ended_at,
			data = EXCLUDED.data,
			updated_at = NOW()
	`

	_, err = p.db.Exec(ctx,
		query,
		subscription.ID,
		subscription.Driver,
		subscription.CustomerID,
		subscription.Status,
		subscription.EndedAt,
		record,
	)

	return err
}

func (p *PostgresSubscriptionRepository) GetByID(ctx context.Context, id string) (*domain.Subscription, error) {
	var record domain.Record

	err := p.db.QueryRow(ctx, `SELECT data FROM subscriptions WHERE id = $1`, id).Scan(&record)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrRecordNotFound
		}
		return nil, err
	}

	subscription, err := domain.FromRecord[domain.Subscription](record)
	if err != nil {
		return nil, err
	}

	return &subscription, nil
}
