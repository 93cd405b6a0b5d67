package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/wifidoor/gateway-server-go/internal/model"
)

type RateRepository interface {
	// FindByAmountAndMinutes returns the rate matching both the paid amount
	// and the granted minutes, or nil.
	FindByAmountAndMinutes(ctx context.Context, amount float64, minutes int) (*model.Rate, error)
	// FindByAmount returns the first rate matching the paid amount, or nil.
	FindByAmount(ctx context.Context, amount float64) (*model.Rate, error)
	List(ctx context.Context) ([]model.Rate, error)
}

type rateRepo struct {
	db queryer
}

func NewRateRepository(db *sqlx.DB) RateRepository {
	return &rateRepo{db: db}
}

func (r *rateRepo) FindByAmountAndMinutes(ctx context.Context, amount float64, minutes int) (*model.Rate, error) {
	var rate model.Rate
	err := r.db.GetContext(ctx, &rate, `
		SELECT * FROM rates WHERE amount = $1 AND minutes = $2
		ORDER BY id LIMIT 1
	`, amount, minutes)
	return HandleNotFound(&rate, err)
}

func (r *rateRepo) FindByAmount(ctx context.Context, amount float64) (*model.Rate, error) {
	var rate model.Rate
	err := r.db.GetContext(ctx, &rate, `
		SELECT * FROM rates WHERE amount = $1
		ORDER BY id LIMIT 1
	`, amount)
	return HandleNotFound(&rate, err)
}

func (r *rateRepo) List(ctx context.Context) ([]model.Rate, error) {
	rates := []model.Rate{}
	err := r.db.SelectContext(ctx, &rates, `
		SELECT * FROM rates ORDER BY amount, minutes
	`)
	if err != nil {
		return nil, err
	}
	return rates, nil
}
