package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/wifidoor/gateway-server-go/internal/model"
)

type VoucherRepository interface {
	FindByCode(ctx context.Context, code string) (*model.Voucher, error)
	// MarkUsed records redemption. Returns false when the code was already
	// used (the update matched no unused row).
	MarkUsed(ctx context.Context, code, usedBy string) (bool, error)
	WithTx(tx *sqlx.Tx) VoucherRepository
}

type voucherRepo struct {
	db queryer
}

func NewVoucherRepository(db *sqlx.DB) VoucherRepository {
	return &voucherRepo{db: db}
}

func (r *voucherRepo) WithTx(tx *sqlx.Tx) VoucherRepository {
	return &voucherRepo{db: tx}
}

func (r *voucherRepo) FindByCode(ctx context.Context, code string) (*model.Voucher, error) {
	var voucher model.Voucher
	err := r.db.GetContext(ctx, &voucher, `
		SELECT * FROM vouchers WHERE code = $1
	`, code)
	return HandleNotFound(&voucher, err)
}

func (r *voucherRepo) MarkUsed(ctx context.Context, code, usedBy string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE vouchers SET used_by = $2, used_at = NOW()
		WHERE code = $1 AND used_at IS NULL
	`, code, usedBy)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}
