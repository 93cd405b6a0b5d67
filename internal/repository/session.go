package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/wifidoor/gateway-server-go/internal/model"
)

type SessionRepository interface {
	FindByMAC(ctx context.Context, mac string) (*model.Session, error)
	FindByToken(ctx context.Context, token string) (*model.Session, error)
	// UpsertGrant additively merges credit into an existing row or inserts a
	// new one. New credit adds to remaining time rather than overwriting it.
	UpsertGrant(ctx context.Context, params model.GrantParams) (*model.Session, error)
	UpdateAddress(ctx context.Context, mac, ip string) error
	SetToken(ctx context.Context, mac, token string, expiresAt time.Time) error
	SetPaused(ctx context.Context, mac string, paused bool) error
	Delete(ctx context.Context, mac string) error
	// DecrementActive subtracts one second from every active unpaused row.
	DecrementActive(ctx context.Context) (int64, error)
	// ListExpired returns rows whose countdown has reached zero.
	ListExpired(ctx context.Context) ([]model.Session, error)
	ListActive(ctx context.Context) ([]model.Session, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) SessionRepository
}

type sessionRepo struct {
	db queryer
}

func NewSessionRepository(db *sqlx.DB) SessionRepository {
	return &sessionRepo{db: db}
}

func (r *sessionRepo) WithTx(tx *sqlx.Tx) SessionRepository {
	return &sessionRepo{db: tx}
}

func (r *sessionRepo) FindByMAC(ctx context.Context, mac string) (*model.Session, error) {
	var session model.Session
	err := r.db.GetContext(ctx, &session, `
		SELECT * FROM sessions WHERE mac_address = $1
	`, mac)
	return HandleNotFound(&session, err)
}

func (r *sessionRepo) FindByToken(ctx context.Context, token string) (*model.Session, error) {
	var session model.Session
	err := r.db.GetContext(ctx, &session, `
		SELECT * FROM sessions WHERE token = $1
	`, token)
	return HandleNotFound(&session, err)
}

func (r *sessionRepo) UpsertGrant(ctx context.Context, params model.GrantParams) (*model.Session, error) {
	var session model.Session
	err := r.db.GetContext(ctx, &session, `
		INSERT INTO sessions (
			mac_address, ip_address, remaining_seconds, total_paid,
			download_kbps, upload_kbps, session_type, voucher_code
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (mac_address) DO UPDATE SET
			ip_address        = EXCLUDED.ip_address,
			remaining_seconds = sessions.remaining_seconds + EXCLUDED.remaining_seconds,
			total_paid        = sessions.total_paid + EXCLUDED.total_paid,
			download_kbps     = EXCLUDED.download_kbps,
			upload_kbps       = EXCLUDED.upload_kbps,
			session_type      = CASE
				WHEN sessions.session_type = EXCLUDED.session_type THEN sessions.session_type
				ELSE 'mixed'
			END,
			voucher_code      = COALESCE(EXCLUDED.voucher_code, sessions.voucher_code),
			updated_at        = NOW()
		RETURNING *
	`, params.MACAddress, params.IPAddress, params.ExtraSeconds, params.ExtraPaid,
		params.DownloadKbps, params.UploadKbps, params.SessionType, params.VoucherCode)
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *sessionRepo) UpdateAddress(ctx context.Context, mac, ip string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET ip_address = $2, updated_at = NOW()
		WHERE mac_address = $1
	`, mac, ip)
	return err
}

func (r *sessionRepo) SetToken(ctx context.Context, mac, token string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET token = $2, token_expires_at = $3, updated_at = NOW()
		WHERE mac_address = $1
	`, mac, token, expiresAt)
	return err
}

func (r *sessionRepo) SetPaused(ctx context.Context, mac string, paused bool) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET is_paused = $2, updated_at = NOW()
		WHERE mac_address = $1
	`, mac, paused)
	return err
}

func (r *sessionRepo) Delete(ctx context.Context, mac string) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM sessions WHERE mac_address = $1
	`, mac)
	return err
}

func (r *sessionRepo) DecrementActive(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET
			remaining_seconds = remaining_seconds - 1,
			updated_at = NOW()
		WHERE remaining_seconds > 0 AND NOT is_paused
	`)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *sessionRepo) ListExpired(ctx context.Context) ([]model.Session, error) {
	sessions := []model.Session{}
	err := r.db.SelectContext(ctx, &sessions, `
		SELECT * FROM sessions WHERE remaining_seconds <= 0
	`)
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

func (r *sessionRepo) ListActive(ctx context.Context) ([]model.Session, error) {
	sessions := []model.Session{}
	err := r.db.SelectContext(ctx, &sessions, `
		SELECT * FROM sessions WHERE remaining_seconds > 0
	`)
	if err != nil {
		return nil, err
	}
	return sessions, nil
}
