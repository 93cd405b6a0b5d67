package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/wifidoor/gateway-server-go/internal/config"
	"github.com/wifidoor/gateway-server-go/internal/database"
	apperrors "github.com/wifidoor/gateway-server-go/internal/errors"
	"github.com/wifidoor/gateway-server-go/internal/model"
	"github.com/wifidoor/gateway-server-go/internal/repository"
	"github.com/wifidoor/gateway-server-go/internal/util"
)

// Enforcer is the slice of the enforcement layer the session engine needs.
// Its failures are logged and never abort a session mutation: the session
// row is the source of truth and rule state converges via the reconcile
// sweep and probe-triggered re-applies.
type Enforcer interface {
	Admit(ctx context.Context, mac, ip string, downKbps, upKbps int) error
	Revoke(ctx context.Context, mac, ip string) error
}

// TxRunner runs a function inside a database transaction. Satisfied by
// *database.DB.
type TxRunner interface {
	WithTx(ctx context.Context, fn database.TxFunc) error
}

type StartResult struct {
	MACAddress       string `json:"hardwareId"`
	Token            string `json:"token"`
	RemainingSeconds int    `json:"remainingSeconds"`
}

type RestoreResult struct {
	MACAddress       string `json:"hardwareId"`
	Migrated         bool   `json:"migrated"`
	RemainingSeconds int    `json:"remainingSeconds"`
}

type SessionService struct {
	db          TxRunner
	sessionRepo repository.SessionRepository
	rateRepo    repository.RateRepository
	voucherRepo repository.VoucherRepository
	enforcer    Enforcer
	locks       *LockMap
	tokenTTL    time.Duration

	// settleDelay separates retract-old from apply-new during an address
	// change or migration, so both rule sets are never live at once.
	settleDelay time.Duration
}

func NewSessionService(
	db TxRunner,
	sessionRepo repository.SessionRepository,
	rateRepo repository.RateRepository,
	voucherRepo repository.VoucherRepository,
	enforcer Enforcer,
	locks *LockMap,
	tokenTTL time.Duration,
) *SessionService {
	return &SessionService{
		db:          db,
		sessionRepo: sessionRepo,
		rateRepo:    rateRepo,
		voucherRepo: voucherRepo,
		enforcer:    enforcer,
		locks:       locks,
		tokenTTL:    tokenTTL,
		settleDelay: config.MigrationSettleDelay,
	}
}

// Get returns the session for a hardware address, or nil.
func (s *SessionService) Get(ctx context.Context, mac string) (*model.Session, error) {
	return s.sessionRepo.FindByMAC(ctx, mac)
}

// ListActive returns every session that still has time on the clock.
func (s *SessionService) ListActive(ctx context.Context) ([]model.Session, error) {
	return s.sessionRepo.ListActive(ctx)
}

// StartPaid credits a coin payment. Credit is additive: a top-up while a
// session is active extends it rather than replacing it.
func (s *SessionService) StartPaid(ctx context.Context, mac, ip string, amount float64, minutes int) (*StartResult, error) {
	unlock := s.locks.Lock(mac)
	defer unlock()

	downKbps, upKbps := s.lookupLimits(ctx, amount, minutes)

	session, err := s.grant(ctx, model.GrantParams{
		MACAddress:   mac,
		IPAddress:    ip,
		ExtraSeconds: minutes * 60,
		ExtraPaid:    amount,
		DownloadKbps: downKbps,
		UploadKbps:   upKbps,
		SessionType:  model.SessionTypeCoin,
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("mac", mac).Str("ip", ip).
		Float64("amount", amount).Int("minutes", minutes).
		Int("remainingSeconds", session.RemainingSeconds).
		Msg("coin session granted")

	return &StartResult{
		MACAddress:       session.MACAddress,
		Token:            derefToken(session.Token),
		RemainingSeconds: session.RemainingSeconds,
	}, nil
}

// RedeemVoucher consumes an unused voucher code and credits its minutes.
// The resulting session (when voucher-born) is permanently bound to this
// hardware address.
func (s *SessionService) RedeemVoucher(ctx context.Context, mac, ip, code string) (*StartResult, error) {
	unlock := s.locks.Lock(mac)
	defer unlock()

	var session *model.Session
	err := s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		vouchers := s.voucherRepo.WithTx(tx)
		sessions := s.sessionRepo.WithTx(tx)

		voucher, err := vouchers.FindByCode(ctx, code)
		if err != nil {
			return apperrors.Database(err)
		}
		if voucher == nil {
			return apperrors.VoucherNotFound()
		}

		used, err := vouchers.MarkUsed(ctx, code, mac)
		if err != nil {
			return apperrors.Database(err)
		}
		if !used {
			return apperrors.VoucherUsed()
		}

		session, err = s.grantWith(ctx, sessions, model.GrantParams{
			MACAddress:   mac,
			IPAddress:    ip,
			ExtraSeconds: voucher.Minutes * 60,
			ExtraPaid:    voucher.Price,
			SessionType:  model.SessionTypeVoucher,
			VoucherCode:  &voucher.Code,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.applyEnforcement(ctx, session)

	log.Info().Str("mac", mac).Str("code", code).
		Int("remainingSeconds", session.RemainingSeconds).
		Msg("voucher redeemed")

	return &StartResult{
		MACAddress:       session.MACAddress,
		Token:            derefToken(session.Token),
		RemainingSeconds: session.RemainingSeconds,
	}, nil
}

// Credit applies a grant from the coin hardware collaborator. Same primitive
// as StartPaid but invoked from the event channel rather than a request.
func (s *SessionService) Credit(ctx context.Context, mac, ip string, amount float64, minutes int) error {
	_, err := s.StartPaid(ctx, mac, ip, amount, minutes)
	return err
}

// Restore moves or re-binds a session by its migration token.
func (s *SessionService) Restore(ctx context.Context, token, observedMAC, observedIP string) (*RestoreResult, error) {
	owner, err := s.sessionRepo.FindByToken(ctx, token)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if owner == nil {
		return nil, apperrors.SessionNotFound()
	}
	if !owner.TokenValid(time.Now()) {
		return nil, apperrors.TokenExpired()
	}

	if owner.MACAddress == observedMAC {
		return s.restoreSameDevice(ctx, owner, observedIP)
	}

	if !owner.SessionType.Transferable() {
		return nil, apperrors.TransferDenied()
	}

	return s.migrate(ctx, owner, observedMAC, observedIP)
}

// restoreSameDevice re-applies enforcement on the owning device, following
// an address change when one happened. Remaining time is untouched.
func (s *SessionService) restoreSameDevice(ctx context.Context, owner *model.Session, observedIP string) (*RestoreResult, error) {
	unlock := s.locks.Lock(owner.MACAddress)
	defer unlock()

	// Re-read under the lock; the row may have expired or migrated while we
	// validated the token.
	current, err := s.sessionRepo.FindByMAC(ctx, owner.MACAddress)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if current == nil {
		return nil, apperrors.SessionNotFound()
	}

	if current.IPAddress != observedIP {
		if err := s.enforcer.Revoke(ctx, current.MACAddress, current.IPAddress); err != nil {
			log.Warn().Err(err).Msg("restore: revoke on old address failed")
		}
		time.Sleep(s.settleDelay)
		if err := s.sessionRepo.UpdateAddress(ctx, current.MACAddress, observedIP); err != nil {
			return nil, apperrors.Database(err)
		}
		current.IPAddress = observedIP
	}

	s.applyEnforcement(ctx, current)

	log.Info().Str("mac", current.MACAddress).Str("ip", observedIP).
		Msg("session restored on same device")

	return &RestoreResult{
		MACAddress:       current.MACAddress,
		Migrated:         false,
		RemainingSeconds: current.RemainingSeconds,
	}, nil
}

// migrate moves the session to a new hardware address. When the target
// already holds its own session, both balances merge into one row. The
// store transition is atomic; enforcement follows retract-then-apply with a
// settling delay so stale shaping classes never coexist with new ones.
func (s *SessionService) migrate(ctx context.Context, owner *model.Session, newMAC, newIP string) (*RestoreResult, error) {
	unlock := s.locks.LockPair(owner.MACAddress, newMAC)
	defer unlock()

	var (
		merged    *model.Session
		oldMAC    string
		oldIP     string
		targetOld *model.Session
	)

	err := s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		sessions := s.sessionRepo.WithTx(tx)

		// Re-read under the locks; the source may have expired meanwhile.
		source, err := sessions.FindByToken(ctx, derefToken(owner.Token))
		if err != nil {
			return apperrors.Database(err)
		}
		if source == nil {
			return apperrors.SessionNotFound()
		}
		// Re-validate under the locks; a missing expiry counts as expired so
		// the token transfer below always has a binding window to carry over.
		if !source.TokenValid(time.Now()) {
			return apperrors.TokenExpired()
		}

		target, err := sessions.FindByMAC(ctx, newMAC)
		if err != nil {
			return apperrors.Database(err)
		}
		targetOld = target

		combinedSeconds := source.RemainingSeconds
		combinedPaid := source.TotalPaid
		sessionType := source.SessionType
		if target != nil {
			combinedSeconds += target.RemainingSeconds
			combinedPaid += target.TotalPaid
			if target.SessionType != source.SessionType {
				sessionType = model.SessionTypeMixed
			}
			if err := sessions.Delete(ctx, target.MACAddress); err != nil {
				return apperrors.Database(err)
			}
		}

		oldMAC = source.MACAddress
		oldIP = source.IPAddress
		if err := sessions.Delete(ctx, source.MACAddress); err != nil {
			return apperrors.Database(err)
		}

		merged, err = sessions.UpsertGrant(ctx, model.GrantParams{
			MACAddress:   newMAC,
			IPAddress:    newIP,
			ExtraSeconds: combinedSeconds,
			ExtraPaid:    combinedPaid,
			DownloadKbps: source.DownloadKbps,
			UploadKbps:   source.UploadKbps,
			SessionType:  sessionType,
			VoucherCode:  source.VoucherCode,
		})
		if err != nil {
			return apperrors.Database(err)
		}

		// The token follows the session, keeping its original binding window.
		if err := sessions.SetToken(ctx, newMAC, derefToken(source.Token), *source.TokenExpiresAt); err != nil {
			return apperrors.Database(err)
		}
		merged.Token = source.Token
		merged.TokenExpiresAt = source.TokenExpiresAt
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.enforcer.Revoke(ctx, oldMAC, oldIP); err != nil {
		log.Warn().Err(err).Str("mac", oldMAC).Msg("migrate: revoke on old device failed")
	}
	if targetOld != nil && targetOld.IPAddress != newIP {
		if err := s.enforcer.Revoke(ctx, targetOld.MACAddress, targetOld.IPAddress); err != nil {
			log.Warn().Err(err).Str("mac", targetOld.MACAddress).Msg("migrate: revoke of merged target failed")
		}
	}
	time.Sleep(s.settleDelay)
	s.applyEnforcement(ctx, merged)

	log.Info().Str("fromMac", oldMAC).Str("toMac", newMAC).
		Int("remainingSeconds", merged.RemainingSeconds).
		Bool("merged", targetOld != nil).
		Msg("session migrated")

	return &RestoreResult{
		MACAddress:       newMAC,
		Migrated:         true,
		RemainingSeconds: merged.RemainingSeconds,
	}, nil
}

// ReapplyAddress follows a device that roamed to a new address without its
// hardware address changing. Invoked from the portal middleware before the
// probe is answered.
func (s *SessionService) ReapplyAddress(ctx context.Context, mac, observedIP string) error {
	unlock := s.locks.Lock(mac)
	defer unlock()

	session, err := s.sessionRepo.FindByMAC(ctx, mac)
	if err != nil {
		return apperrors.Database(err)
	}
	if session == nil || session.IPAddress == observedIP {
		return nil
	}

	if err := s.enforcer.Revoke(ctx, mac, session.IPAddress); err != nil {
		log.Warn().Err(err).Str("mac", mac).Msg("reapply: revoke on old address failed")
	}
	time.Sleep(s.settleDelay)

	if err := s.sessionRepo.UpdateAddress(ctx, mac, observedIP); err != nil {
		return apperrors.Database(err)
	}
	session.IPAddress = observedIP
	s.applyEnforcement(ctx, session)

	log.Info().Str("mac", mac).Str("ip", observedIP).Msg("enforcement re-applied after address change")
	return nil
}

// AddTime is the admin top-up. The session must exist.
func (s *SessionService) AddTime(ctx context.Context, mac string, minutes int) (*model.Session, error) {
	unlock := s.locks.Lock(mac)
	defer unlock()

	existing, err := s.sessionRepo.FindByMAC(ctx, mac)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if existing == nil {
		return nil, apperrors.SessionNotFound()
	}

	session, err := s.grant(ctx, model.GrantParams{
		MACAddress:   mac,
		IPAddress:    existing.IPAddress,
		ExtraSeconds: minutes * 60,
		DownloadKbps: existing.DownloadKbps,
		UploadKbps:   existing.UploadKbps,
		SessionType:  existing.SessionType,
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("mac", mac).Int("minutes", minutes).Msg("admin time added")
	return session, nil
}

// Disconnect revokes and deletes a session immediately.
func (s *SessionService) Disconnect(ctx context.Context, mac string) error {
	unlock := s.locks.Lock(mac)
	defer unlock()

	session, err := s.sessionRepo.FindByMAC(ctx, mac)
	if err != nil {
		return apperrors.Database(err)
	}
	if session == nil {
		return apperrors.SessionNotFound()
	}

	if err := s.enforcer.Revoke(ctx, session.MACAddress, session.IPAddress); err != nil {
		log.Warn().Err(err).Str("mac", mac).Msg("disconnect: revoke failed")
	}
	if err := s.sessionRepo.Delete(ctx, mac); err != nil {
		return apperrors.Database(err)
	}

	log.Info().Str("mac", mac).Msg("session disconnected by admin")
	return nil
}

// SetPaused stops or resumes the countdown. Paused sessions also lose
// connectivity; their time is preserved.
func (s *SessionService) SetPaused(ctx context.Context, mac string, paused bool) error {
	unlock := s.locks.Lock(mac)
	defer unlock()

	session, err := s.sessionRepo.FindByMAC(ctx, mac)
	if err != nil {
		return apperrors.Database(err)
	}
	if session == nil {
		return apperrors.SessionNotFound()
	}

	if err := s.sessionRepo.SetPaused(ctx, mac, paused); err != nil {
		return apperrors.Database(err)
	}

	if paused {
		if err := s.enforcer.Revoke(ctx, session.MACAddress, session.IPAddress); err != nil {
			log.Warn().Err(err).Str("mac", mac).Msg("pause: revoke failed")
		}
	} else {
		s.applyEnforcement(ctx, session)
	}

	log.Info().Str("mac", mac).Bool("paused", paused).Msg("session pause state changed")
	return nil
}

// Expire reaps one session whose countdown reached zero. A session already
// gone, or refreshed by a grant that landed after the sweep read it, is left
// alone.
func (s *SessionService) Expire(ctx context.Context, mac string) error {
	unlock := s.locks.Lock(mac)
	defer unlock()

	session, err := s.sessionRepo.FindByMAC(ctx, mac)
	if err != nil {
		return apperrors.Database(err)
	}
	if session == nil || session.RemainingSeconds > 0 {
		return nil
	}

	if err := s.enforcer.Revoke(ctx, session.MACAddress, session.IPAddress); err != nil {
		log.Warn().Err(err).Str("mac", mac).Msg("expire: revoke failed")
	}
	if err := s.sessionRepo.Delete(ctx, mac); err != nil {
		return apperrors.Database(err)
	}

	log.Info().Str("mac", mac).Msg("session expired")
	return nil
}

// grant is the shared additive-credit primitive. Callers hold the MAC lock.
func (s *SessionService) grant(ctx context.Context, params model.GrantParams) (*model.Session, error) {
	session, err := s.grantWith(ctx, s.sessionRepo, params)
	if err != nil {
		return nil, err
	}
	s.applyEnforcement(ctx, session)
	return session, nil
}

func (s *SessionService) grantWith(ctx context.Context, sessions repository.SessionRepository, params model.GrantParams) (*model.Session, error) {
	session, err := sessions.UpsertGrant(ctx, params)
	if err != nil {
		return nil, apperrors.Database(err)
	}

	// Issue a migration token on first grant; an existing unexpired token is
	// reused so its binding window is never silently extended.
	if !session.TokenValid(time.Now()) {
		token, err := util.GenerateToken()
		if err != nil {
			return nil, apperrors.Internal(fmt.Sprintf("generate token: %v", err))
		}
		expiresAt := time.Now().Add(s.tokenTTL)
		if err := sessions.SetToken(ctx, session.MACAddress, token, expiresAt); err != nil {
			return nil, apperrors.Database(err)
		}
		session.Token = &token
		session.TokenExpiresAt = &expiresAt
		log.Debug().Str("mac", session.MACAddress).Str("token", util.MaskToken(token)).
			Time("expiresAt", expiresAt).Msg("migration token issued")
	}

	return session, nil
}

// applyEnforcement pushes the session onto the wire, logging failures. The
// user may simply need one more probe cycle before connectivity appears.
func (s *SessionService) applyEnforcement(ctx context.Context, session *model.Session) {
	if session.IsPaused {
		return
	}
	if err := s.enforcer.Admit(ctx, session.MACAddress, session.IPAddress,
		session.DownloadKbps, session.UploadKbps); err != nil {
		log.Warn().Err(err).Str("mac", session.MACAddress).Msg("enforcement apply failed; will converge")
	}
}

// lookupLimits resolves bandwidth limits: exact (amount, minutes) rate,
// then amount-only, then unlimited.
func (s *SessionService) lookupLimits(ctx context.Context, amount float64, minutes int) (int, int) {
	rate, err := s.rateRepo.FindByAmountAndMinutes(ctx, amount, minutes)
	if err != nil {
		log.Warn().Err(err).Msg("rate lookup failed")
		return 0, 0
	}
	if rate == nil {
		rate, err = s.rateRepo.FindByAmount(ctx, amount)
		if err != nil {
			log.Warn().Err(err).Msg("rate lookup failed")
			return 0, 0
		}
	}
	if rate == nil {
		return 0, 0
	}
	return rate.DownloadKbps, rate.UploadKbps
}

func derefToken(token *string) string {
	if token == nil {
		return ""
	}
	return *token
}
