package model

import "time"

// Session is the unit of admission: at most one row per hardware address.
// A row with remaining_seconds == 0 never exists; the ticker deletes it.
type Session struct {
	MACAddress       string      `db:"mac_address" json:"macAddress"`
	IPAddress        string      `db:"ip_address" json:"ipAddress"`
	RemainingSeconds int         `db:"remaining_seconds" json:"remainingSeconds"`
	TotalPaid        float64     `db:"total_paid" json:"totalPaid"`
	DownloadKbps     int         `db:"download_kbps" json:"downloadKbps"`
	UploadKbps       int         `db:"upload_kbps" json:"uploadKbps"`
	Token            *string     `db:"token" json:"-"`
	TokenExpiresAt   *time.Time  `db:"token_expires_at" json:"tokenExpiresAt,omitempty"`
	SessionType      SessionType `db:"session_type" json:"sessionType"`
	IsPaused         bool        `db:"is_paused" json:"isPaused"`
	VoucherCode      *string     `db:"voucher_code" json:"voucherCode,omitempty"`
	CreatedAt        time.Time   `db:"created_at" json:"createdAt"`
	UpdatedAt        time.Time   `db:"updated_at" json:"updatedAt"`
}

// TokenValid reports whether the session carries a migration token that has
// not yet passed its binding window.
func (s *Session) TokenValid(now time.Time) bool {
	return s.Token != nil && s.TokenExpiresAt != nil && now.Before(*s.TokenExpiresAt)
}

type GrantParams struct {
	MACAddress   string
	IPAddress    string
	ExtraSeconds int
	ExtraPaid    float64
	DownloadKbps int
	UploadKbps   int
	SessionType  SessionType
	VoucherCode  *string
}
