package model

// SessionType governs migration eligibility: voucher sessions are bound
// permanently to the hardware address that created them.
type SessionType string

const (
	SessionTypeCoin    SessionType = "coin"
	SessionTypeVoucher SessionType = "voucher"
	SessionTypeMixed   SessionType = "mixed"
)

// Transferable reports whether a session of this type may follow its token
// onto a different hardware address.
func (t SessionType) Transferable() bool {
	return t != SessionTypeVoucher
}
