package model

import "time"

type Voucher struct {
	Code      string     `db:"code" json:"code"`
	Minutes   int        `db:"minutes" json:"minutes"`
	Price     float64    `db:"price" json:"price"`
	UsedBy    *string    `db:"used_by" json:"usedBy,omitempty"`
	UsedAt    *time.Time `db:"used_at" json:"usedAt,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"createdAt"`
}

func (v *Voucher) Used() bool {
	return v.UsedAt != nil
}
