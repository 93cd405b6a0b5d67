package model

// Rate maps a paid denomination to minutes and bandwidth limits.
// 0 kbps means unlimited.
type Rate struct {
	ID           int     `db:"id" json:"id"`
	Amount       float64 `db:"amount" json:"amount"`
	Minutes      int     `db:"minutes" json:"minutes"`
	DownloadKbps int     `db:"download_kbps" json:"downloadKbps"`
	UploadKbps   int     `db:"upload_kbps" json:"uploadKbps"`
}
