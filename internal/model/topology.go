package model

// Network topology rows are admin-authored elsewhere; the boot reconciler
// only reads them to bring interfaces up before per-session rules apply.

type Bridge struct {
	Name    string `db:"name" json:"name"`
	Address string `db:"address" json:"address"`
	Ports   string `db:"ports" json:"ports"` // space-separated member interfaces
}

type VLAN struct {
	Name    string `db:"name" json:"name"`
	Parent  string `db:"parent" json:"parent"`
	VLANID  int    `db:"vlan_id" json:"vlanId"`
	Address string `db:"address" json:"address"`
}

type HotspotScope struct {
	Interface  string `db:"interface" json:"interface"`
	RangeStart string `db:"range_start" json:"rangeStart"`
	RangeEnd   string `db:"range_end" json:"rangeEnd"`
	LeaseHours int    `db:"lease_hours" json:"leaseHours"`
	DNSServer  string `db:"dns_server" json:"dnsServer"`
}

type WirelessAP struct {
	Interface  string `db:"interface" json:"interface"`
	SSID       string `db:"ssid" json:"ssid"`
	Channel    int    `db:"channel" json:"channel"`
	Passphrase string `db:"passphrase" json:"passphrase"`
}

type QoSSetting struct {
	Interface     string `db:"interface" json:"interface"`
	TotalDownKbps int    `db:"total_down_kbps" json:"totalDownKbps"`
	TotalUpKbps   int    `db:"total_up_kbps" json:"totalUpKbps"`
}
