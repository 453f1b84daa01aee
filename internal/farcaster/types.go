package farcaster

import "strings"

// VerifiedAddresses holds a user's verified wallet addresses
type VerifiedAddresses struct {
	EthAddresses []string `json:"eth_addresses"`
}

// User is a Farcaster identity as returned by the hub API
type User struct {
	FID               int64             `json:"fid"`
	Username          string            `json:"username"`
	DisplayName       string            `json:"display_name"`
	PfpURL            string            `json:"pfp_url"`
	CustodyAddress    string            `json:"custody_address"`
	VerifiedAddresses VerifiedAddresses `json:"verified_addresses"`
}

// Wallets returns the custody address plus all verified addresses,
// lower-cased for comparison
func (u *User) Wallets() map[string]bool {
	wallets := make(map[string]bool, len(u.VerifiedAddresses.EthAddresses)+1)
	if u.CustodyAddress != "" {
		wallets[strings.ToLower(u.CustodyAddress)] = true
	}
	for _, addr := range u.VerifiedAddresses.EthAddresses {
		if addr != "" {
			wallets[strings.ToLower(addr)] = true
		}
	}
	return wallets
}

// Channel identifies the community a cast was posted in
type Channel struct {
	ID string `json:"id"`
}

// Cast is a Farcaster cast as returned by the hub API
type Cast struct {
	Hash      string   `json:"hash"`
	Text      string   `json:"text"`
	Author    User     `json:"author"`
	Channel   *Channel `json:"channel"`
	ParentURL string   `json:"parent_url"`
}

// castResponse wraps the single-cast endpoint payload
type castResponse struct {
	Cast *Cast `json:"cast"`
}

// bulkUsersByAddressResponse maps lower-cased address to matching users
type bulkUsersByAddressResponse map[string][]User
