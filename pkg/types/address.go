package types

import "strings"

// Address is a mailing address, stored as jsonb on the order row. Raw
// addresses come straight from intake; verified addresses are the normalized
// form returned by the verification provider.
type Address struct {
	Name       string  `json:"name,omitempty"`
	Line1      string  `json:"line1"`
	Line2      *string `json:"line2,omitempty"`
	City       string  `json:"city"`
	State      string  `json:"state"`
	PostalCode string  `json:"postal_code"`
	Country    string  `json:"country"`
}

// Complete reports whether the address carries every field dispatch requires.
func (a Address) Complete() bool {
	return strings.TrimSpace(a.Line1) != "" &&
		strings.TrimSpace(a.City) != "" &&
		strings.TrimSpace(a.State) != "" &&
		strings.TrimSpace(a.PostalCode) != ""
}
