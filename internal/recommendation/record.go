// Package recommendation turns free-text agent replies into typed whiskey
// recommendation records.
package recommendation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Field defaults applied by Normalize.
const (
	PlaceholderImageURL = "/images/placeholder-whiskey.png"
	DefaultSpirit       = "Unknown"
	DefaultWhy          = "No additional information available"
	MaxProof            = 200
	unknownPriceLiteral = "UNKNOWN"
)

// Price is a recommendation price that may be unknown.
// Unknown prices serialize as the JSON string "UNKNOWN".
type Price struct {
	Amount float64
	Known  bool
}

// UnknownPrice is the zero Price.
var UnknownPrice = Price{}

// KnownPrice returns a Price carrying amount.
func KnownPrice(amount float64) Price {
	return Price{Amount: amount, Known: true}
}

// String renders the amount, or "UNKNOWN".
func (p Price) String() string {
	if !p.Known {
		return unknownPriceLiteral
	}
	return strconv.FormatFloat(p.Amount, 'f', -1, 64)
}

// MarshalJSON implements json.Marshaler.
func (p Price) MarshalJSON() ([]byte, error) {
	if !p.Known {
		return json.Marshal(unknownPriceLiteral)
	}
	return json.Marshal(p.Amount)
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *Price) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == unknownPriceLiteral {
			*p = UnknownPrice
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("parse price %q: %w", s, err)
		}
		*p = KnownPrice(v)
		return nil
	}
	if bytes.Equal(data, []byte("null")) {
		*p = UnknownPrice
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	if v < 0 {
		*p = UnknownPrice
		return nil
	}
	*p = KnownPrice(v)
	return nil
}

// Record is one normalized product suggestion.
type Record struct {
	Name     string `json:"name"`
	ImageURL string `json:"image_url"`
	Brand    string `json:"brand"`
	Spirit   string `json:"spirit"`
	Proof    int    `json:"proof"`
	Price    Price  `json:"price"`
	Why      string `json:"why"`
}

// Normalize applies field defaults and validation to r.
// Normalizing an already normalized record returns it unchanged.
func Normalize(r Record) Record {
	if !validImageURL(r.ImageURL) {
		r.ImageURL = PlaceholderImageURL
	}
	if r.Price.Known && r.Price.Amount < 0 {
		r.Price = UnknownPrice
	}
	if r.Spirit == "" {
		r.Spirit = DefaultSpirit
	}
	if r.Proof < 0 || r.Proof > MaxProof {
		r.Proof = 0
	}
	if r.Why == "" {
		r.Why = DefaultWhy
	}
	if r.Brand == "" {
		r.Brand = firstToken(r.Name)
	}
	return r
}

func validImageURL(u string) bool {
	return strings.HasPrefix(u, "http") && !strings.Contains(u, "undefined")
}

func firstToken(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
