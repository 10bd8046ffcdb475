package gamma

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// neutralPrice is used for a missing or unparseable outcome price.
var neutralPrice = decimal.NewFromFloat(0.5)

// Quote is a market's prices and CLOB token ids in fixed yes/no order.
// For up/down windows "yes" is Up and "no" is Down.
type Quote struct {
	Yes      decimal.Decimal `json:"yes"`
	No       decimal.Decimal `json:"no"`
	YesToken string          `json:"yesToken"`
	NoToken  string          `json:"noToken"`
}

// NormalizeMarket maps a market onto a Quote. Missing prices become 0.5;
// missing tokens are left empty and must be rejected by the caller.
func NormalizeMarket(m Market) Quote {
	prices := decodeList(m.OutcomePrices)
	tokens := decodeList(m.ClobTokenIDs)

	return Quote{
		Yes:      priceAt(prices, 0),
		No:       priceAt(prices, 1),
		YesToken: at(tokens, 0),
		NoToken:  at(tokens, 1),
	}
}

// Resolution reports the decisive outcome of a closed market: yesWon is true
// when the first outcome settled at 1. ok is false while the market is open
// or when the prices are not decisive yet.
func Resolution(m Market) (yesWon bool, ok bool) {
	if !m.Closed {
		return false, false
	}
	prices := decodeList(m.OutcomePrices)
	if len(prices) < 2 {
		return false, false
	}
	one := decimal.NewFromInt(1)
	yes, errYes := decimal.NewFromString(prices[0])
	no, errNo := decimal.NewFromString(prices[1])
	if errYes != nil || errNo != nil {
		return false, false
	}
	switch {
	case yes.Equal(one) && no.IsZero():
		return true, true
	case no.Equal(one) && yes.IsZero():
		return false, true
	}
	return false, false
}

// decodeList handles both encodings Gamma uses for list fields. A JSON string
// is decoded as JSON first; when that does not yield an array the raw value
// is used instead, and anything that is still not an array becomes empty.
func decodeList(raw json.RawMessage) []string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil
		}
		raw = []byte(strings.TrimSpace(s))
	}

	var items []any
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}

	out := make([]string, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case string:
			out = append(out, strings.TrimSpace(v))
		case float64:
			out = append(out, strconv.FormatFloat(v, 'f', -1, 64))
		default:
			out = append(out, "")
		}
	}
	return out
}

func at(list []string, i int) string {
	if i < len(list) {
		return list[i]
	}
	return ""
}

func priceAt(list []string, i int) decimal.Decimal {
	p, err := decimal.NewFromString(at(list, i))
	if err != nil {
		return neutralPrice
	}
	return p
}
