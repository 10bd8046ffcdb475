// Package address validates and normalizes EVM wallet addresses.
package address

import (
	"errors"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ErrInvalid is returned for anything that is not 0x followed by 40 hex chars.
var ErrInvalid = errors.New("address: invalid wallet address")

var walletRegex = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// Normalize validates a wallet address and returns it lowercased, which is
// the form used for storage and lookups.
func Normalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !walletRegex.MatchString(raw) || !common.IsHexAddress(raw) {
		return "", ErrInvalid
	}
	return strings.ToLower(common.HexToAddress(raw).Hex()), nil
}

// Checksum returns the EIP-55 form of a valid address, for display.
func Checksum(addr string) string {
	return common.HexToAddress(addr).Hex()
}
