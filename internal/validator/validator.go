// Package validator holds the engine's pure predicates: address shape,
// amount bounds, description sanitization, sender checks, transaction
// freshness, confirmation counts and token-contract identity. Nothing
// here performs I/O; the same input always produces the same output.
package validator

import (
	"strconv"
	"strings"

	"github.com/mr-tron/base58"

	"tronrecon/internal/config"
	"tronrecon/internal/money"
	"tronrecon/internal/rerr"
	"tronrecon/internal/types"
)

// OfficialUSDTContract is the one TRC-20 contract address the engine
// trusts as genuine USDT on mainnet.
const OfficialUSDTContract = "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t"

var zeroAddress = "T" + strings.Repeat("0", 33)

// sqlKeywords are rejected as case-insensitive substrings anywhere in a
// description, including inside a longer word.
var sqlKeywords = []string{
	"select", "insert", "update", "delete", "drop", "create", "alter",
	"exec", "union", "script", "javascript", "execute", "truncate",
	"grant", "revoke", "commit", "rollback",
}

// dangerousPatterns are rejected as case-insensitive substrings in
// descriptions, covering the common script-injection vectors.
var dangerousPatterns = []string{
	"javascript:", "data:text/html", "vbscript:",
	"<script", "</script>",
	"onload=", "onerror=", "onclick=", "onmouseover=",
}

// dangerousChars are rejected if present anywhere in a description.
const dangerousChars = "<>\"'&\x00\x1a\n\r\t"

// Address reports whether s is a syntactically valid TRON address: 34
// characters, beginning with 'T', base58-alphabet body, excluding the
// all-zero placeholder address. A supplemental base58 decode is run after
// the shape check; the decoded payload's length and checksum are not
// verified.
func Address(s string) bool {
	if len(s) != 34 || s[0] != 'T' || s == zeroAddress {
		return false
	}
	for i := 1; i < len(s); i++ {
		if !isBase58Char(s[i]) {
			return false
		}
	}
	if _, err := base58.Decode(s); err != nil {
		return false
	}
	return true
}

func isBase58Char(c byte) bool {
	switch {
	case c >= '1' && c <= '9':
		return true
	case c >= 'A' && c <= 'Z' && c != 'I' && c != 'O':
		return true
	case c >= 'a' && c <= 'z' && c != 'l':
		return true
	default:
		return false
	}
}

// Amount reports whether a is a plausible payment amount: positive,
// within the global ceiling, at most 4 decimal places, and within the
// per-currency [min, max] range from cfg.
func Amount(a money.Amount, currency types.Currency, cfg *config.Config) error {
	if a <= 0 {
		return rerr.New(rerr.InvalidArgument, "amount must be positive")
	}
	if a.Float() > cfg.MaxAmountLimit {
		return rerr.New(rerr.InvalidArgument, "amount exceeds maximum limit")
	}

	var min, max float64
	switch currency {
	case types.USDT:
		min, max = cfg.MinUSDTAmount, cfg.MaxUSDTAmount
	case types.TRX:
		min, max = cfg.MinTRXAmount, cfg.MaxTRXAmount
	default:
		return rerr.New(rerr.UnsupportedCurrency, "unsupported currency")
	}
	f := a.Float()
	if f < min || f > max {
		return rerr.New(rerr.InvalidArgument, "amount out of range for currency")
	}
	return nil
}

// Description reports an error if s contains anything the engine treats
// as unsafe: forbidden characters, control characters (tab, newline and
// carriage return included), SQL keywords, or common script-injection
// patterns. Empty descriptions are permitted.
func Description(s string, maxLen int) error {
	if len(s) > maxLen {
		return rerr.New(rerr.InvalidArgument, "description too long")
	}
	for _, r := range s {
		if strings.ContainsRune(dangerousChars, r) {
			return rerr.New(rerr.InvalidArgument, "description contains forbidden character")
		}
		if r < 0x20 && r != ' ' {
			return rerr.New(rerr.InvalidArgument, "description contains control character")
		}
	}
	lower := toLower(s)
	for _, kw := range sqlKeywords {
		if strings.Contains(lower, kw) {
			return rerr.New(rerr.InvalidArgument, "description contains disallowed keyword")
		}
	}
	for _, p := range dangerousPatterns {
		if strings.Contains(lower, p) {
			return rerr.New(rerr.InvalidArgument, "description contains disallowed pattern")
		}
	}
	return nil
}

func toLower(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= 'A' && r <= 'Z' {
			r += 32
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Sender reports an error if from is not a valid address, is blacklisted,
// or equals the merchant wallet (a self-transfer can never settle a
// form).
func Sender(from, merchantWallet string, blacklist []string) error {
	if !Address(from) {
		return rerr.New(rerr.ValidationFailed, "invalid sender address")
	}
	for _, b := range blacklist {
		if strings.EqualFold(b, from) {
			return rerr.New(rerr.ValidationFailed, "sender address is blacklisted")
		}
	}
	if strings.EqualFold(from, merchantWallet) {
		return rerr.New(rerr.ValidationFailed, "sender address equals merchant wallet")
	}
	return nil
}

// Freshness reports an error if a transaction's timestamp (milliseconds
// since epoch) is too old or implausibly in the future relative to nowMs.
func Freshness(timestampMs, nowMs int64, maxAgeHours, futureToleranceMinutes float64) error {
	maxAgeMs := int64(maxAgeHours * 3600 * 1000)
	futureToleranceMs := int64(futureToleranceMinutes * 60 * 1000)
	if nowMs-timestampMs > maxAgeMs {
		return rerr.New(rerr.ValidationFailed, "transaction too old")
	}
	if timestampMs > nowMs+futureToleranceMs {
		return rerr.New(rerr.ValidationFailed, "transaction timestamp too far in the future")
	}
	return nil
}

// Confirmations reports an error if a transaction isn't confirmed enough
// to be trusted. If confirmed is already asserted by the envelope, this
// always passes; otherwise the caller-supplied confirmation count must
// meet the currency's minimum.
func Confirmations(confirmed bool, confirmations int, currency types.Currency, cfg *config.Config) error {
	if confirmed {
		return nil
	}
	min := cfg.DefaultMinConfirmations
	switch currency {
	case types.TRX:
		min = cfg.MinConfirmationsTRX
	case types.USDT:
		min = cfg.MinConfirmationsUSDT
	}
	if confirmations < min {
		return rerr.New(rerr.ValidationFailed, "insufficient confirmations")
	}
	return nil
}

// USDTContract reports an error if currency is USDT and contractAddress
// doesn't exactly match the official TRC-20 USDT contract.
func USDTContract(currency types.Currency, contractAddress string) error {
	if currency != types.USDT {
		return nil
	}
	if contractAddress != OfficialUSDTContract {
		return rerr.New(rerr.ValidationFailed, "unrecognized USDT contract address")
	}
	return nil
}

// TelegramUserID reports whether s is a purely numeric caller identifier
// in (0, 2^63-1], the shape Telegram's own user ids take.
func TelegramUserID(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return false
	}
	return v > 0
}

// FormID reports whether s has the canonical 36-character hyphenated UUID
// shape used for form identifiers.
func FormID(s string) bool {
	if len(s) != 36 {
		return false
	}
	for i, r := range s {
		switch i {
		case 8, 13, 18, 23:
			if r != '-' {
				return false
			}
		default:
			if !isHexDigit(byte(r)) {
				return false
			}
		}
	}
	return true
}

func isHexDigit(c byte) bool {
	return c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F'
}
