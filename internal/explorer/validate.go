package explorer

import (
	"time"

	"tronrecon/internal/rerr"
)

const (
	transactionHashHexLength = 64
	maxRecordAgeDays         = 365
	maxRecordFutureDays      = 1
)

// validateRecordShape rejects a raw transaction record unless its hash
// is a 64-character hex string and its timestamp (milliseconds since
// epoch) falls within [now-365d, now+1d]. This is the record-level
// sanity gate a parser applies before treating a fetched record as a
// candidate transfer, distinct from validateResponseShape's envelope
// checks.
func validateRecordShape(hash string, timestampMs int64) error {
	if !isHex64(hash) {
		return rerr.New(rerr.APIRejected, "transaction record has a malformed hash")
	}

	now := time.Now().UnixMilli()
	minTs := now - maxRecordAgeDays*24*60*60*1000
	maxTs := now + maxRecordFutureDays*24*60*60*1000
	if timestampMs < minTs || timestampMs > maxTs {
		return rerr.New(rerr.APIRejected, "transaction record timestamp out of range")
	}
	return nil
}

func isHex64(s string) bool {
	if len(s) != transactionHashHexLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F') {
			return false
		}
	}
	return true
}

// reservedKeys are rejected anywhere in a parsed JSON object as a defense
// against prototype-pollution-style payloads reaching downstream map
// consumers.
var reservedKeys = map[string]bool{
	"__proto__":   true,
	"constructor": true,
	"prototype":   true,
	"eval":        true,
	"function":    true,
}

// validateResponseShape rejects any JSON value that isn't an object, and
// recursively rejects any object (at any depth) containing a reserved
// key.
func validateResponseShape(v any) (map[string]any, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, rerr.New(rerr.APIRejected, "explorer response is not a JSON object")
	}
	if err := checkReservedKeys(v); err != nil {
		return nil, err
	}
	return obj, nil
}

func checkReservedKeys(v any) error {
	switch val := v.(type) {
	case map[string]any:
		for k, sub := range val {
			if reservedKeys[k] {
				return rerr.New(rerr.APIRejected, "explorer response contains reserved key "+k)
			}
			if err := checkReservedKeys(sub); err != nil {
				return err
			}
		}
	case []any:
		for _, sub := range val {
			if err := checkReservedKeys(sub); err != nil {
				return err
			}
		}
	}
	return nil
}
