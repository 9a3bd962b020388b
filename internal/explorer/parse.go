package explorer

import (
	"context"
	"fmt"
	"math"

	"tronrecon/internal/money"
	"tronrecon/internal/rerr"
	"tronrecon/internal/types"
)

// ParseTransaction produces the canonical transfer record from a raw
// explorer record. The record is rejected outright unless its hash is a
// 64-hex string and its timestamp falls within a year in the past to a
// day in the future. Native-coin amounts are divided by 10^6; TRC-20
// amounts are divided by 10^decimals as reported by the token
// descriptor. If the record already embeds a trc20_transfer payload, no
// secondary detail call is made; otherwise details are fetched to
// resolve the transfer body and its confirmed flag.
func (c *Client) ParseTransaction(ctx context.Context, record map[string]any) (types.ParsedTransfer, error) {
	hash, _ := record["hash"].(string)
	if hash == "" {
		hash, _ = record["transaction_id"].(string)
	}
	if hash == "" {
		return types.ParsedTransfer{}, rerr.New(rerr.APIRejected, "record has no transaction hash")
	}

	ts := int64(toFloat(record["block_ts"]))
	if ts == 0 {
		ts = int64(toFloat(record["timestamp"]))
	}
	if err := validateRecordShape(hash, ts); err != nil {
		return types.ParsedTransfer{}, err
	}

	if embedded, ok := record["trc20_transfer"].(map[string]any); ok {
		return parseTRC20Embedded(record, embedded)
	}

	details, err := c.TransactionDetails(ctx, hash)
	if err != nil {
		return types.ParsedTransfer{}, err
	}
	return parseFromDetails(hash, details)
}

func parseTRC20Embedded(record map[string]any, transfer map[string]any) (types.ParsedTransfer, error) {
	txID, _ := record["transaction_id"].(string)
	if txID == "" {
		txID, _ = transfer["transaction_id"].(string)
	}
	from, _ := transfer["from_address"].(string)
	to, _ := transfer["to_address"].(string)

	quant := toFloat(transfer["quant"])
	decimals := 6
	var contractAddress string
	if tokenInfo, ok := transfer["tokenInfo"].(map[string]any); ok {
		if d := toFloat(tokenInfo["tokenDecimal"]); d > 0 {
			decimals = int(d)
		}
		contractAddress, _ = tokenInfo["tokenId"].(string)
	}
	amount := money.FromFloat(quant / math.Pow(10, float64(decimals)))

	ts := int64(toFloat(record["block_ts"]))
	if ts == 0 {
		ts = int64(toFloat(transfer["block_ts"]))
	}
	if ts == 0 {
		ts = int64(toFloat(record["timestamp"]))
	}

	confirmed, _ := record["confirmed"].(bool)

	return types.ParsedTransfer{
		TransactionID:   txID,
		FromAddress:     from,
		ToAddress:       to,
		Amount:          amount,
		Currency:        types.USDT,
		Timestamp:       ts,
		Confirmed:       confirmed,
		ContractAddress: contractAddress,
	}, nil
}

func parseFromDetails(hash string, details map[string]any) (types.ParsedTransfer, error) {
	confirmed, _ := details["confirmed"].(bool)

	if transfers, ok := details["trc20TransferInfo"].([]any); ok && len(transfers) > 0 {
		first, ok := transfers[0].(map[string]any)
		if !ok {
			return types.ParsedTransfer{}, rerr.New(rerr.APIRejected, "malformed trc20TransferInfo entry")
		}
		from, _ := first["from_address"].(string)
		to, _ := first["to_address"].(string)
		amountStr, _ := first["amount_str"].(string)
		decimals := 6
		var contractAddress string
		if tokenInfo, ok := first["tokenInfo"].(map[string]any); ok {
			if d := toFloat(tokenInfo["decimals"]); d > 0 {
				decimals = int(d)
			}
			contractAddress, _ = tokenInfo["tokenId"].(string)
		}
		raw := toFloat(amountStr)
		amount := money.FromFloat(raw / math.Pow(10, float64(decimals)))

		return types.ParsedTransfer{
			TransactionID:   hash,
			FromAddress:     from,
			ToAddress:       to,
			Amount:          amount,
			Currency:        types.USDT,
			Confirmed:       confirmed,
			ContractAddress: contractAddress,
		}, nil
	}

	if contractData, ok := details["contractData"].(map[string]any); ok {
		from, _ := contractData["owner_address"].(string)
		to, _ := contractData["to_address"].(string)
		raw := toFloat(contractData["amount"])
		amount := money.FromFloat(raw / 1_000_000)

		return types.ParsedTransfer{
			TransactionID: hash,
			FromAddress:   from,
			ToAddress:     to,
			Amount:        amount,
			Currency:      types.TRX,
			Confirmed:     confirmed,
		}, nil
	}

	return types.ParsedTransfer{}, rerr.New(rerr.APIRejected, fmt.Sprintf("transaction %s has no recognizable transfer body", hash))
}

func toFloat(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case int:
		return float64(x)
	case int64:
		return float64(x)
	case string:
		var f float64
		fmt.Sscanf(x, "%f", &f)
		return f
	default:
		return 0
	}
}
