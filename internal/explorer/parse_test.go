package explorer

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/require"
	"tronrecon/internal/types"
)

// testHash returns a syntactically valid 64-hex transaction hash, distinct
// per call site via the seed byte so fixtures stay visually distinguishable.
func testHash(seed byte) string {
	return strings.Repeat(string(rune('a'+seed%6)), 64)
}

func TestParseTransactionEmbeddedTRC20FastPath(t *testing.T) {
	c := newTestClient(t)
	// No responder registered for transaction-info: if the embedded path
	// issued a secondary detail call this test would fail with a
	// "no responder found" error instead of succeeding.
	record := map[string]any{
		"transaction_id": testHash(1),
		"confirmed":      true,
		"block_ts":       float64(time.Now().Add(-time.Hour).UnixMilli()),
		"trc20_transfer": map[string]any{
			"from_address": "TFrom",
			"to_address":   "TTo",
			"quant":        "1500000",
			"tokenInfo": map[string]any{
				"tokenDecimal": float64(6),
			},
		},
	}

	transfer, err := c.ParseTransaction(context.Background(), record)
	require.NoError(t, err)
	require.Equal(t, testHash(1), transfer.TransactionID)
	require.Equal(t, types.USDT, transfer.Currency)
	require.True(t, transfer.Confirmed)
	require.InDelta(t, 1.5, transfer.Amount.Float(), 0.0001)
}

func TestParseTransactionDetailFetchPrefersTRC20Info(t *testing.T) {
	c := newTestClient(t)
	httpmock.RegisterResponder("GET", `=~^https://apilist\.tronscanapi\.com/api/transaction-info`,
		httpmock.NewJsonResponderOrPanic(200, map[string]any{
			"confirmed": true,
			"trc20TransferInfo": []map[string]any{
				{
					"from_address": "TFrom",
					"to_address":   "TTo",
					"amount_str":   "2000000",
					"tokenInfo":    map[string]any{"decimals": float64(6)},
				},
			},
			"contractData": map[string]any{
				"owner_address": "TFrom",
				"to_address":    "TTo",
				"amount":        float64(9000000),
			},
		}))

	record := map[string]any{"hash": testHash(2), "timestamp": float64(time.Now().Add(-time.Hour).UnixMilli())}
	transfer, err := c.ParseTransaction(context.Background(), record)
	require.NoError(t, err)
	require.Equal(t, types.USDT, transfer.Currency)
	require.InDelta(t, 2.0, transfer.Amount.Float(), 0.0001)
}

func TestParseTransactionDetailFetchFallsBackToContractData(t *testing.T) {
	c := newTestClient(t)
	httpmock.RegisterResponder("GET", `=~^https://apilist\.tronscanapi\.com/api/transaction-info`,
		httpmock.NewJsonResponderOrPanic(200, map[string]any{
			"confirmed": false,
			"contractData": map[string]any{
				"owner_address": "TFrom",
				"to_address":    "TTo",
				"amount":        float64(5000000),
			},
		}))

	record := map[string]any{"hash": testHash(3), "timestamp": float64(time.Now().Add(-time.Hour).UnixMilli())}
	transfer, err := c.ParseTransaction(context.Background(), record)
	require.NoError(t, err)
	require.Equal(t, types.TRX, transfer.Currency)
	require.False(t, transfer.Confirmed)
	require.InDelta(t, 5.0, transfer.Amount.Float(), 0.0001)
}

func TestParseTransactionDetailFetchRejectsEmptyBody(t *testing.T) {
	c := newTestClient(t)
	httpmock.RegisterResponder("GET", `=~^https://apilist\.tronscanapi\.com/api/transaction-info`,
		httpmock.NewJsonResponderOrPanic(200, map[string]any{"confirmed": true}))

	record := map[string]any{"hash": testHash(4), "timestamp": float64(time.Now().Add(-time.Hour).UnixMilli())}
	_, err := c.ParseTransaction(context.Background(), record)
	if err == nil {
		t.Fatal("expected error when neither trc20TransferInfo nor contractData is present")
	}
}

func TestParseTransactionRejectsNonHexHash(t *testing.T) {
	c := newTestClient(t)
	record := map[string]any{
		"hash":      "not-a-hex-hash",
		"timestamp": float64(time.Now().UnixMilli()),
	}
	_, err := c.ParseTransaction(context.Background(), record)
	if err == nil {
		t.Fatal("expected a malformed hash to be rejected before any detail fetch")
	}
}

func TestParseTransactionRejectsStaleTimestamp(t *testing.T) {
	c := newTestClient(t)
	record := map[string]any{
		"hash":      testHash(5),
		"timestamp": float64(time.Now().AddDate(-2, 0, 0).UnixMilli()),
	}
	_, err := c.ParseTransaction(context.Background(), record)
	if err == nil {
		t.Fatal("expected a timestamp older than 365 days to be rejected")
	}
}

func TestParseTransactionRejectsFarFutureTimestamp(t *testing.T) {
	c := newTestClient(t)
	record := map[string]any{
		"hash":      testHash(6),
		"timestamp": float64(time.Now().AddDate(0, 0, 10).UnixMilli()),
	}
	_, err := c.ParseTransaction(context.Background(), record)
	if err == nil {
		t.Fatal("expected a timestamp more than one day in the future to be rejected")
	}
}
