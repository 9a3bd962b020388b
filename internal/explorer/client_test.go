package explorer

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := New(Config{
		BaseURL:           "https://apilist.tronscanapi.com/api",
		RequestsPerMinute: 1000,
		CacheTTL:          30 * time.Second,
		RequestTimeout:    2 * time.Second,
	})
	require.NoError(t, err)
	httpmock.ActivateNonDefault(c.httpClient)
	t.Cleanup(httpmock.DeactivateAndReset)
	return c
}

func TestNewRejectsNonAllowlistedHost(t *testing.T) {
	_, err := New(Config{BaseURL: "https://evil.example.com/api"})
	if err == nil {
		t.Fatal("expected non-allow-listed host to be rejected")
	}
}

func TestNewRejectsNonHTTPS(t *testing.T) {
	_, err := New(Config{BaseURL: "http://apilist.tronscanapi.com/api"})
	if err == nil {
		t.Fatal("expected plain http to be rejected")
	}
}

func TestNewRejectsNonStandardPort(t *testing.T) {
	_, err := New(Config{BaseURL: "https://apilist.tronscanapi.com:8443/api"})
	if err == nil {
		t.Fatal("expected non-443 port to be rejected")
	}
}

func TestNativeTransfersParsesResponse(t *testing.T) {
	c := newTestClient(t)
	httpmock.RegisterResponder("GET", `=~^https://apilist\.tronscanapi\.com/api/transaction`,
		httpmock.NewJsonResponderOrPanic(200, map[string]any{
			"data": []map[string]any{
				{"hash": "abc123", "timestamp": float64(time.Now().UnixMilli())},
			},
		}))

	transfers, err := c.NativeTransfers(context.Background(), "TMerchantWallet", 10, 0)
	require.NoError(t, err)
	require.Len(t, transfers, 1)
	require.Equal(t, "abc123", transfers[0]["hash"])
}

func TestTRC20TransfersHandlesTokenTransfersEnvelope(t *testing.T) {
	c := newTestClient(t)
	httpmock.RegisterResponder("GET", `=~^https://apilist\.tronscanapi\.com/api/token_trc20/transfers`,
		httpmock.NewJsonResponderOrPanic(200, map[string]any{
			"token_transfers": []map[string]any{{"transaction_id": "xyz"}},
		}))

	transfers, err := c.TRC20Transfers(context.Background(), "TMerchantWallet", 10, 0)
	require.NoError(t, err)
	require.Len(t, transfers, 1)
	require.Equal(t, "xyz", transfers[0]["transaction_id"])
}

func TestTRC20TransfersHandlesDataEnvelope(t *testing.T) {
	c := newTestClient(t)
	httpmock.RegisterResponder("GET", `=~^https://apilist\.tronscanapi\.com/api/token_trc20/transfers`,
		httpmock.NewJsonResponderOrPanic(200, map[string]any{
			"data": []map[string]any{{"transaction_id": "fallback"}},
		}))

	transfers, err := c.TRC20Transfers(context.Background(), "TMerchantWallet", 10, 0)
	require.NoError(t, err)
	require.Len(t, transfers, 1)
	require.Equal(t, "fallback", transfers[0]["transaction_id"])
}

func TestResponseRejectsReservedKeys(t *testing.T) {
	c := newTestClient(t)
	httpmock.RegisterResponder("GET", `=~^https://apilist\.tronscanapi\.com/api/transaction`,
		httpmock.NewJsonResponderOrPanic(200, map[string]any{
			"__proto__": map[string]any{"polluted": true},
		}))

	_, err := c.NativeTransfers(context.Background(), "TMerchantWallet", 10, 0)
	if err == nil {
		t.Fatal("expected reserved-key response to be rejected")
	}
}

func TestResponseRejectsNonObject(t *testing.T) {
	c := newTestClient(t)
	httpmock.RegisterResponder("GET", `=~^https://apilist\.tronscanapi\.com/api/transaction`,
		httpmock.NewStringResponder(200, `[1,2,3]`))

	_, err := c.NativeTransfers(context.Background(), "TMerchantWallet", 10, 0)
	if err == nil {
		t.Fatal("expected non-object top-level response to be rejected")
	}
}

func TestRateLimit429ThenSuccessResetsBackoff(t *testing.T) {
	c := newTestClient(t)
	calls := 0
	httpmock.RegisterResponder("GET", `=~^https://apilist\.tronscanapi\.com/api/transaction`,
		func(req *http.Request) (*http.Response, error) {
			calls++
			if calls == 1 {
				resp := httpmock.NewStringResponse(429, "")
				resp.Header.Set("Retry-After", "0")
				return resp, nil
			}
			return httpmock.NewJsonResponse(200, map[string]any{"data": []map[string]any{}})
		})

	_, err := c.NativeTransfers(context.Background(), "TMerchantWallet", 10, 0)
	require.NoError(t, err)
	require.Equal(t, 2, calls)
	require.Equal(t, 1, c.limiter.backoffFactor)
}
