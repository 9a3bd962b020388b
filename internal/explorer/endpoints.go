package explorer

import (
	"context"
	"net/url"
	"strconv"
)

// NativeTransfers fetches native-coin (TRX) transfers for address since
// start, newest first, clamped to a maximum of 50 per call.
func (c *Client) NativeTransfers(ctx context.Context, address string, limit, start int) ([]map[string]any, error) {
	if limit <= 0 || limit > 50 {
		limit = 50
	}
	params := url.Values{
		"address": {address},
		"limit":   {strconv.Itoa(limit)},
		"start":   {strconv.Itoa(start)},
		"sort":    {"-timestamp"},
	}
	obj, err := c.get(ctx, "/transaction", params, true)
	if err != nil {
		return nil, err
	}
	return extractList(obj, "data"), nil
}

// TRC20Transfers fetches TRC-20 token transfers for address, normalizing
// the explorer's inconsistent envelope (a token_transfers or a data key)
// into a single record list.
func (c *Client) TRC20Transfers(ctx context.Context, address string, limit, start int) ([]map[string]any, error) {
	if limit <= 0 || limit > 50 {
		limit = 50
	}
	params := url.Values{
		"relatedAddress": {address},
		"limit":          {strconv.Itoa(limit)},
		"start":          {strconv.Itoa(start)},
		"sort":           {"-timestamp"},
	}
	obj, err := c.get(ctx, "/token_trc20/transfers", params, true)
	if err != nil {
		return nil, err
	}

	if list := extractList(obj, "token_transfers"); list != nil {
		return list, nil
	}
	if list := extractList(obj, "data"); list != nil {
		return list, nil
	}
	// Neither known envelope key is present. A bare top-level list never
	// gets here: get rejects any non-object response body before this
	// point, so such a response is an error and this one is empty.
	return nil, nil
}

// TransactionDetails fetches per-transaction detail (confirmation count,
// contract address, TRC-20 transfer info). Detail lookups always bypass
// the response cache.
func (c *Client) TransactionDetails(ctx context.Context, hash string) (map[string]any, error) {
	params := url.Values{"hash": {hash}}
	return c.get(ctx, "/transaction-info", params, false)
}

func extractList(obj map[string]any, key string) []map[string]any {
	raw, ok := obj[key]
	if !ok {
		return nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}
