package provider

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Covalent serves wallet-centric transaction pages. Page size tops out at
// 100 items, so large windows arrive over several fetches.
type Covalent struct {
	apiKey  string
	baseURL string
	client  *HTTPClient
}

func NewCovalent(apiKey, baseURL string, client *HTTPClient) *Covalent {
	return &Covalent{apiKey: apiKey, baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (c *Covalent) Name() string { return "covalent" }

type covalentItem struct {
	TxHash        string `json:"tx_hash"`
	BlockSignedAt string `json:"block_signed_at"`
	BlockHeight   int64  `json:"block_height"`
	FromAddress   string `json:"from_address"`
	ToAddress     string `json:"to_address"`
	Value         string `json:"value"`
	GasSpent      int64  `json:"gas_spent"`
	Successful    bool   `json:"successful"`
}

type covalentResponse struct {
	Data struct {
		Items []covalentItem `json:"items"`
	} `json:"data"`
	Error        bool   `json:"error"`
	ErrorMessage string `json:"error_message"`
}

func (c *Covalent) FetchWalletActivity(ctx context.Context, q Query) (Activity, error) {
	chainID := q.Chain
	if chainID == "base" {
		chainID = "8453"
	}
	limit := q.Limit
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	endpoint := fmt.Sprintf("%s/%s/address/%s/transactions_v3/?key=%s&page-size=%d",
		c.baseURL, chainID, url.PathEscape(q.Address), url.QueryEscape(c.apiKey), limit)

	var resp covalentResponse
	if err := c.client.DoJSON(ctx, "GET", endpoint, nil, nil, &resp); err != nil {
		return Activity{}, fmt.Errorf("covalent: %w", err)
	}
	if resp.Error {
		return Activity{}, fmt.Errorf("covalent: %s", resp.ErrorMessage)
	}

	events := make([]map[string]interface{}, 0, len(resp.Data.Items))
	for _, item := range resp.Data.Items {
		ts := int64(0)
		if t, err := time.Parse(time.RFC3339, item.BlockSignedAt); err == nil {
			ts = t.Unix()
		}
		if q.SinceTS > 0 && ts < q.SinceTS {
			continue
		}
		ev := map[string]interface{}{
			"transaction_hash": item.TxHash,
			"block_timestamp":  ts,
			"block_height":     item.BlockHeight,
			"chain":            q.Chain,
			"transaction_type": classifyCovalentItem(item),
			"from_address":     item.FromAddress,
			"gas_spent":        item.GasSpent,
		}
		if item.Value != "" && item.Value != "0" {
			ev["value"] = item.Value
		}
		if strings.EqualFold(item.FromAddress, q.Address) {
			ev["direction"] = "out"
			ev["to_address"] = item.ToAddress
		} else {
			ev["direction"] = "in"
			ev["to_address"] = item.FromAddress
			ev["from_address"] = q.Address
		}
		events = append(events, ev)
	}

	return Activity{
		Events: events,
		Metadata: map[string]interface{}{
			"source":  "covalent",
			"address": q.Address,
		},
	}, nil
}

func classifyCovalentItem(item covalentItem) string {
	if !item.Successful {
		return "failed_transaction"
	}
	if item.Value != "" && item.Value != "0" {
		return "transfer"
	}
	return "contract_interaction"
}
