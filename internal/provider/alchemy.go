package provider

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Base produces roughly one block every two seconds.
const baseBlocksPerHour = 1800

// Alchemy fetches wallet activity through alchemy_getAssetTransfers, which
// returns compact transfer records instead of full transactions.
type Alchemy struct {
	apiKey  string
	baseURL string
	client  *HTTPClient
}

func NewAlchemy(apiKey, baseURL string, client *HTTPClient) *Alchemy {
	return &Alchemy{apiKey: apiKey, baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (a *Alchemy) Name() string { return "alchemy" }

type alchemyTransfer struct {
	Hash     string  `json:"hash"`
	BlockNum string  `json:"blockNum"`
	From     string  `json:"from"`
	To       string  `json:"to"`
	Value    float64 `json:"value"`
	Category string  `json:"category"`
	Asset    string  `json:"asset"`
}

type alchemyResponse struct {
	Result struct {
		Transfers []alchemyTransfer `json:"transfers"`
		PageKey   string            `json:"pageKey"`
	} `json:"result"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (a *Alchemy) FetchWalletActivity(ctx context.Context, q Query) (Activity, error) {
	limit := q.Limit
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	params := map[string]interface{}{
		"fromAddress": q.Address,
		"maxCount":    fmt.Sprintf("0x%x", limit),
		"category":    []string{"external", "erc20"},
	}
	if q.SinceTS > 0 {
		hoursBack := time.Since(time.Unix(q.SinceTS, 0)).Hours()
		if hoursBack > 0 {
			params["fromBlock"] = fmt.Sprintf("0x%x", int64(hoursBack*baseBlocksPerHour))
		}
	}
	body := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "alchemy_getAssetTransfers",
		"params":  []interface{}{params},
	}

	var resp alchemyResponse
	url := a.baseURL + "/" + a.apiKey
	if err := a.client.DoJSON(ctx, "POST", url, nil, body, &resp); err != nil {
		return Activity{}, fmt.Errorf("alchemy: %w", err)
	}
	if resp.Error != nil {
		return Activity{}, fmt.Errorf("alchemy: rpc error %d: %s", resp.Error.Code, resp.Error.Message)
	}

	now := time.Now().Unix()
	events := make([]map[string]interface{}, 0, len(resp.Result.Transfers))
	for _, tx := range resp.Result.Transfers {
		block := int64(0)
		if tx.BlockNum != "" {
			block, _ = strconv.ParseInt(strings.TrimPrefix(tx.BlockNum, "0x"), 16, 64)
		}
		ev := map[string]interface{}{
			"ts":     now,
			"chain":  q.Chain,
			"type":   classifyAlchemyTransfer(tx),
			"wallet": q.Address,
			"tx":     tx.Hash,
			"block":  block,
		}
		if tx.Value != 0 {
			ev["value"] = tx.Value
		}
		switch tx.Category {
		case "erc20":
			ev["token_symbol"] = tx.Asset
		default:
			if tx.Value != 0 {
				ev["token_symbol"] = "ETH"
			}
		}
		if strings.EqualFold(tx.From, q.Address) {
			ev["direction"] = "out"
			ev["counterparty"] = tx.To
		} else {
			ev["direction"] = "in"
			ev["counterparty"] = tx.From
		}
		events = append(events, ev)
	}

	return Activity{
		Events: events,
		Metadata: map[string]interface{}{
			"source":   "alchemy",
			"address":  q.Address,
			"has_more": resp.Result.PageKey != "",
		},
	}, nil
}

func classifyAlchemyTransfer(tx alchemyTransfer) string {
	switch {
	case tx.Category == "erc20":
		return "token_transfer"
	case tx.Category == "external" && tx.Value != 0:
		return "transfer"
	case tx.Category == "external":
		return "contract_interaction"
	default:
		return "transaction"
	}
}
