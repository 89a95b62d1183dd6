package provider

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const bitqueryTransfersQuery = `
query ($network: evm_network!, $address: String!, $since: DateTime) {
  EVM(network: $network) {
    Transfers(
      where: {any: [{Transfer: {Sender: {is: $address}}}, {Transfer: {Receiver: {is: $address}}}], Block: {Time: {since: $since}}}
      orderBy: {ascending: Block_Time}
      limit: {count: 100}
    ) {
      Block { Number Time }
      Transaction { Hash }
      Transfer { Amount Currency { Symbol SmartContract } Sender Receiver Index }
    }
  }
}`

// Bitquery serves transfer history through a GraphQL endpoint.
type Bitquery struct {
	accessToken string
	baseURL     string
	client      *HTTPClient
}

func NewBitquery(accessToken, baseURL string, client *HTTPClient) *Bitquery {
	return &Bitquery{accessToken: accessToken, baseURL: baseURL, client: client}
}

func (b *Bitquery) Name() string { return "bitquery" }

type bitqueryResponse struct {
	Data struct {
		EVM struct {
			Transfers []struct {
				Block struct {
					Number int64  `json:"Number"`
					Time   string `json:"Time"`
				} `json:"Block"`
				Transaction struct {
					Hash string `json:"Hash"`
				} `json:"Transaction"`
				Transfer struct {
					Amount   string `json:"Amount"`
					Currency struct {
						Symbol        string `json:"Symbol"`
						SmartContract string `json:"SmartContract"`
					} `json:"Currency"`
					Sender   string `json:"Sender"`
					Receiver string `json:"Receiver"`
					Index    int64  `json:"Index"`
				} `json:"Transfer"`
			} `json:"Transfers"`
		} `json:"EVM"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func (b *Bitquery) FetchWalletActivity(ctx context.Context, q Query) (Activity, error) {
	variables := map[string]interface{}{
		"network": q.Chain,
		"address": q.Address,
	}
	if q.SinceTS > 0 {
		variables["since"] = time.Unix(q.SinceTS, 0).UTC().Format(time.RFC3339)
	}
	body := map[string]interface{}{
		"query":     bitqueryTransfersQuery,
		"variables": variables,
	}
	headers := map[string]string{"Authorization": "Bearer " + b.accessToken}

	var resp bitqueryResponse
	if err := b.client.DoJSON(ctx, "POST", b.baseURL, headers, body, &resp); err != nil {
		return Activity{}, fmt.Errorf("bitquery: %w", err)
	}
	if len(resp.Errors) > 0 {
		return Activity{}, fmt.Errorf("bitquery: graphql error: %s", resp.Errors[0].Message)
	}

	transfers := resp.Data.EVM.Transfers
	events := make([]map[string]interface{}, 0, len(transfers))
	for _, t := range transfers {
		ts := int64(0)
		if parsed, err := time.Parse(time.RFC3339, t.Block.Time); err == nil {
			ts = parsed.Unix()
		}
		direction := "in"
		counterparty := t.Transfer.Sender
		if strings.EqualFold(t.Transfer.Sender, q.Address) {
			direction = "out"
			counterparty = t.Transfer.Receiver
		}
		events = append(events, map[string]interface{}{
			"tx":            fmt.Sprintf("%s:%d", t.Transaction.Hash, t.Transfer.Index),
			"ts":            ts,
			"block":         t.Block.Number,
			"chain":         q.Chain,
			"type":          "token_transfer",
			"wallet":        q.Address,
			"amount":        t.Transfer.Amount,
			"token_symbol":  t.Transfer.Currency.Symbol,
			"token_address": t.Transfer.Currency.SmartContract,
			"direction":     direction,
			"counterparty":  counterparty,
		})
	}

	return Activity{
		Events: events,
		Metadata: map[string]interface{}{
			"source":  "bitquery",
			"address": q.Address,
		},
	}, nil
}
