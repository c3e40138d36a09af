package explorer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	xerrors "WChain-Bubbles/internal/errors"
)

// Config describes how to reach the explorer REST API.
type Config struct {
	BaseURL           string
	APIKey            string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	HTTPClient        *http.Client
}

// Client calls the explorer REST API.
type Client struct {
	baseURL string
	apiKey  string
	transport
}

// NewClient validates cfg and builds a client.
func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("explorer base url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("parse explorer base url: %w", err)
	}
	return &Client{
		baseURL:   base,
		apiKey:    strings.TrimSpace(cfg.APIKey),
		transport: newTransport(cfg.Timeout, cfg.RequestsPerSecond, cfg.Burst, cfg.HTTPClient),
	}, nil
}

// PageParams are the opaque cursor values returned as next_page_params.
// Values are kept verbatim so large numbers survive the round trip.
type PageParams map[string]string

// UnmarshalJSON implements json.Unmarshaler.
func (p *PageParams) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*p = nil
		return nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(PageParams, len(raw))
	for k, v := range raw {
		text := strings.TrimSpace(string(v))
		if text == "null" {
			continue
		}
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			out[k] = s
			continue
		}
		out[k] = text
	}
	*p = out
	return nil
}

// AddressItem is one row of the address listing.
type AddressItem struct {
	Hash              string  `json:"hash"`
	CoinBalance       *string `json:"coin_balance"`
	TransactionsCount FlexInt `json:"transactions_count"`
}

// Balance returns the coin balance in whole WCO. A missing balance is zero.
func (a AddressItem) Balance() (decimal.Decimal, error) {
	return weiString(a.CoinBalance)
}

// AddressPage is one page of the address listing.
type AddressPage struct {
	Items          []AddressItem `json:"items"`
	NextPageParams PageParams    `json:"next_page_params"`
}

// AddressesPage fetches one page of addresses ordered by balance.
func (c *Client) AddressesPage(ctx context.Context, pageSize int, cursor PageParams) (AddressPage, error) {
	q := url.Values{}
	for k, v := range cursor {
		q.Set(k, v)
	}
	if pageSize > 0 {
		q.Set("items_count", strconv.Itoa(pageSize))
	}
	var page AddressPage
	if err := c.get(ctx, "/api/v2/addresses", q, &page); err != nil {
		return AddressPage{}, err
	}
	return page, nil
}

// Address returns the address summary.
func (c *Client) Address(ctx context.Context, address string) (any, error) {
	return c.document(ctx, "/api/v2/addresses/"+url.PathEscape(address), nil)
}

// AddressCounters returns transaction, transfer and gas counters.
func (c *Client) AddressCounters(ctx context.Context, address string) (any, error) {
	return c.document(ctx, "/api/v2/addresses/"+url.PathEscape(address)+"/counters", nil)
}

// AddressTransactions returns the latest transactions of an address.
func (c *Client) AddressTransactions(ctx context.Context, address string) (any, error) {
	return c.document(ctx, "/api/v2/addresses/"+url.PathEscape(address)+"/transactions", nil)
}

// AddressTokenBalances returns token balances held by an address.
func (c *Client) AddressTokenBalances(ctx context.Context, address string) (any, error) {
	return c.document(ctx, "/api/v2/addresses/"+url.PathEscape(address)+"/token-balances", nil)
}

// AddressTokenTransfers returns token transfers involving an address.
func (c *Client) AddressTokenTransfers(ctx context.Context, address string) (any, error) {
	return c.document(ctx, "/api/v2/addresses/"+url.PathEscape(address)+"/token-transfers", nil)
}

// Transaction returns one transaction.
func (c *Client) Transaction(ctx context.Context, hash string) (any, error) {
	return c.document(ctx, "/api/v2/transactions/"+url.PathEscape(hash), nil)
}

// TransactionLogs returns the event logs of one transaction.
func (c *Client) TransactionLogs(ctx context.Context, hash string) (any, error) {
	return c.document(ctx, "/api/v2/transactions/"+url.PathEscape(hash)+"/logs", nil)
}

// TransferItem is a native transfer as listed on the main page feed.
type TransferItem struct {
	Hash  string `json:"hash"`
	Value string `json:"value"`
	From  struct {
		Hash string `json:"hash"`
	} `json:"from"`
	To *struct {
		Hash string `json:"hash"`
	} `json:"to"`
	Timestamp string `json:"timestamp"`
}

// Amount returns the transferred value in whole WCO.
func (t TransferItem) Amount() (decimal.Decimal, error) {
	return weiString(&t.Value)
}

// Recipient returns the destination address or "" for contract creation.
func (t TransferItem) Recipient() string {
	if t.To == nil {
		return ""
	}
	return t.To.Hash
}

// LatestTransactions returns the newest validated transactions.
func (c *Client) LatestTransactions(ctx context.Context) ([]TransferItem, error) {
	var items []TransferItem
	if err := c.get(ctx, "/api/v2/main-page/transactions", nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// PendingTransactions returns transactions still in the mempool.
func (c *Client) PendingTransactions(ctx context.Context) (any, error) {
	return c.document(ctx, "/api/v2/transactions", url.Values{"filter": {"pending"}})
}

// LatestBlocks returns the newest blocks.
func (c *Client) LatestBlocks(ctx context.Context) (any, error) {
	return c.document(ctx, "/api/v2/main-page/blocks", nil)
}

// Block returns a block by number or hash.
func (c *Client) Block(ctx context.Context, id string) (any, error) {
	return c.document(ctx, "/api/v2/blocks/"+url.PathEscape(id), nil)
}

// Token returns token metadata.
func (c *Client) Token(ctx context.Context, address string) (any, error) {
	return c.document(ctx, "/api/v2/tokens/"+url.PathEscape(address), nil)
}

// TokenHolders returns the holders of a token.
func (c *Client) TokenHolders(ctx context.Context, address string) (any, error) {
	return c.document(ctx, "/api/v2/tokens/"+url.PathEscape(address)+"/holders", nil)
}

// SmartContract returns verified source metadata for a contract.
func (c *Client) SmartContract(ctx context.Context, address string) (any, error) {
	return c.document(ctx, "/api/v2/smart-contracts/"+url.PathEscape(address), nil)
}

// Stats returns network-wide counters.
func (c *Client) Stats(ctx context.Context) (any, error) {
	return c.document(ctx, "/api/v2/stats", nil)
}

// TransactionChart returns daily transaction counts.
func (c *Client) TransactionChart(ctx context.Context) (any, error) {
	return c.document(ctx, "/api/v2/stats/charts/transactions", nil)
}

// Search runs the explorer's free-text search.
func (c *Client) Search(ctx context.Context, query string) (any, error) {
	return c.document(ctx, "/api/v2/search", url.Values{"q": {query}})
}

// Etherscan calls the module/action compatible endpoint and returns result.
func (c *Client) Etherscan(ctx context.Context, module, action string, params url.Values) (any, error) {
	q := url.Values{}
	for k, vs := range params {
		q[k] = append([]string(nil), vs...)
	}
	q.Set("module", module)
	q.Set("action", action)
	if c.apiKey != "" {
		q.Set("apikey", c.apiKey)
	}
	var envelope struct {
		Status  string          `json:"status"`
		Message string          `json:"message"`
		Result  json.RawMessage `json:"result"`
	}
	if err := c.get(ctx, "/api", q, &envelope); err != nil {
		return nil, err
	}
	if envelope.Status == "0" {
		detail := strings.TrimSpace(string(envelope.Result))
		if strings.Contains(strings.ToLower(detail), "rate limit") {
			return nil, xerrors.New(xerrors.CodeRateLimited, "explorer rate limit reached")
		}
		return nil, xerrors.New(xerrors.CodeUpstreamFailure, fmt.Sprintf("%s: %s", envelope.Message, detail),
			xerrors.WithMetadata("module", module), xerrors.WithMetadata("action", action))
	}
	var result any
	if err := json.Unmarshal(envelope.Result, &result); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeMalformed, err, "decode etherscan result")
	}
	return result, nil
}

func (c *Client) document(ctx context.Context, path string, q url.Values) (any, error) {
	var out any
	if err := c.get(ctx, path, q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	endpoint := c.baseURL + path
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "build explorer request")
	}
	return c.do(req, out)
}

func weiString(raw *string) (decimal.Decimal, error) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return decimal.Zero, nil
	}
	wei, err := decimal.NewFromString(strings.TrimSpace(*raw))
	if err != nil {
		return decimal.Zero, xerrors.Wrap(xerrors.CodeMalformed, err, "parse wei amount")
	}
	return wei.Shift(-18), nil
}
