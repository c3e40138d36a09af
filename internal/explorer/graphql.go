package explorer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	xerrors "WChain-Bubbles/internal/errors"
)

const (
	probeQuery = `{ __typename }`

	topAddressesQuery = `query TopAddresses($first: Int!) {
  addresses(first: $first, orderBy: {field: COIN_BALANCE, direction: DESC}) {
    items { hash coinBalance transactionsCount }
  }
}`
)

// GraphQLConfig describes the secondary structured query endpoint.
type GraphQLConfig struct {
	URL               string
	Timeout           time.Duration
	RequestsPerSecond float64
	HTTPClient        *http.Client
}

// GraphQLClient queries the explorer's GraphQL endpoint.
type GraphQLClient struct {
	url string
	transport
}

// NewGraphQLClient builds a client for cfg.URL.
func NewGraphQLClient(cfg GraphQLConfig) (*GraphQLClient, error) {
	endpoint := strings.TrimSpace(cfg.URL)
	if endpoint == "" {
		return nil, errors.New("graphql url is required")
	}
	return &GraphQLClient{
		url:       endpoint,
		transport: newTransport(cfg.Timeout, cfg.RequestsPerSecond, 1, cfg.HTTPClient),
	}, nil
}

type graphQLError struct {
	Message string `json:"message"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors"`
}

func (c *GraphQLClient) query(ctx context.Context, query string, variables map[string]any, out any) error {
	body, err := json.Marshal(map[string]any{"query": query, "variables": variables})
	if err != nil {
		return fmt.Errorf("encode graphql request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "build graphql request")
	}
	req.Header.Set("Content-Type", "application/json")

	var resp graphQLResponse
	if err := c.do(req, &resp); err != nil {
		return err
	}
	if len(resp.Errors) > 0 {
		msgs := make([]string, 0, len(resp.Errors))
		for _, e := range resp.Errors {
			msgs = append(msgs, e.Message)
		}
		return xerrors.New(xerrors.CodeMalformed, "graphql errors: "+strings.Join(msgs, "; "))
	}
	if len(resp.Data) == 0 || string(resp.Data) == "null" {
		return xerrors.New(xerrors.CodeMalformed, "graphql response has no data")
	}
	if err := json.Unmarshal(resp.Data, out); err != nil {
		return xerrors.Wrap(xerrors.CodeMalformed, err, "decode graphql data")
	}
	return nil
}

// Probe runs a trivial introspection query to confirm the endpoint answers.
func (c *GraphQLClient) Probe(ctx context.Context) error {
	var data struct {
		Typename string `json:"__typename"`
	}
	if err := c.query(ctx, probeQuery, nil, &data); err != nil {
		return err
	}
	if data.Typename == "" {
		return xerrors.New(xerrors.CodeMalformed, "graphql probe returned no __typename")
	}
	return nil
}

// HolderItem is one address returned by TopAddresses.
type HolderItem struct {
	Hash              string  `json:"hash"`
	CoinBalance       *string `json:"coinBalance"`
	TransactionsCount FlexInt `json:"transactionsCount"`
}

// Balance returns the coin balance in whole WCO.
func (h HolderItem) Balance() (decimal.Decimal, error) {
	return weiString(h.CoinBalance)
}

// TopAddresses fetches up to limit addresses ordered by balance descending
// in a single request.
func (c *GraphQLClient) TopAddresses(ctx context.Context, limit int) ([]HolderItem, error) {
	if limit <= 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "limit must be positive")
	}
	var data struct {
		Addresses *struct {
			Items []HolderItem `json:"items"`
		} `json:"addresses"`
	}
	if err := c.query(ctx, topAddressesQuery, map[string]any{"first": limit}, &data); err != nil {
		return nil, err
	}
	if data.Addresses == nil {
		return nil, xerrors.New(xerrors.CodeMalformed, "graphql response missing addresses")
	}
	return data.Addresses.Items, nil
}
