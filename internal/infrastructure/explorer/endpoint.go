// Package explorer implements the ledger gateways: each one wraps a ranked
// list of third-party explorer endpoints and returns the inbound token
// transfers to a treasury address.
package explorer

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/rail-service/payment_listener/internal/domain/entities"
)

// Shape selects the request format and response parser of an endpoint
type Shape string

const (
	ShapeTronGridTRC20     Shape = "trongrid_trc20"
	ShapeTronScanTransfers Shape = "tronscan_transfers"
	ShapeTronGridRaw       Shape = "trongrid_raw"
	ShapeEtherscanTokenTx  Shape = "etherscan_tokentx"
)

// Network reports which chain the shape belongs to
func (s Shape) Network() entities.Network {
	switch s {
	case ShapeEtherscanTokenTx:
		return entities.NetworkBSC
	default:
		return entities.NetworkTron
	}
}

// Endpoint is one upstream explorer API in a gateway's fallback chain
type Endpoint struct {
	Name    string
	Shape   Shape
	BaseURL string
	APIKey  string
	// ChainID is sent to multichain Etherscan-family APIs (v2); zero omits it
	ChainID int
	// Limit is the page size requested from the explorer
	Limit int
	// RequestsPerSecond caps the call rate; zero means unlimited
	RequestsPerSecond float64
	// TokenDecimals is used when the response does not carry the token precision
	TokenDecimals int32
}

// query is what a parser needs to filter and normalise one response
type query struct {
	treasury string
	contract string
	network  entities.Network
	source   string
	decimals int32
}

type parser func(body []byte, q query) ([]entities.ObservedTransfer, error)

func (s Shape) parser() (parser, error) {
	switch s {
	case ShapeTronGridTRC20:
		return parseTronGridTRC20, nil
	case ShapeTronScanTransfers:
		return parseTronScanTransfers, nil
	case ShapeTronGridRaw:
		return parseTronGridRaw, nil
	case ShapeEtherscanTokenTx:
		return parseEtherscanTokenTx, nil
	}
	return nil, fmt.Errorf("unsupported explorer response shape %q", s)
}

// newRequest builds the GET request for the endpoint's shape
func (e Endpoint) newRequest(treasury, contract string) (*http.Request, error) {
	base := strings.TrimRight(e.BaseURL, "/")
	limit := e.Limit
	if limit <= 0 {
		limit = 50
	}

	var rawURL string
	switch e.Shape {
	case ShapeTronGridTRC20:
		rawURL = fmt.Sprintf("%s/v1/accounts/%s/transactions/trc20?only_to=true&only_confirmed=true&limit=%d&contract_address=%s",
			base, treasury, limit, contract)
	case ShapeTronGridRaw:
		rawURL = fmt.Sprintf("%s/v1/accounts/%s/transactions?only_to=true&limit=%d", base, treasury, limit)
	case ShapeTronScanTransfers:
		rawURL = fmt.Sprintf("%s/api/token_trc20/transfers?limit=%d&start=0&sort=-timestamp&toAddress=%s&contract_address=%s",
			base, limit, treasury, contract)
	case ShapeEtherscanTokenTx:
		rawURL = fmt.Sprintf("%s?module=account&action=tokentx&contractaddress=%s&address=%s&page=1&offset=%d&sort=desc",
			base, contract, treasury, limit)
		if e.ChainID > 0 {
			rawURL += fmt.Sprintf("&chainid=%d", e.ChainID)
		}
		if e.APIKey != "" {
			rawURL += "&apikey=" + e.APIKey
		}
	default:
		return nil, fmt.Errorf("unsupported explorer response shape %q", e.Shape)
	}

	req, err := http.NewRequest(http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if e.APIKey != "" && e.Shape != ShapeEtherscanTokenTx {
		req.Header.Set("TRON-PRO-API-KEY", e.APIKey)
	}
	return req, nil
}
