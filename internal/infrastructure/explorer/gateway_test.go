package explorer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/rail-service/payment_listener/internal/domain/entities"
	apperrors "github.com/rail-service/payment_listener/pkg/errors"
	"github.com/rail-service/payment_listener/pkg/logger"
	"github.com/rail-service/payment_listener/pkg/retry"
)

const (
	treasuryHex  = "41aabbccddeeff00112233445566778899aabbccdd"
	treasuryTron = "TRXxrG6ZxXVdxbRwo4Lpp88VYFh88pGiEt"
	senderHex    = "4111223344556677889900aabbccddeeff00112233"

	bscTreasury = "0xAbC0000000000000000000000000000000000001"
	bscUSDT     = "0x55d398326f99059fF775485246999027B3197955"
)

func fastPolicy() retry.Policy {
	return retry.Policy{
		MaxRetries:   1,
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
		Multiplier:   1,
	}
}

func newTestGateway(t *testing.T, network entities.Network, endpoints ...Endpoint) *Gateway {
	t.Helper()
	g, err := NewGateway(Config{
		Network:        network,
		Endpoints:      endpoints,
		TokenDecimals:  6,
		RequestTimeout: 2 * time.Second,
		Retry:          fastPolicy(),
	}, logger.NewNop())
	require.NoError(t, err)
	return g
}

func jsonServer(t *testing.T, status int, body string, calls *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			atomic.AddInt32(calls, 1)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func tronGridTRC20Body(txID, to, contract, value string, ts int64) string {
	return fmt.Sprintf(`{"success":true,"data":[{"transaction_id":%q,"block_timestamp":%d,"from":"TSender","to":%q,"type":"Transfer","value":%q,"token_info":{"address":%q,"decimals":6,"symbol":"USDT"}}]}`,
		txID, ts, to, value, contract)
}

func TestTronGridTRC20Parsing(t *testing.T) {
	var gotPath, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.String()
		gotKey = r.Header.Get("TRON-PRO-API-KEY")
		body := `{"success":true,"data":[` +
			`{"transaction_id":"tx1","block_timestamp":1700000000000,"from":"TSender","to":"` + treasuryTron + `","type":"Transfer","value":"15003100","token_info":{"address":"` + usdtTronContract + `","decimals":6}},` +
			`{"transaction_id":"tx2","block_timestamp":1700000000000,"from":"TSender","to":"TOther","type":"Transfer","value":"1","token_info":{"address":"` + usdtTronContract + `","decimals":6}},` +
			`{"transaction_id":"tx3","block_timestamp":1700000000000,"from":"TSender","to":"` + treasuryTron + `","type":"Transfer","value":"1","token_info":{"address":"TOtherToken","decimals":6}},` +
			`{"transaction_id":"tx4","block_timestamp":1700000000000,"from":"TSender","to":"` + treasuryTron + `","type":"Approval","value":"1","token_info":{"address":"` + usdtTronContract + `","decimals":6}}` +
			`]}`
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	g := newTestGateway(t, entities.NetworkTron, Endpoint{Name: "trongrid", Shape: ShapeTronGridTRC20, BaseURL: srv.URL, APIKey: "k1"})
	transfers, err := g.FetchRecentTransfers(context.Background(), treasuryTron, usdtTronContract)
	require.NoError(t, err)
	require.Len(t, transfers, 1)

	tr := transfers[0]
	assert.Equal(t, "tx1", tr.TxHash)
	assert.True(t, tr.Amount.Equal(decimal.RequireFromString("15.0031")))
	assert.Equal(t, entities.NetworkTron, tr.Network)
	assert.Equal(t, "trongrid", tr.Source)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), tr.Timestamp)
	assert.Equal(t, "k1", gotKey)
	assert.Contains(t, gotPath, "/v1/accounts/"+treasuryTron+"/transactions/trc20")
	assert.Contains(t, gotPath, "contract_address="+usdtTronContract)
}

func TestTronGridRawParsing(t *testing.T) {
	recipientWord := strings.Repeat("0", 24) + treasuryHex[2:]
	otherWord := strings.Repeat("0", 24) + senderHex[2:]
	amountWord := fmt.Sprintf("%064x", 15004000)
	call := func(txID, recipient, ret, kind string) string {
		return fmt.Sprintf(`{"txID":%q,"block_timestamp":1700000000000,"ret":[{"contractRet":%q}],"raw_data":{"contract":[{"type":%q,"parameter":{"value":{"data":%q,"owner_address":%q,"contract_address":%q}}}]}}`,
			txID, ret, kind, trc20TransferSelector+recipient+amountWord, senderHex, usdtTronContractHex)
	}
	body := `{"success":true,"data":[` +
		call("raw1", recipientWord, "SUCCESS", "TriggerSmartContract") + "," +
		call("raw2", otherWord, "SUCCESS", "TriggerSmartContract") + "," +
		call("raw3", recipientWord, "REVERT", "TriggerSmartContract") + "," +
		call("raw4", recipientWord, "SUCCESS", "TransferContract") +
		`]}`
	srv := jsonServer(t, http.StatusOK, body, nil)

	g := newTestGateway(t, entities.NetworkTron, Endpoint{Name: "trongrid-raw", Shape: ShapeTronGridRaw, BaseURL: srv.URL})
	transfers, err := g.FetchRecentTransfers(context.Background(), treasuryTron, usdtTronContract)
	require.NoError(t, err)
	require.Len(t, transfers, 1)
	assert.Equal(t, "raw1", transfers[0].TxHash)
	assert.Equal(t, treasuryTron, transfers[0].To)
	assert.Equal(t, mustTron(t, senderHex), transfers[0].From)
	assert.True(t, transfers[0].Amount.Equal(decimal.RequireFromString("15.004")))
}

func TestTronScanParsing(t *testing.T) {
	body := `{"total":2,"token_transfers":[` +
		`{"transaction_id":"ts1","block_ts":1700000000000,"from_address":"TSender","to_address":"` + treasuryTron + `","quant":"15000500","contract_address":"` + usdtTronContract + `","contractRet":"SUCCESS","finalResult":"SUCCESS","tokenInfo":{"tokenDecimal":6}},` +
		`{"transaction_id":"ts2","block_ts":1700000000000,"from_address":"TSender","to_address":"` + treasuryTron + `","quant":"15000500","contract_address":"` + usdtTronContract + `","contractRet":"SUCCESS","revert":true,"tokenInfo":{"tokenDecimal":6}}` +
		`]}`
	srv := jsonServer(t, http.StatusOK, body, nil)

	g := newTestGateway(t, entities.NetworkTron, Endpoint{Name: "tronscan", Shape: ShapeTronScanTransfers, BaseURL: srv.URL})
	transfers, err := g.FetchRecentTransfers(context.Background(), treasuryTron, usdtTronContract)
	require.NoError(t, err)
	require.Len(t, transfers, 1)
	assert.Equal(t, "ts1", transfers[0].TxHash)
	assert.True(t, transfers[0].Amount.Equal(decimal.RequireFromString("15.0005")))
}

func TestEtherscanParsing(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		body := `{"status":"1","message":"OK","result":[` +
			`{"hash":"0xabc","timeStamp":"1700000000","from":"0xsender","to":"` + strings.ToLower(bscTreasury) + `","contractAddress":"` + strings.ToLower(bscUSDT) + `","value":"15004000000000000000","tokenDecimal":"18"},` +
			`{"hash":"0xdef","timeStamp":"1700000000","from":"0xsender","to":"0x0000000000000000000000000000000000000009","contractAddress":"` + bscUSDT + `","value":"1","tokenDecimal":"18"}` +
			`]}`
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	g := newTestGateway(t, entities.NetworkBSC, Endpoint{Name: "bscscan", Shape: ShapeEtherscanTokenTx, BaseURL: srv.URL + "/api", APIKey: "key", ChainID: 56})
	transfers, err := g.FetchRecentTransfers(context.Background(), bscTreasury, bscUSDT)
	require.NoError(t, err)
	require.Len(t, transfers, 1)
	assert.Equal(t, "0xabc", transfers[0].TxHash)
	assert.Equal(t, entities.NetworkBSC, transfers[0].Network)
	assert.True(t, transfers[0].Amount.Equal(decimal.RequireFromString("15.004")))
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), transfers[0].Timestamp)
	assert.Contains(t, gotQuery, "action=tokentx")
	assert.Contains(t, gotQuery, "chainid=56")
	assert.Contains(t, gotQuery, "apikey=key")
}

func TestEtherscanNoTransactionsIsEmptySuccess(t *testing.T) {
	srv := jsonServer(t, http.StatusOK, `{"status":"0","message":"No transactions found","result":[]}`, nil)

	g := newTestGateway(t, entities.NetworkBSC, Endpoint{Name: "bscscan", Shape: ShapeEtherscanTokenTx, BaseURL: srv.URL})
	transfers, err := g.FetchRecentTransfers(context.Background(), bscTreasury, bscUSDT)
	require.NoError(t, err)
	assert.Empty(t, transfers)
}

func TestGatewayFallsBackToNextEndpoint(t *testing.T) {
	var primaryCalls, secondaryCalls int32
	primary := jsonServer(t, http.StatusServiceUnavailable, `upstream down`, &primaryCalls)
	secondary := jsonServer(t, http.StatusOK,
		tronGridTRC20Body("fallback", treasuryTron, usdtTronContract, "15000000", 1700000000000), &secondaryCalls)

	g := newTestGateway(t, entities.NetworkTron,
		Endpoint{Name: "primary", Shape: ShapeTronGridTRC20, BaseURL: primary.URL},
		Endpoint{Name: "secondary", Shape: ShapeTronGridTRC20, BaseURL: secondary.URL},
	)
	transfers, err := g.FetchRecentTransfers(context.Background(), treasuryTron, usdtTronContract)
	require.NoError(t, err)
	require.Len(t, transfers, 1)
	assert.Equal(t, "secondary", transfers[0].Source)
	// one attempt plus one retry on the failing endpoint
	assert.Equal(t, int32(2), atomic.LoadInt32(&primaryCalls))
	assert.Equal(t, int32(1), atomic.LoadInt32(&secondaryCalls))
}

func TestGatewayDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	primary := jsonServer(t, http.StatusBadRequest, `{"error":"bad address"}`, &calls)
	secondary := jsonServer(t, http.StatusOK, `{"success":true,"data":[]}`, nil)

	g := newTestGateway(t, entities.NetworkTron,
		Endpoint{Name: "primary", Shape: ShapeTronGridTRC20, BaseURL: primary.URL},
		Endpoint{Name: "secondary", Shape: ShapeTronGridTRC20, BaseURL: secondary.URL},
	)
	transfers, err := g.FetchRecentTransfers(context.Background(), treasuryTron, usdtTronContract)
	require.NoError(t, err)
	assert.Empty(t, transfers)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestEtherscanErrorEnvelope(t *testing.T) {
	q := query{treasury: bscTreasury, contract: bscUSDT, network: entities.NetworkBSC, source: "bscscan", decimals: 18}

	tests := []struct {
		name      string
		body      string
		wantMsg   string
		retryable bool
	}{
		{"string detail", `{"status":"0","message":"NOTOK","result":"Invalid API Key"}`, `etherscan status "0": NOTOK Invalid API Key`, false},
		{"rate limited", `{"status":"0","message":"NOTOK","result":"Max rate limit reached"}`, "Max rate limit reached", true},
		{"object detail", `{"status":"0","message":"NOTOK","result":{"code":7}}`, `etherscan status "0": NOTOK`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseEtherscanTokenTx([]byte(tt.body), q)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
			assert.Equal(t, tt.retryable, apperrors.ShouldRetry(err))
		})
	}
}

func TestGatewayAllEndpointsFailed(t *testing.T) {
	malformed := jsonServer(t, http.StatusOK, `{"status":"1","result":[`, nil)
	envelope := jsonServer(t, http.StatusOK, `{"status":"0","message":"NOTOK","result":"Invalid API Key"}`, nil)

	g := newTestGateway(t, entities.NetworkBSC,
		Endpoint{Name: "malformed", Shape: ShapeEtherscanTokenTx, BaseURL: malformed.URL},
		Endpoint{Name: "envelope", Shape: ShapeEtherscanTokenTx, BaseURL: envelope.URL},
	)
	transfers, err := g.FetchRecentTransfers(context.Background(), bscTreasury, bscUSDT)
	require.Error(t, err)
	assert.Nil(t, transfers)
	assert.True(t, errors.Is(err, ErrAllEndpointsFailed))
	assert.Contains(t, err.Error(), "malformed")
	assert.Contains(t, err.Error(), "Invalid API Key")
}

func TestGatewaySuccessFalseEnvelopeFails(t *testing.T) {
	srv := jsonServer(t, http.StatusOK, `{"success":false,"error":"quota exceeded"}`, nil)

	g := newTestGateway(t, entities.NetworkTron, Endpoint{Name: "trongrid", Shape: ShapeTronGridTRC20, BaseURL: srv.URL})
	_, err := g.FetchRecentTransfers(context.Background(), treasuryTron, usdtTronContract)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAllEndpointsFailed)
}

func TestGatewayHonoursCancelledContext(t *testing.T) {
	var calls int32
	srv := jsonServer(t, http.StatusOK, `{"success":true,"data":[]}`, &calls)
	g := newTestGateway(t, entities.NetworkTron, Endpoint{Name: "trongrid", Shape: ShapeTronGridTRC20, BaseURL: srv.URL})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := g.FetchRecentTransfers(ctx, treasuryTron, usdtTronContract)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestNewGatewayValidation(t *testing.T) {
	_, err := NewGateway(Config{Network: entities.NetworkTron}, logger.NewNop())
	assert.Error(t, err)

	_, err = NewGateway(Config{
		Network:   entities.NetworkTron,
		Endpoints: []Endpoint{{Name: "bscscan", Shape: ShapeEtherscanTokenTx, BaseURL: "http://x"}},
	}, logger.NewNop())
	assert.Error(t, err)

	_, err = NewGateway(Config{
		Network:   entities.NetworkTron,
		Endpoints: []Endpoint{{Name: "unknown", Shape: Shape("nope"), BaseURL: "http://x"}},
	}, logger.NewNop())
	assert.Error(t, err)

	_, err = NewGateway(Config{
		Network:   entities.NetworkTron,
		Endpoints: []Endpoint{{Name: "nourl", Shape: ShapeTronGridTRC20}},
	}, logger.NewNop())
	assert.Error(t, err)
}

func TestGatewayRedactsAPIKeyFromTransportErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	deadURL := srv.URL
	srv.Close()

	g := newTestGateway(t, entities.NetworkBSC, Endpoint{
		Name:    "bscscan",
		Shape:   ShapeEtherscanTokenTx,
		BaseURL: deadURL,
		APIKey:  "TOPSECRETKEY123",
	})
	_, err := g.FetchRecentTransfers(context.Background(), bscTreasury, bscUSDT)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "TOPSECRETKEY123")
	assert.True(t, strings.Contains(err.Error(), "bscscan"))
}

func hangingServer(t *testing.T, calls *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGatewayFallsBackWhenPrimaryHangs(t *testing.T) {
	var primaryCalls, secondaryCalls int32
	primary := hangingServer(t, &primaryCalls)
	secondary := jsonServer(t, http.StatusOK,
		tronGridTRC20Body("after-hang", treasuryTron, usdtTronContract, "15000000", 1700000000000), &secondaryCalls)

	// same shape as the production wiring: the client timeout equals the chain
	// budget and the retry policy is the default one
	chainBudget := time.Second
	g, err := NewGateway(Config{
		Network: entities.NetworkTron,
		Endpoints: []Endpoint{
			{Name: "primary", Shape: ShapeTronGridTRC20, BaseURL: primary.URL},
			{Name: "secondary", Shape: ShapeTronGridTRC20, BaseURL: secondary.URL},
		},
		TokenDecimals:  6,
		RequestTimeout: 150 * time.Millisecond,
		Retry:          retry.DefaultPolicy(),
		HTTPClient:     &http.Client{Timeout: chainBudget},
	}, logger.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), chainBudget)
	defer cancel()
	transfers, err := g.FetchRecentTransfers(ctx, treasuryTron, usdtTronContract)
	require.NoError(t, err)
	require.Len(t, transfers, 1)
	assert.Equal(t, "after-hang", transfers[0].TxHash)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&primaryCalls), int32(1))
	assert.Equal(t, int32(1), atomic.LoadInt32(&secondaryCalls))
}

func TestGatewayBreakerIgnoresCallerDeadline(t *testing.T) {
	var calls int32
	srv := hangingServer(t, &calls)

	newGateway := func(requestTimeout time.Duration) *Gateway {
		g, err := NewGateway(Config{
			Network:        entities.NetworkTron,
			Endpoints:      []Endpoint{{Name: "slow", Shape: ShapeTronGridTRC20, BaseURL: srv.URL}},
			TokenDecimals:  6,
			RequestTimeout: requestTimeout,
			Retry:          retry.Policy{MaxRetries: 0, Multiplier: 1},
			BreakerTrips:   1,
		}, logger.NewNop())
		require.NoError(t, err)
		return g
	}

	t.Run("caller deadline", func(t *testing.T) {
		g := newGateway(5 * time.Second)
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		_, err := g.FetchRecentTransfers(ctx, treasuryTron, usdtTronContract)
		require.Error(t, err)
		assert.Equal(t, gobreaker.StateClosed, g.clients[0].breaker.State())
	})

	t.Run("endpoint timeout", func(t *testing.T) {
		g := newGateway(100 * time.Millisecond)
		_, err := g.FetchRecentTransfers(context.Background(), treasuryTron, usdtTronContract)
		require.Error(t, err)
		assert.Equal(t, gobreaker.StateOpen, g.clients[0].breaker.State())
	})
}

func TestNewGatewayLogsMaskedAPIKey(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	_, err := NewGateway(Config{
		Network:   entities.NetworkBSC,
		Endpoints: []Endpoint{{Name: "bscscan", Shape: ShapeEtherscanTokenTx, BaseURL: "http://x", APIKey: "ABCD1234SECRET99"}},
	}, logger.NewFromZap(zap.New(core)))
	require.NoError(t, err)

	entries := logs.FilterMessage("Explorer endpoint configured").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "ABCD********ET99", fields["api_key"])
	assert.Equal(t, "bscscan", fields["endpoint"])
}
