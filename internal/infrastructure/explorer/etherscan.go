package explorer

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/rail-service/payment_listener/internal/domain/entities"
	apperrors "github.com/rail-service/payment_listener/pkg/errors"
)

type etherscanTokenTxResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

type etherscanTokenTx struct {
	Hash            string `json:"hash"`
	TimeStamp       string `json:"timeStamp"`
	From            string `json:"from"`
	To              string `json:"to"`
	ContractAddress string `json:"contractAddress"`
	Value           string `json:"value"`
	TokenDecimal    string `json:"tokenDecimal"`
	IsError         string `json:"isError"`
}

// parseEtherscanTokenTx handles BscScan and the Etherscan v2 multichain API, which share a shape
func parseEtherscanTokenTx(body []byte, q query) ([]entities.ObservedTransfer, error) {
	var resp etherscanTokenTxResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode etherscan response: %w", err)
	}

	if resp.Status != "1" {
		if strings.HasPrefix(strings.ToLower(resp.Message), "no transactions found") {
			return []entities.ObservedTransfer{}, nil
		}
		// result carries a human readable reason only when it is a string
		var detail string
		if err := json.Unmarshal(resp.Result, &detail); err != nil {
			return nil, fmt.Errorf("etherscan status %q: %s", resp.Status, resp.Message)
		}
		err := fmt.Errorf("etherscan status %q: %s %s", resp.Status, resp.Message, detail)
		if strings.Contains(strings.ToLower(detail), "rate limit") {
			return nil, apperrors.Retryable(err)
		}
		return nil, err
	}

	var txs []etherscanTokenTx
	if err := json.Unmarshal(resp.Result, &txs); err != nil {
		return nil, fmt.Errorf("decode etherscan result: %w", err)
	}

	transfers := make([]entities.ObservedTransfer, 0, len(txs))
	for _, tx := range txs {
		if !sameEVMAddress(tx.To, q.treasury) || !sameEVMAddress(tx.ContractAddress, q.contract) {
			continue
		}
		if tx.IsError == "1" {
			continue
		}
		decimals := q.decimals
		if tx.TokenDecimal != "" {
			d, err := strconv.ParseInt(tx.TokenDecimal, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("transfer %s: token decimals %q: %w", tx.Hash, tx.TokenDecimal, err)
			}
			decimals = int32(d)
		}
		amount, err := decodeAmount(tx.Value, decimals)
		if err != nil {
			return nil, fmt.Errorf("transfer %s: %w", tx.Hash, err)
		}
		ts, err := epochSecondsString(tx.TimeStamp)
		if err != nil {
			return nil, fmt.Errorf("transfer %s: %w", tx.Hash, err)
		}
		transfers = append(transfers, entities.ObservedTransfer{
			Amount:        amount,
			TxHash:        tx.Hash,
			Timestamp:     ts,
			Network:       q.network,
			From:          tx.From,
			To:            tx.To,
			TokenContract: tx.ContractAddress,
			Source:        q.source,
		})
	}
	return transfers, nil
}
