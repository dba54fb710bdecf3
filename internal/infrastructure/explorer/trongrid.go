package explorer

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rail-service/payment_listener/internal/domain/entities"
	apperrors "github.com/rail-service/payment_listener/pkg/errors"
)

const (
	trc20TransferSelector = "a9059cbb"
	triggerSmartContract  = "TriggerSmartContract"
	contractRetSuccess    = "SUCCESS"
)

type tronGridTRC20Response struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Data    []struct {
		TransactionID  string `json:"transaction_id"`
		BlockTimestamp int64  `json:"block_timestamp"`
		From           string `json:"from"`
		To             string `json:"to"`
		Type           string `json:"type"`
		Value          string `json:"value"`
		TokenInfo      struct {
			Address  string `json:"address"`
			Decimals int32  `json:"decimals"`
			Symbol   string `json:"symbol"`
		} `json:"token_info"`
	} `json:"data"`
}

func parseTronGridTRC20(body []byte, q query) ([]entities.ObservedTransfer, error) {
	var resp tronGridTRC20Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode trongrid trc20 response: %w", err)
	}
	if !resp.Success {
		return nil, apperrors.Retryable(fmt.Errorf("trongrid reported failure: %s", resp.Error))
	}

	transfers := make([]entities.ObservedTransfer, 0, len(resp.Data))
	for _, tx := range resp.Data {
		if tx.To != q.treasury || tx.TokenInfo.Address != q.contract {
			continue
		}
		if tx.Type != "" && tx.Type != "Transfer" {
			continue
		}
		decimals := tx.TokenInfo.Decimals
		if decimals == 0 {
			decimals = q.decimals
		}
		amount, err := decodeAmount(tx.Value, decimals)
		if err != nil {
			return nil, fmt.Errorf("transfer %s: %w", tx.TransactionID, err)
		}
		transfers = append(transfers, entities.ObservedTransfer{
			Amount:        amount,
			TxHash:        tx.TransactionID,
			Timestamp:     epochMillis(tx.BlockTimestamp),
			Network:       q.network,
			From:          tx.From,
			To:            tx.To,
			TokenContract: tx.TokenInfo.Address,
			Source:        q.source,
		})
	}
	return transfers, nil
}

type tronGridRawResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Data    []struct {
		TxID           string `json:"txID"`
		BlockTimestamp int64  `json:"block_timestamp"`
		Ret            []struct {
			ContractRet string `json:"contractRet"`
		} `json:"ret"`
		RawData struct {
			Timestamp int64 `json:"timestamp"`
			Contract  []struct {
				Type      string `json:"type"`
				Parameter struct {
					Value struct {
						Data            string `json:"data"`
						OwnerAddress    string `json:"owner_address"`
						ContractAddress string `json:"contract_address"`
					} `json:"value"`
				} `json:"parameter"`
			} `json:"contract"`
		} `json:"raw_data"`
	} `json:"data"`
}

// parseTronGridRaw decodes transfer(address,uint256) calldata from raw account transactions
func parseTronGridRaw(body []byte, q query) ([]entities.ObservedTransfer, error) {
	var resp tronGridRawResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode trongrid transactions response: %w", err)
	}
	if !resp.Success {
		return nil, apperrors.Retryable(fmt.Errorf("trongrid reported failure: %s", resp.Error))
	}

	transfers := make([]entities.ObservedTransfer, 0, len(resp.Data))
	for _, tx := range resp.Data {
		if len(tx.RawData.Contract) == 0 || tx.RawData.Contract[0].Type != triggerSmartContract {
			continue
		}
		if len(tx.Ret) > 0 && tx.Ret[0].ContractRet != contractRetSuccess {
			continue
		}
		value := tx.RawData.Contract[0].Parameter.Value
		data := strings.ToLower(value.Data)
		// selector + 32-byte recipient word + 32-byte amount word
		if !strings.HasPrefix(data, trc20TransferSelector) || len(data) < 8+64+64 {
			continue
		}

		contract, err := TronHexToBase58(value.ContractAddress)
		if err != nil || contract != q.contract {
			continue
		}
		recipient, err := TronHexToBase58(data[8+24 : 8+64])
		if err != nil || recipient != q.treasury {
			continue
		}
		amount, err := decodeHexAmount(data[8+64:8+128], q.decimals)
		if err != nil {
			return nil, fmt.Errorf("transfer %s: %w", tx.TxID, err)
		}
		from, _ := TronHexToBase58(value.OwnerAddress)

		ts := tx.BlockTimestamp
		if ts == 0 {
			ts = tx.RawData.Timestamp
		}
		transfers = append(transfers, entities.ObservedTransfer{
			Amount:        amount,
			TxHash:        tx.TxID,
			Timestamp:     epochMillis(ts),
			Network:       q.network,
			From:          from,
			To:            recipient,
			TokenContract: contract,
			Source:        q.source,
		})
	}
	return transfers, nil
}
