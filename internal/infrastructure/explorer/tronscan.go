package explorer

import (
	"encoding/json"
	"fmt"

	"github.com/rail-service/payment_listener/internal/domain/entities"
)

type tronScanTransfersResponse struct {
	Total          int `json:"total"`
	TokenTransfers []struct {
		TransactionID   string `json:"transaction_id"`
		BlockTS         int64  `json:"block_ts"`
		FromAddress     string `json:"from_address"`
		ToAddress       string `json:"to_address"`
		Quant           string `json:"quant"`
		ContractAddress string `json:"contract_address"`
		ContractRet     string `json:"contractRet"`
		FinalResult     string `json:"finalResult"`
		Revert          bool   `json:"revert"`
		TokenInfo       struct {
			TokenID      string `json:"tokenId"`
			TokenDecimal int32  `json:"tokenDecimal"`
		} `json:"tokenInfo"`
	} `json:"token_transfers"`
}

func parseTronScanTransfers(body []byte, q query) ([]entities.ObservedTransfer, error) {
	var resp tronScanTransfersResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode tronscan transfers response: %w", err)
	}
	if resp.TokenTransfers == nil {
		return nil, fmt.Errorf("tronscan response has no token_transfers field")
	}

	transfers := make([]entities.ObservedTransfer, 0, len(resp.TokenTransfers))
	for _, tx := range resp.TokenTransfers {
		if tx.ToAddress != q.treasury || tx.ContractAddress != q.contract {
			continue
		}
		if tx.Revert || (tx.ContractRet != "" && tx.ContractRet != contractRetSuccess) {
			continue
		}
		if tx.FinalResult != "" && tx.FinalResult != contractRetSuccess {
			continue
		}
		decimals := tx.TokenInfo.TokenDecimal
		if decimals == 0 {
			decimals = q.decimals
		}
		amount, err := decodeAmount(tx.Quant, decimals)
		if err != nil {
			return nil, fmt.Errorf("transfer %s: %w", tx.TransactionID, err)
		}
		transfers = append(transfers, entities.ObservedTransfer{
			Amount:        amount,
			TxHash:        tx.TransactionID,
			Timestamp:     epochMillis(tx.BlockTS),
			Network:       q.network,
			From:          tx.FromAddress,
			To:            tx.ToAddress,
			TokenContract: tx.ContractAddress,
			Source:        q.source,
		})
	}
	return transfers, nil
}
