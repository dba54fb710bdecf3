package di

import (
	"fmt"
	"net/http"

	"github.com/rail-service/payment_listener/internal/domain/entities"
	"github.com/rail-service/payment_listener/internal/domain/services/payment"
	"github.com/rail-service/payment_listener/internal/domain/services/reconciliation"
	"github.com/rail-service/payment_listener/internal/infrastructure/config"
	"github.com/rail-service/payment_listener/internal/infrastructure/explorer"
	"github.com/rail-service/payment_listener/pkg/logger"
	"github.com/rail-service/payment_listener/pkg/retry"
)

// chainSpec pairs a configured chain with its network
type chainSpec struct {
	network entities.Network
	config  config.ChainConfig
}

func enabledChains(cfg *config.Config) []chainSpec {
	var specs []chainSpec
	if cfg.Tron.Enabled {
		specs = append(specs, chainSpec{network: entities.NetworkTron, config: cfg.Tron})
	}
	if cfg.BSC.Enabled {
		specs = append(specs, chainSpec{network: entities.NetworkBSC, config: cfg.BSC})
	}
	return specs
}

func buildEndpoints(chain config.ChainConfig) []explorer.Endpoint {
	endpoints := make([]explorer.Endpoint, 0, len(chain.Endpoints))
	for _, ep := range chain.Endpoints {
		endpoints = append(endpoints, explorer.Endpoint{
			Name:              ep.Name,
			Shape:             explorer.Shape(ep.Shape),
			BaseURL:           ep.BaseURL,
			APIKey:            ep.APIKey,
			ChainID:           ep.ChainID,
			Limit:             ep.Limit,
			RequestsPerSecond: ep.RequestsPerSecond,
			TokenDecimals:     chain.TokenDecimals,
		})
	}
	return endpoints
}

// buildChains creates one gateway per enabled chain, in TRON, BSC order
func buildChains(cfg *config.Config, httpClient *http.Client, log *logger.Logger) ([]reconciliation.Chain, error) {
	var chains []reconciliation.Chain
	for _, spec := range enabledChains(cfg) {
		gateway, err := explorer.NewGateway(explorer.Config{
			Network:        spec.network,
			Endpoints:      buildEndpoints(spec.config),
			TokenDecimals:  spec.config.TokenDecimals,
			RequestTimeout: cfg.Reconciliation.RequestTimeout,
			Retry:          retry.DefaultPolicy(),
			HTTPClient:     httpClient,
		}, log.With("network", spec.network))
		if err != nil {
			return nil, fmt.Errorf("%s gateway: %w", spec.network, err)
		}
		chains = append(chains, reconciliation.Chain{
			Network:       spec.network,
			Treasury:      spec.config.Treasury,
			TokenContract: spec.config.TokenContract,
			Gateway:       gateway,
		})
	}
	return chains, nil
}

func paymentNetworks(cfg *config.Config) []payment.PaymentNetwork {
	var networks []payment.PaymentNetwork
	for _, spec := range enabledChains(cfg) {
		networks = append(networks, payment.PaymentNetwork{
			Network:       spec.network,
			Treasury:      spec.config.Treasury,
			TokenContract: spec.config.TokenContract,
		})
	}
	return networks
}
