package config

import (
	"context"
	"fmt"
	"time"

	"github.com/rail-service/payment_listener/internal/infrastructure/explorer"
	"github.com/rail-service/payment_listener/pkg/secrets"
)

var apiKeySecretNames = map[explorer.Shape]string{
	explorer.ShapeTronGridTRC20:     "TRONGRID_API_KEY",
	explorer.ShapeTronGridRaw:       "TRONGRID_API_KEY",
	explorer.ShapeTronScanTransfers: "TRONSCAN_API_KEY",
	explorer.ShapeEtherscanTokenTx:  "ETHERSCAN_API_KEY",
}

// secretRefs lists every credential field that may live in the secrets store
func secretRefs(c *Config) []secrets.Ref {
	refs := []secrets.Ref{
		{Key: "DATABASE_URL", Target: &c.Database.URL},
		{Key: "ADMIN_TOKEN", Target: &c.Server.AdminToken},
		{Key: "REDIS_PASSWORD", Target: &c.Redis.Password},
		{Key: "NOTIFICATION_WEBHOOK_SECRET", Target: &c.Notification.WebhookSecret},
		{Key: "SENDGRID_API_KEY", Target: &c.Email.APIKey},
	}
	for _, chain := range []*ChainConfig{&c.Tron, &c.BSC} {
		for i := range chain.Endpoints {
			ep := &chain.Endpoints[i]
			if name, ok := apiKeySecretNames[explorer.Shape(ep.Shape)]; ok {
				refs = append(refs, secrets.Ref{Key: name, Target: &ep.APIKey})
			}
		}
	}
	return refs
}

// resolveSecrets fills credentials left empty by the file and environment from the configured store
func resolveSecrets(c *Config) error {
	if c.Security.SecretsProvider == "" || c.Security.SecretsProvider == "env" {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	provider, err := secrets.New(ctx, secrets.Options{
		Provider: c.Security.SecretsProvider,
		Region:   c.Security.AWSSecretsRegion,
		Prefix:   c.Security.AWSSecretsPrefix,
		CacheTTL: c.Security.SecretsCacheTTL,
	})
	if err != nil {
		return fmt.Errorf("failed to create secrets provider: %w", err)
	}
	return resolveFrom(ctx, c, provider)
}

func resolveFrom(ctx context.Context, c *Config, provider secrets.Provider) error {
	if err := secrets.Resolve(ctx, provider, secretRefs(c)...); err != nil {
		return fmt.Errorf("failed to resolve secrets: %w", err)
	}
	return nil
}
