package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/rail-service/payment_listener/internal/infrastructure/explorer"
)

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("tron_addr", func(fl validator.FieldLevel) bool {
		return explorer.ValidateTronAddress(fl.Field().String()) == nil
	})
	_ = v.RegisterValidation("decimal_positive", func(fl validator.FieldLevel) bool {
		d, err := decimal.NewFromString(fl.Field().String())
		return err == nil && d.IsPositive()
	})
	return v
}

type chainRules struct {
	Treasury      string `validate:"required"`
	TokenContract string `validate:"required"`
}

type tronRules struct {
	Treasury      string `validate:"tron_addr"`
	TokenContract string `validate:"tron_addr"`
}

type evmRules struct {
	Treasury      string `validate:"eth_addr"`
	TokenContract string `validate:"eth_addr"`
}

type amountRules struct {
	Tolerance   string   `validate:"decimal_positive"`
	OffsetWidth string   `validate:"decimal_positive"`
	Tiers       []string `validate:"dive,decimal_positive"`
}

// Validate checks struct tags, treasury and contract addresses, and the credentials each enabled sink needs
func Validate(config *Config) error {
	v := newValidator()
	if err := v.Struct(config); err != nil {
		return err
	}

	if config.Database.URL == "" && (config.Database.Host == "" || config.Database.Name == "") {
		return fmt.Errorf("database configuration is incomplete")
	}

	if err := v.Struct(amountRules{
		Tolerance:   config.Reconciliation.Tolerance,
		OffsetWidth: config.Payment.OffsetWidth,
		Tiers:       config.Payment.Tiers,
	}); err != nil {
		return fmt.Errorf("amounts: %w", err)
	}

	if !config.Tron.Enabled && !config.BSC.Enabled {
		return errors.New("at least one chain must be enabled")
	}
	if config.Tron.Enabled {
		if err := validateChain(v, "tron", config.Tron, tronRules{config.Tron.Treasury, config.Tron.TokenContract}); err != nil {
			return err
		}
	}
	if config.BSC.Enabled {
		if err := validateChain(v, "bsc", config.BSC, evmRules{config.BSC.Treasury, config.BSC.TokenContract}); err != nil {
			return err
		}
	}

	for _, sink := range config.Notification.Sinks {
		switch sink {
		case "webhook":
			if config.Notification.WebhookURL == "" || config.Notification.WebhookSecret == "" {
				return errors.New("webhook sink requires notification.webhook_url and notification.webhook_secret")
			}
		case "sns":
			if config.Notification.TopicARN == "" {
				return errors.New("sns sink requires notification.topic_arn")
			}
		case "email":
			if config.Email.APIKey == "" || config.Email.FromEmail == "" || len(config.Email.AlertRecipients) == 0 {
				return errors.New("email sink requires email.api_key, email.from_email and email.alert_recipients")
			}
		}
	}
	return nil
}

func validateChain(v *validator.Validate, name string, chain ChainConfig, rules interface{}) error {
	if err := v.Struct(chainRules{Treasury: chain.Treasury, TokenContract: chain.TokenContract}); err != nil {
		return fmt.Errorf("%s: treasury address and token contract are required: %w", name, err)
	}
	if err := v.Struct(rules); err != nil {
		return fmt.Errorf("%s: invalid address: %w", name, err)
	}
	if len(chain.Endpoints) == 0 {
		return fmt.Errorf("%s: at least one explorer endpoint is required", name)
	}
	network := explorer.ShapeEtherscanTokenTx.Network()
	if name == "tron" {
		network = explorer.ShapeTronGridTRC20.Network()
	}
	for _, ep := range chain.Endpoints {
		if explorer.Shape(ep.Shape).Network() != network {
			return fmt.Errorf("%s: endpoint %q uses shape %s of another chain", name, ep.Name, ep.Shape)
		}
	}
	return nil
}
