package secrets

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
)

// Options selects and configures a provider
type Options struct {
	Provider string // env or aws_secrets_manager
	Region   string
	Prefix   string
	CacheTTL time.Duration
}

// New builds the configured provider, cached when a TTL is set
func New(ctx context.Context, opts Options) (Provider, error) {
	var p Provider
	switch opts.Provider {
	case "", "env":
		p = NewEnvProvider()
	case "aws_secrets_manager":
		aws, err := NewAWSSecretsManagerProvider(ctx, opts.Region, opts.Prefix)
		if err != nil {
			return nil, err
		}
		p = aws
	default:
		return nil, fmt.Errorf("unknown secrets provider %q", opts.Provider)
	}
	if opts.CacheTTL > 0 {
		p = NewCachedProvider(p, opts.CacheTTL)
	}
	return p, nil
}

// Ref points a secret key at the string it fills
type Ref struct {
	Key      string
	Target   *string
	Required bool
}

// Resolve fills every empty target from the provider. Targets that already
// hold a value are left untouched. Missing optional secrets are ignored.
func Resolve(ctx context.Context, p Provider, refs ...Ref) error {
	var errs error
	for _, ref := range refs {
		if ref.Target == nil || *ref.Target != "" {
			continue
		}
		value, err := p.GetSecret(ctx, ref.Key)
		if err != nil {
			if errors.Is(err, ErrSecretNotFound) && !ref.Required {
				continue
			}
			errs = multierr.Append(errs, err)
			continue
		}
		*ref.Target = value
	}
	return errs
}
