package explorer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/multierr"
	"golang.org/x/time/rate"

	"github.com/rail-service/payment_listener/internal/domain/entities"
	apperrors "github.com/rail-service/payment_listener/pkg/errors"
	"github.com/rail-service/payment_listener/pkg/logger"
	"github.com/rail-service/payment_listener/pkg/metrics"
	"github.com/rail-service/payment_listener/pkg/retry"
	"github.com/rail-service/payment_listener/pkg/security"
)

const (
	defaultRequestTimeout = 4 * time.Second
	defaultBreakerTrips   = 5
	maxBodyBytes          = 4 << 20
)

// ErrAllEndpointsFailed is returned when no endpoint in the chain produced a usable answer
var ErrAllEndpointsFailed = errors.New("all explorer endpoints failed")

// Config configures one chain's gateway
type Config struct {
	Network       entities.Network
	Endpoints     []Endpoint
	TokenDecimals int32
	// RequestTimeout bounds a single HTTP attempt against one endpoint
	RequestTimeout time.Duration
	Retry          retry.Policy
	// BreakerTrips is the number of consecutive failures that opens an endpoint's breaker
	BreakerTrips uint32
	HTTPClient   *http.Client
}

// Gateway fetches inbound token transfers from a ranked chain of explorer endpoints
type Gateway struct {
	network entities.Network
	clients []*endpointClient
	log     *logger.Logger
}

type endpointClient struct {
	endpoint       Endpoint
	parse          parser
	decimals       int32
	httpClient     *http.Client
	requestTimeout time.Duration
	breaker        *gobreaker.CircuitBreaker
	limiter        *rate.Limiter
	retrier        *retry.Retrier
}

// callerDoneError marks a failure caused by the caller's context ending,
// which says nothing about the endpoint's health
type callerDoneError struct {
	err error
}

func (e *callerDoneError) Error() string { return e.err.Error() }

func (e *callerDoneError) Unwrap() error { return e.err }

func breakerSuccess(err error) bool {
	var done *callerDoneError
	return err == nil || errors.As(err, &done)
}

// NewGateway validates the endpoint chain and builds one protected client per endpoint
func NewGateway(cfg Config, log *logger.Logger) (*Gateway, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("%s gateway: no endpoints configured", cfg.Network)
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.BreakerTrips == 0 {
		cfg.BreakerTrips = defaultBreakerTrips
	}
	if cfg.Retry.Multiplier == 0 {
		cfg.Retry = retry.DefaultPolicy()
	}
	if err := cfg.Retry.Validate(); err != nil {
		return nil, fmt.Errorf("%s gateway: %w", cfg.Network, err)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.RequestTimeout}
	}

	log = log.With("network", string(cfg.Network))
	g := &Gateway{network: cfg.Network, log: log}

	for _, ep := range cfg.Endpoints {
		if ep.BaseURL == "" {
			return nil, fmt.Errorf("%s gateway: endpoint %q has no base url", cfg.Network, ep.Name)
		}
		if ep.Shape.Network() != cfg.Network {
			return nil, fmt.Errorf("%s gateway: endpoint %q shape %s serves %s", cfg.Network, ep.Name, ep.Shape, ep.Shape.Network())
		}
		p, err := ep.Shape.parser()
		if err != nil {
			return nil, fmt.Errorf("%s gateway: endpoint %q: %w", cfg.Network, ep.Name, err)
		}
		if ep.Name == "" {
			ep.Name = string(ep.Shape)
		}
		decimals := ep.TokenDecimals
		if decimals == 0 {
			decimals = cfg.TokenDecimals
		}

		limit := rate.Inf
		if ep.RequestsPerSecond > 0 {
			limit = rate.Limit(ep.RequestsPerSecond)
		}

		name := ep.Name
		trips := cfg.BreakerTrips
		breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        fmt.Sprintf("%s/%s", cfg.Network, name),
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= trips
			},
			IsSuccessful: breakerSuccess,
			OnStateChange: func(breakerName string, from, to gobreaker.State) {
				log.Info("Explorer circuit breaker state changed",
					"breaker", breakerName,
					"from", from.String(),
					"to", to.String())
			},
		})

		g.clients = append(g.clients, &endpointClient{
			endpoint:       ep,
			parse:          p,
			decimals:       decimals,
			httpClient:     httpClient,
			requestTimeout: cfg.RequestTimeout,
			breaker:        breaker,
			limiter:        rate.NewLimiter(limit, 1),
			retrier:        retry.NewRetrier(cfg.Retry, log.Zap()),
		})
		log.Info("Explorer endpoint configured",
			"endpoint", ep.Name,
			"shape", string(ep.Shape),
			"rank", len(g.clients),
			"api_key", security.MaskAPIKey(ep.APIKey))
	}
	return g, nil
}

// Network reports the chain served by the gateway
func (g *Gateway) Network() entities.Network {
	return g.network
}

// FetchRecentTransfers asks each endpoint in rank order and returns the first successful answer.
// When ctx carries a deadline, each endpoint gets an equal share of the time left so that a
// hanging endpoint cannot starve the ones ranked after it.
func (g *Gateway) FetchRecentTransfers(ctx context.Context, treasury, contract string) ([]entities.ObservedTransfer, error) {
	var errs error
	for i, c := range g.clients {
		if err := ctx.Err(); err != nil {
			return nil, multierr.Append(errs, err)
		}

		start := time.Now()
		endpointCtx, cancel := endpointBudget(ctx, len(g.clients)-i)
		transfers, err := c.fetch(ctx, endpointCtx, g.network, treasury, contract)
		cancel()
		if err == nil {
			g.log.Debug("Fetched explorer transfers",
				"endpoint", c.endpoint.Name,
				"count", len(transfers),
				"duration", time.Since(start))
			return transfers, nil
		}

		metrics.EndpointFailures.WithLabelValues(string(g.network), c.endpoint.Name).Inc()
		g.log.Warn("Explorer endpoint failed, trying next",
			"endpoint", c.endpoint.Name,
			"error", err,
			"duration", time.Since(start))
		errs = multierr.Append(errs, fmt.Errorf("%s: %w", c.endpoint.Name, err))
	}
	return nil, fmt.Errorf("%w (%s): %w", ErrAllEndpointsFailed, g.network, errs)
}

// endpointBudget splits the time left on ctx evenly across the remaining endpoints
func endpointBudget(ctx context.Context, remaining int) (context.Context, context.CancelFunc) {
	deadline, ok := ctx.Deadline()
	if !ok || remaining <= 1 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, time.Until(deadline)/time.Duration(remaining))
}

// fetch runs the retried call inside the endpoint's breaker. parent is the caller's
// context; ctx is the endpoint's share of it.
func (c *endpointClient) fetch(parent, ctx context.Context, network entities.Network, treasury, contract string) ([]entities.ObservedTransfer, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	q := query{
		treasury: treasury,
		contract: contract,
		network:  network,
		source:   c.endpoint.Name,
		decimals: c.decimals,
	}
	result, err := c.breaker.Execute(func() (interface{}, error) {
		transfers, err := retry.DoWithResult(ctx, c.retrier, func(ctx context.Context) ([]entities.ObservedTransfer, error) {
			return c.fetchOnce(ctx, q)
		})
		if err != nil && parent.Err() != nil {
			return nil, &callerDoneError{err: err}
		}
		return transfers, err
	})
	if err != nil {
		return nil, err
	}
	return result.([]entities.ObservedTransfer), nil
}

func (c *endpointClient) fetchOnce(ctx context.Context, q query) ([]entities.ObservedTransfer, error) {
	req, err := c.endpoint.newRequest(q.treasury, q.contract)
	if err != nil {
		return nil, apperrors.Permanent(err)
	}
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()
	req = req.WithContext(ctx)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			urlErr.URL = security.RedactURL(urlErr.URL)
		}
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, apperrors.Retryable(fmt.Errorf("read body: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &apperrors.HTTPStatusError{
			StatusCode: resp.StatusCode,
			Endpoint:   c.endpoint.Name,
			Body:       security.RedactString(truncate(strings.TrimSpace(string(body)), 256)),
		}
	}
	return c.parse(body, q)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
