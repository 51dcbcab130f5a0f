package stripe

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/customer"
	"go.uber.org/zap"

	"coursejobs/internal/worker"
)

// Client manages customers at the payment provider. Errors from the API are
// *stripe.Error values.
type Client struct {
	customers customer.Client
}

// New builds a client against baseURL. Network retries are left to the job
// queue, which already retries with backoff.
func New(baseURL, apiKey string, httpClient *http.Client, log *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if log == nil {
		log = zap.NewNop()
	}
	cfg := &stripe.BackendConfig{
		HTTPClient:        httpClient,
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     log.Named("stripe").Sugar(),
	}
	if baseURL = strings.TrimRight(baseURL, "/"); baseURL != "" {
		cfg.URL = stripe.String(baseURL)
	}
	return &Client{customers: customer.Client{
		B:   stripe.GetBackendWithConfig(stripe.APIBackend, cfg),
		Key: apiKey,
	}}
}

func customerParams(ctx context.Context, p worker.CustomerParams) *stripe.CustomerParams {
	params := &stripe.CustomerParams{}
	params.Context = ctx
	if p.Email != "" {
		params.Email = stripe.String(p.Email)
	}
	if p.Name != "" {
		params.Name = stripe.String(p.Name)
	}
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}
	return params
}

// CreateCustomer creates a customer. Replays with the same idempotency key
// return the original customer instead of creating another.
func (c *Client) CreateCustomer(ctx context.Context, params worker.CustomerParams, idempotencyKey string) (string, error) {
	req := customerParams(ctx, params)
	if idempotencyKey != "" {
		req.SetIdempotencyKey(idempotencyKey)
	}
	cus, err := c.customers.New(req)
	if err != nil {
		return "", fmt.Errorf("create customer: %w", err)
	}
	if cus.ID == "" {
		return "", fmt.Errorf("payment provider returned no customer id")
	}
	return cus.ID, nil
}

func (c *Client) UpdateCustomer(ctx context.Context, customerID string, params worker.CustomerParams) error {
	if _, err := c.customers.Update(customerID, customerParams(ctx, params)); err != nil {
		return fmt.Errorf("update customer %s: %w", customerID, err)
	}
	return nil
}
