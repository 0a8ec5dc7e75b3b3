package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/circuitbreaker"
	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/logging"
)

// SettlementRequest is one push to the customer's phone.
type SettlementRequest struct {
	TransactionCode string          `json:"transaction_code"`
	OrderCode       string          `json:"account_reference"`
	PhoneNumber     string          `json:"phone_number"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
}

// SettlementResult is the gateway's synchronous answer. Success false
// means "not confirmed yet", not a decline.
type SettlementResult struct {
	Success bool   `json:"success"`
	Receipt string `json:"receipt,omitempty"`
	Message string `json:"message,omitempty"`
}

// Settler is the mobile-money gateway seen from the payment engine.
type Settler interface {
	Settle(ctx context.Context, req *SettlementRequest) (*SettlementResult, error)
}

// NewSettler builds the configured gateway wrapped in a circuit breaker.
func NewSettler(cfg config.SettlementConfig, logger *logging.Logger) Settler {
	var inner Settler
	switch cfg.Mode {
	case "http":
		inner = NewHTTPSettlementClient(cfg, logger)
	default:
		inner = NewSimulator(cfg, logger)
	}
	breaker := circuitbreaker.NewCircuitBreaker(cfg.BreakerFailures, cfg.BreakerReset)
	return NewBreakerSettler(inner, breaker, logger)
}

// Simulator stands in for the gateway: it waits, then confirms with a
// fixed probability.
type Simulator struct {
	latency     time.Duration
	successRate float64
	random      func() float64
	logger      *logging.Logger
}

func NewSimulator(cfg config.SettlementConfig, logger *logging.Logger) *Simulator {
	return &Simulator{
		latency:     cfg.Latency,
		successRate: cfg.SuccessRate,
		random:      rand.Float64,
		logger:      logger.Named("settlement-simulator"),
	}
}

func (s *Simulator) Settle(ctx context.Context, req *SettlementRequest) (*SettlementResult, error) {
	if s.latency > 0 {
		timer := time.NewTimer(s.latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	if s.random() >= s.successRate {
		s.logger.Info("Simulated settlement not confirmed", logging.Fields{
			"transaction_code": req.TransactionCode,
		})
		return &SettlementResult{Success: false, Message: "awaiting confirmation"}, nil
	}

	receipt := fmt.Sprintf("RCP%06d", rand.IntN(1000000))
	s.logger.Info("Simulated settlement confirmed", logging.Fields{
		"transaction_code": req.TransactionCode,
		"receipt":          receipt,
	})
	return &SettlementResult{Success: true, Receipt: receipt}, nil
}

// HTTPSettlementClient pushes payment prompts to a real gateway.
type HTTPSettlementClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

func NewHTTPSettlementClient(cfg config.SettlementConfig, logger *logging.Logger) *HTTPSettlementClient {
	return &HTTPSettlementClient{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger.Named("settlement-client"),
	}
}

// Settle returns Success false on 202: the gateway accepted the prompt
// and will confirm through the callback.
func (c *HTTPSettlementClient) Settle(ctx context.Context, req *SettlementRequest) (*SettlementResult, error) {
	c.logger.Debug("Pushing settlement request", logging.Fields{
		"transaction_code": req.TransactionCode,
		"amount":           req.Amount.String(),
	})

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/api/v1/stkpush", c.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	setHeaders(ctx, httpReq, "")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Error("Settlement request failed", logging.Fields{
			"transaction_code": req.TransactionCode,
			"error":            err.Error(),
		})
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var result SettlementResult
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return nil, err
		}
		return &result, nil
	case http.StatusAccepted:
		return &SettlementResult{Success: false, Message: "accepted by gateway"}, nil
	default:
		c.logger.Error("Settlement request returned error", logging.Fields{
			"transaction_code": req.TransactionCode,
			"status_code":      resp.StatusCode,
		})
		return nil, fmt.Errorf("settlement gateway returned status %d", resp.StatusCode)
	}
}

// BreakerSettler short-circuits calls while the gateway keeps failing.
type BreakerSettler struct {
	inner   Settler
	breaker *circuitbreaker.CircuitBreaker
	logger  *logging.Logger
}

func NewBreakerSettler(inner Settler, breaker *circuitbreaker.CircuitBreaker, logger *logging.Logger) *BreakerSettler {
	return &BreakerSettler{inner: inner, breaker: breaker, logger: logger.Named("settlement-breaker")}
}

func (b *BreakerSettler) Settle(ctx context.Context, req *SettlementRequest) (*SettlementResult, error) {
	var result *SettlementResult
	err := b.breaker.Execute(ctx, func() error {
		var err error
		result, err = b.inner.Settle(ctx, req)
		return err
	})
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		b.logger.Warn("Settlement skipped, breaker open", logging.Fields{
			"transaction_code": req.TransactionCode,
		})
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// BreakerState exposes the breaker for readiness reporting.
func (b *BreakerSettler) BreakerState() circuitbreaker.State {
	return b.breaker.GetState()
}

func setHeaders(ctx context.Context, req *http.Request, apiKey string) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	if requestID := logging.RequestID(ctx); requestID != "" {
		req.Header.Set(logging.HeaderRequestID, requestID)
	}
}
