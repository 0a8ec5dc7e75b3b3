package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/logging"
)

// Notifier delivers best-effort messages. Callers never roll back on error.
type Notifier interface {
	Send(ctx context.Context, to, subject, body string) error
}

// NewNotifier returns the HTTP client when a base URL is configured and a
// log-only sender otherwise.
func NewNotifier(cfg config.ServiceConfig, logger *logging.Logger) Notifier {
	if cfg.BaseURL == "" {
		return NewLogNotifier(logger)
	}
	return NewHTTPNotificationClient(cfg, logger)
}

// HTTPNotificationClient sends email through the notification service.
type HTTPNotificationClient struct {
	baseURL    string
	httpClient *http.Client
	apiKey     string
	logger     *logging.Logger
}

func NewHTTPNotificationClient(cfg config.ServiceConfig, logger *logging.Logger) *HTTPNotificationClient {
	return &HTTPNotificationClient{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		apiKey: cfg.APIKey,
		logger: logger.Named("notification-client"),
	}
}

type emailRequest struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func (c *HTTPNotificationClient) Send(ctx context.Context, to, subject, body string) error {
	c.logger.Debug("Sending email", logging.Fields{
		"to":      to,
		"subject": subject,
	})

	payload, err := json.Marshal(emailRequest{To: to, Subject: subject, Body: body})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/api/v2/notifications/email", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	setHeaders(ctx, req, c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("Failed to send email", logging.Fields{
			"to":    to,
			"error": err.Error(),
		})
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("notification service returned status %d", resp.StatusCode)
	}

	c.logger.Info("Email sent", logging.Fields{"to": to})
	return nil
}

// LogNotifier only logs. Used in development and when no URL is set.
type LogNotifier struct {
	logger *logging.Logger
}

func NewLogNotifier(logger *logging.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.Named("notifier")}
}

func (n *LogNotifier) Send(ctx context.Context, to, subject, body string) error {
	n.logger.Info("Notification", logging.Fields{
		"to":      to,
		"subject": subject,
		"body":    body,
	})
	return nil
}
