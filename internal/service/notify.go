package service

import (
	"context"
	"sync"
	"time"

	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/clients"
	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/logging"
)

const notificationTimeout = 10 * time.Second

// Mailer sends notifications off the request path. Failures are logged and
// never reach the caller.
type Mailer struct {
	notifier clients.Notifier
	logger   *logging.Logger
	wg       sync.WaitGroup
}

func NewMailer(notifier clients.Notifier, logger *logging.Logger) *Mailer {
	return &Mailer{notifier: notifier, logger: logger.Named("mailer")}
}

func (m *Mailer) Send(to, subject, body string) {
	if to == "" {
		m.logger.Debug("Skipping notification without recipient", logging.Fields{"subject": subject})
		return
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), notificationTimeout)
		defer cancel()

		if err := m.notifier.Send(ctx, to, subject, body); err != nil {
			m.logger.Error("Failed to send notification", logging.Fields{
				"to":      to,
				"subject": subject,
				"error":   err.Error(),
			})
		}
	}()
}

// Wait blocks until in-flight notifications finish.
func (m *Mailer) Wait() {
	m.wg.Wait()
}
