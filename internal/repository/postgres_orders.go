package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/apperrors"
	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/models"
)

const orderColumns = `id, code, customer_id, customer_email, total_amount, currency, status, created_at, updated_at`

func scanOrder(row rowScanner) (*models.Order, error) {
	var o models.Order
	err := row.Scan(
		&o.ID,
		&o.Code,
		&o.CustomerID,
		&o.CustomerEmail,
		&o.TotalAmount,
		&o.Currency,
		&o.Status,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	o.Items = []models.OrderItem{}
	return &o, nil
}

func (q *pgQueries) CreateOrder(ctx context.Context, o *models.Order) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, o.ID, o.Code, o.CustomerID, o.CustomerEmail, o.TotalAmount, o.Currency, o.Status, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		q.logger.Error("Failed to create order", logging.Fields{
			"order_id": o.ID,
			"error":    err.Error(),
		})
		return mapWriteErr(err)
	}

	for _, item := range o.Items {
		_, err := q.db.ExecContext(ctx, `
			INSERT INTO order_items (id, order_id, product_id, product_name, quantity, price)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, item.ID, o.ID, item.ProductID, item.ProductName, item.Quantity, item.Price)
		if err != nil {
			return mapWriteErr(err)
		}
	}

	q.logger.Debug("Order inserted", logging.Fields{
		"order_id": o.ID,
		"items":    len(o.Items),
	})
	return nil
}

func (q *pgQueries) GetOrder(ctx context.Context, id string, forUpdate bool) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1` + lockClause(forUpdate)

	o, err := scanOrder(q.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound("order")
	}
	if err != nil {
		q.logger.Error("Failed to fetch order", logging.Fields{
			"order_id": id,
			"error":    err.Error(),
		})
		return nil, err
	}

	if err := q.attachItems(ctx, []*models.Order{o}); err != nil {
		return nil, err
	}
	return o, nil
}

func (q *pgQueries) ListOrders(ctx context.Context, filter models.OrderListFilter) ([]*models.Order, error) {
	var conds []string
	var args []interface{}

	if filter.CustomerID != "" {
		args = append(args, filter.CustomerID)
		conds = append(conds, fmt.Sprintf("customer_id = $%d", len(args)))
	}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + orderColumns + ` FROM orders`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, normalizeLimit(filter.Limit), filter.Offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := []*models.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := q.attachItems(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// attachItems loads all lines for the given orders in one query.
func (q *pgQueries) attachItems(ctx context.Context, orders []*models.Order) error {
	if len(orders) == 0 {
		return nil
	}

	byID := make(map[string]*models.Order, len(orders))
	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		byID[o.ID] = o
		ids = append(ids, o.ID)
	}

	rows, err := q.db.QueryContext(ctx, `
		SELECT id, order_id, product_id, product_name, quantity, price
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY product_name
	`, pq.Array(ids))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var item models.OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.ProductName, &item.Quantity, &item.Price); err != nil {
			return err
		}
		if o, ok := byID[item.OrderID]; ok {
			o.Items = append(o.Items, item)
		}
	}
	return rows.Err()
}

func (q *pgQueries) TransitionOrder(ctx context.Context, id string, from, to models.OrderStatus) (bool, error) {
	res, err := q.db.ExecContext(ctx,
		`UPDATE orders SET status = $3, updated_at = NOW() WHERE id = $1 AND status = $2`, id, from, to)
	if err != nil {
		return false, err
	}
	return affected(res)
}

const paymentColumns = `id, transaction_code, order_id, user_id, amount, phone_number, status,
	method, receipt_ref, failure_reason, created_at, updated_at`

func scanPayment(row rowScanner) (*models.Payment, error) {
	var p models.Payment
	var receipt, reason sql.NullString

	err := row.Scan(
		&p.ID,
		&p.TransactionCode,
		&p.OrderID,
		&p.UserID,
		&p.Amount,
		&p.PhoneNumber,
		&p.Status,
		&p.Method,
		&receipt,
		&reason,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if receipt.Valid {
		p.ReceiptRef = &receipt.String
	}
	if reason.Valid {
		p.FailureReason = &reason.String
	}
	return &p, nil
}

func (q *pgQueries) CreatePayment(ctx context.Context, p *models.Payment) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, p.ID, p.TransactionCode, p.OrderID, p.UserID, p.Amount, p.PhoneNumber, p.Status,
		p.Method, p.ReceiptRef, p.FailureReason, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return mapWriteErr(err)
	}
	return nil
}

func (q *pgQueries) GetPayment(ctx context.Context, id string, forUpdate bool) (*models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1` + lockClause(forUpdate)

	p, err := scanPayment(q.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound("payment")
	}
	return p, err
}

func (q *pgQueries) GetPaymentByTransactionCode(ctx context.Context, code string, forUpdate bool) (*models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE transaction_code = $1` + lockClause(forUpdate)

	p, err := scanPayment(q.db.QueryRowContext(ctx, query, code))
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound("payment")
	}
	return p, err
}

func (q *pgQueries) ListPayments(ctx context.Context, filter models.PaymentListFilter) ([]*models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments`
	var args []interface{}
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		query += " WHERE user_id = $1"
	}
	args = append(args, normalizeLimit(filter.Limit), filter.Offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments := []*models.Payment{}
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func (q *pgQueries) TransitionPayment(ctx context.Context, id string, from, to models.PaymentStatus, receipt, reason *string) (bool, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE payments
		SET status = $3,
		    receipt_ref = COALESCE($4, receipt_ref),
		    failure_reason = COALESCE($5, failure_reason),
		    updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, id, from, to, receipt, reason)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (q *pgQueries) FailPendingPayments(ctx context.Context, orderID, reason string) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE payments SET status = $2, failure_reason = $3, updated_at = NOW()
		WHERE order_id = $1 AND status = $4
	`, orderID, models.PaymentStatusFailed, reason, models.PaymentStatusPending)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (q *pgQueries) ExpirePendingPayments(ctx context.Context, createdBefore time.Time, reason string) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE payments SET status = $2, failure_reason = $3, updated_at = NOW()
		WHERE status = $4 AND created_at < $1
	`, createdBefore, models.PaymentStatusFailed, reason, models.PaymentStatusPending)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (q *pgQueries) Stats(ctx context.Context) (*models.Stats, error) {
	stats := &models.Stats{
		OrdersByStatus:   map[models.OrderStatus]int{},
		ProductsByStatus: map[models.ProductStatus]int{},
		PaymentsByStatus: map[models.PaymentStatus]int{},
	}

	for _, table := range []string{"orders", "products", "payments"} {
		counts, err := q.countByStatus(ctx, table)
		if err != nil {
			return nil, err
		}
		for status, n := range counts {
			switch table {
			case "orders":
				stats.OrdersByStatus[models.OrderStatus(status)] = n
			case "products":
				stats.ProductsByStatus[models.ProductStatus(status)] = n
			case "payments":
				stats.PaymentsByStatus[models.PaymentStatus(status)] = n
			}
		}
	}
	return stats, nil
}

// countByStatus only receives table names from Stats.
func (q *pgQueries) countByStatus(ctx context.Context, table string) (map[string]int, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM `+table+` GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
