package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/apperrors"
	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/models"
)

const uniqueViolation = "23505"

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	*pgQueries
	db *sql.DB
}

// pgQueries implements Queries over a pool or a transaction.
type pgQueries struct {
	db     dbtx
	logger *logging.Logger
}

// OpenPostgres opens and verifies a connection pool.
func OpenPostgres(ctx context.Context, cfg config.DatabaseConfig, logger *logging.Logger) (*PostgresStore, error) {
	db, err := sql.Open("postgres", cfg.ConnectionString())
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.MaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return NewPostgresStore(db, logger), nil
}

// NewPostgresStore wraps an existing pool.
func NewPostgresStore(db *sql.DB, logger *logging.Logger) *PostgresStore {
	return &PostgresStore{
		pgQueries: &pgQueries{db: db, logger: logger},
		db:        db,
	}
}

func (s *PostgresStore) InTx(ctx context.Context, fn func(q Queries) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&pgQueries{db: tx, logger: s.logger}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("Rollback failed", logging.Fields{"error": rbErr.Error()})
		}
		return err
	}
	return tx.Commit()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func mapWriteErr(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return ErrDuplicate
	}
	return err
}

func lockClause(forUpdate bool) string {
	if forUpdate {
		return " FOR UPDATE"
	}
	return ""
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

const productColumns = `id, name, description, price, category_id, media, status,
	rejection_reason, owner_id, owner_email, created_at, updated_at`

func scanProduct(row rowScanner) (*models.Product, error) {
	var p models.Product
	var categoryID sql.NullInt64
	var reason sql.NullString
	var mediaJSON []byte

	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Description,
		&p.Price,
		&categoryID,
		&mediaJSON,
		&p.Status,
		&reason,
		&p.OwnerID,
		&p.OwnerEmail,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if categoryID.Valid {
		p.CategoryID = &categoryID.Int64
	}
	if reason.Valid {
		p.RejectionReason = &reason.String
	}
	if len(mediaJSON) > 0 {
		if err := json.Unmarshal(mediaJSON, &p.Media); err != nil {
			return nil, err
		}
	}
	if p.Media == nil {
		p.Media = []string{}
	}
	return &p, nil
}

func mediaJSON(media []string) ([]byte, error) {
	if media == nil {
		media = []string{}
	}
	return json.Marshal(media)
}

func (q *pgQueries) CreateProduct(ctx context.Context, p *models.Product) error {
	media, err := mediaJSON(p.Media)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO products (id, name, description, price, category_id, media, status,
		                      rejection_reason, owner_id, owner_email, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = q.db.ExecContext(ctx, query,
		p.ID, p.Name, p.Description, p.Price, p.CategoryID, media, p.Status,
		p.RejectionReason, p.OwnerID, p.OwnerEmail, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		q.logger.Error("Failed to create product", logging.Fields{
			"product_id": p.ID,
			"error":      err.Error(),
		})
		return mapWriteErr(err)
	}
	return nil
}

func (q *pgQueries) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	p, err := scanProduct(q.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound("product")
	}
	if err != nil {
		q.logger.Error("Failed to fetch product", logging.Fields{
			"product_id": id,
			"error":      err.Error(),
		})
		return nil, err
	}
	return p, nil
}

func (q *pgQueries) UpdateProduct(ctx context.Context, p *models.Product) error {
	media, err := mediaJSON(p.Media)
	if err != nil {
		return err
	}

	query := `
		UPDATE products
		SET name = $2, description = $3, price = $4, category_id = $5, media = $6,
		    status = $7, rejection_reason = $8, updated_at = $9
		WHERE id = $1
	`
	res, err := q.db.ExecContext(ctx, query,
		p.ID, p.Name, p.Description, p.Price, p.CategoryID, media,
		p.Status, p.RejectionReason, p.UpdatedAt,
	)
	if err != nil {
		return err
	}
	ok, err := affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.NotFound("product")
	}
	return nil
}

func (q *pgQueries) ListProducts(ctx context.Context, filter ProductFilter) ([]*models.Product, error) {
	var conds []string
	var args []interface{}

	if filter.Status != nil {
		args = append(args, *filter.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.OwnerID != "" {
		args = append(args, filter.OwnerID)
		conds = append(conds, fmt.Sprintf("owner_id = $%d", len(args)))
	}

	query := `SELECT ` + productColumns + ` FROM products`
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

	products := []*models.Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (q *pgQueries) EnsureCart(ctx context.Context, userID string) (*models.Cart, error) {
	now := time.Now().UTC()
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO carts (id, user_id, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (user_id) DO NOTHING
	`, uuid.NewString(), userID, now)
	if err != nil {
		return nil, err
	}
	return q.GetCartByUser(ctx, userID, false)
}

func (q *pgQueries) GetCartByUser(ctx context.Context, userID string, forUpdate bool) (*models.Cart, error) {
	query := `SELECT id, user_id, created_at, updated_at FROM carts WHERE user_id = $1` + lockClause(forUpdate)

	var c models.Cart
	err := q.db.QueryRowContext(ctx, query, userID).Scan(&c.ID, &c.UserID, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound("cart")
	}
	if err != nil {
		return nil, err
	}
	c.Items = []models.CartItem{}
	return &c, nil
}

const cartItemSelect = `
	SELECT ci.id, ci.cart_id, ci.product_id, ci.quantity, ci.created_at,
	       p.id, p.name, p.description, p.price, p.category_id, p.media, p.status,
	       p.rejection_reason, p.owner_id, p.owner_email, p.created_at, p.updated_at
	FROM cart_items ci
	JOIN products p ON p.id = ci.product_id
`

func scanCartItem(row rowScanner) (*models.CartItem, error) {
	var item models.CartItem
	var p models.Product
	var categoryID sql.NullInt64
	var reason sql.NullString
	var media []byte

	err := row.Scan(
		&item.ID, &item.CartID, &item.ProductID, &item.Quantity, &item.CreatedAt,
		&p.ID, &p.Name, &p.Description, &p.Price, &categoryID, &media, &p.Status,
		&reason, &p.OwnerID, &p.OwnerEmail, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if categoryID.Valid {
		p.CategoryID = &categoryID.Int64
	}
	if reason.Valid {
		p.RejectionReason = &reason.String
	}
	if len(media) > 0 {
		if err := json.Unmarshal(media, &p.Media); err != nil {
			return nil, err
		}
	}
	item.Product = &p
	return &item, nil
}

func (q *pgQueries) ListCartItems(ctx context.Context, cartID string) ([]models.CartItem, error) {
	rows, err := q.db.QueryContext(ctx, cartItemSelect+` WHERE ci.cart_id = $1 ORDER BY ci.created_at`, cartID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []models.CartItem{}
	for rows.Next() {
		item, err := scanCartItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

func (q *pgQueries) GetCartItem(ctx context.Context, cartID, itemID string) (*models.CartItem, error) {
	item, err := scanCartItem(q.db.QueryRowContext(ctx,
		cartItemSelect+` WHERE ci.cart_id = $1 AND ci.id = $2`, cartID, itemID))
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound("cart item")
	}
	return item, err
}

func (q *pgQueries) GetCartItemByProduct(ctx context.Context, cartID, productID string) (*models.CartItem, error) {
	item, err := scanCartItem(q.db.QueryRowContext(ctx,
		cartItemSelect+` WHERE ci.cart_id = $1 AND ci.product_id = $2`, cartID, productID))
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound("cart item")
	}
	return item, err
}

func (q *pgQueries) InsertCartItem(ctx context.Context, item *models.CartItem) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO cart_items (id, cart_id, product_id, quantity, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, item.ID, item.CartID, item.ProductID, item.Quantity, item.CreatedAt)
	if err != nil {
		return mapWriteErr(err)
	}
	return q.touchCart(ctx, item.CartID)
}

func (q *pgQueries) UpdateCartItemQuantity(ctx context.Context, cartID, itemID string, quantity int) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE cart_items SET quantity = $3 WHERE cart_id = $1 AND id = $2`, cartID, itemID, quantity)
	if err != nil {
		return err
	}
	ok, err := affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.NotFound("cart item")
	}
	return q.touchCart(ctx, cartID)
}

func (q *pgQueries) DeleteCartItem(ctx context.Context, cartID, itemID string) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM cart_items WHERE cart_id = $1 AND id = $2`, cartID, itemID)
	if err != nil {
		return err
	}
	ok, err := affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.NotFound("cart item")
	}
	return q.touchCart(ctx, cartID)
}

func (q *pgQueries) ClearCart(ctx context.Context, cartID string) (int64, error) {
	res, err := q.db.ExecContext(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, cartID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, q.touchCart(ctx, cartID)
}

func (q *pgQueries) touchCart(ctx context.Context, cartID string) error {
	_, err := q.db.ExecContext(ctx, `UPDATE carts SET updated_at = NOW() WHERE id = $1`, cartID)
	return err
}
