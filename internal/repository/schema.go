package repository

const schema = `
CREATE TABLE IF NOT EXISTS products (
	id               TEXT PRIMARY KEY,
	name             TEXT NOT NULL,
	description      TEXT NOT NULL,
	price            NUMERIC(12, 2) NOT NULL CHECK (price >= 0),
	category_id      BIGINT,
	media            JSONB NOT NULL DEFAULT '[]',
	status           TEXT NOT NULL DEFAULT 'pending',
	rejection_reason TEXT,
	owner_id         TEXT NOT NULL,
	owner_email      TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_products_status ON products (status);
CREATE INDEX IF NOT EXISTS idx_products_owner ON products (owner_id);

CREATE TABLE IF NOT EXISTS carts (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL UNIQUE,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS cart_items (
	id         TEXT PRIMARY KEY,
	cart_id    TEXT NOT NULL REFERENCES carts (id) ON DELETE CASCADE,
	product_id TEXT NOT NULL REFERENCES products (id),
	quantity   INTEGER NOT NULL CHECK (quantity > 0),
	created_at TIMESTAMPTZ NOT NULL,
	UNIQUE (cart_id, product_id)
);

CREATE TABLE IF NOT EXISTS orders (
	id             TEXT PRIMARY KEY,
	code           TEXT NOT NULL UNIQUE,
	customer_id    TEXT NOT NULL,
	customer_email TEXT NOT NULL DEFAULT '',
	total_amount   NUMERIC(12, 2) NOT NULL,
	currency       TEXT NOT NULL,
	status         TEXT NOT NULL DEFAULT 'pending',
	created_at     TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_orders_customer ON orders (customer_id);

CREATE TABLE IF NOT EXISTS order_items (
	id           TEXT PRIMARY KEY,
	order_id     TEXT NOT NULL REFERENCES orders (id) ON DELETE CASCADE,
	product_id   TEXT NOT NULL REFERENCES products (id),
	product_name TEXT NOT NULL,
	quantity     INTEGER NOT NULL CHECK (quantity > 0),
	price        NUMERIC(12, 2) NOT NULL,
	UNIQUE (order_id, product_id)
);

CREATE TABLE IF NOT EXISTS payments (
	id               TEXT PRIMARY KEY,
	transaction_code TEXT NOT NULL UNIQUE,
	order_id         TEXT NOT NULL REFERENCES orders (id),
	user_id          TEXT NOT NULL,
	amount           NUMERIC(12, 2) NOT NULL,
	phone_number     TEXT NOT NULL,
	status           TEXT NOT NULL DEFAULT 'pending',
	method           TEXT NOT NULL,
	receipt_ref      TEXT,
	failure_reason   TEXT,
	created_at       TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_payments_order ON payments (order_id);
CREATE INDEX IF NOT EXISTS idx_payments_pending ON payments (created_at) WHERE status = 'pending';
`
