package repository

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/AnuragParashar2000/ShoeKart/internal/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

//go:embed migrations
var migrationsFS embed.FS

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

const orderColumns = `id, user_id, checkout_key, provider_event_id, payment_method, payment_intent_id,
	products, subtotal, total, currency, shipping, billing_address, card_details,
	delivery_status, payment_status, cancellation, inventory_state, cart_cleared, version,
	created_at, updated_at`

type Repository struct {
	db     *sql.DB
	driver string
	now    func() time.Time
}

func NewRepository(cred *Credentials) (*Repository, error) {
	var (
		db  *sql.DB
		err error
	)
	switch cred.Driver {
	case DriverPostgres, "":
		psqlconn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
			cred.Host,
			cred.Port,
			cred.User,
			cred.Password,
			cred.DBName)
		db, err = sql.Open("postgres", psqlconn)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		db.SetMaxOpenConns(100)
		db.SetMaxIdleConns(10)
		cred.Driver = DriverPostgres
	case DriverSQLite:
		dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", cred.SQLitePath)
		db, err = sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		// sqlite allows a single writer; one connection serializes transactions.
		db.SetMaxOpenConns(1)
	default:
		return nil, fmt.Errorf("unsupported orders database driver %q", cred.Driver)
	}

	if e2 := db.Ping(); e2 != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", e2)
	}
	return &Repository{db: db, driver: cred.Driver, now: time.Now}, nil
}

func (r *Repository) RunMigrations(cred *Credentials) error {
	var (
		driver database.Driver
		err    error
	)
	switch r.driver {
	case DriverPostgres:
		driver, err = migratepg.WithInstance(r.db, &migratepg.Config{MigrationsTable: "orders_schema_migrations"})
	case DriverSQLite:
		driver, err = migratesqlite.WithInstance(r.db, &migratesqlite.Config{MigrationsTable: "orders_schema_migrations"})
	}
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	var m *migrate.Migrate
	if cred.MigrationsDirPath != "" {
		m, err = migrate.NewWithDatabaseInstance(fmt.Sprintf("file://%s", cred.MigrationsDirPath), r.driver, driver)
	} else {
		src, errSrc := iofs.New(migrationsFS, "migrations/"+r.driver)
		if errSrc != nil {
			return fmt.Errorf("could not open embedded migrations: %w", errSrc)
		}
		m, err = migrate.NewWithInstance("iofs", src, r.driver, driver)
	}
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if e2 := m.Up(); e2 != nil && !errors.Is(e2, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", e2)
	}
	return nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}

func (r *Repository) CreateOrder(ctx context.Context, order *domain.Order, events ...OutboxEvent) (err error) {
	row, err := encodeOrder(order)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	query := `INSERT INTO orders (` + orderColumns + `)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`
	_, err = tx.ExecContext(ctx, query,
		order.ID.String(),
		order.UserID,
		order.CheckoutKey,
		nullString(order.ProviderEventID),
		string(order.PaymentMethod),
		order.PaymentIntentID,
		row.products,
		order.Subtotal.StringFixed(2),
		order.Total.StringFixed(2),
		order.Currency,
		row.shipping,
		row.billing,
		row.card,
		string(order.DeliveryStatus),
		string(order.PaymentStatus),
		row.cancellation,
		string(order.InventoryState),
		order.CartCleared,
		order.Version,
		order.CreatedAt.UTC(),
		order.UpdatedAt.UTC(),
	)
	if err != nil {
		if r.isUniqueViolation(err) {
			return ErrDuplicateCheckout
		}
		return fmt.Errorf("insert order: %w", err)
	}

	if err = r.insertEvents(ctx, tx, events); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit order: %w", err)
	}
	return nil
}

func (r *Repository) UpdateOrder(ctx context.Context, order *domain.Order, events ...OutboxEvent) (err error) {
	cancellation, err := json.Marshal(order.Cancellation)
	if err != nil {
		return fmt.Errorf("marshal cancellation: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	updatedAt := r.now().UTC()
	query := `UPDATE orders
	          SET delivery_status = $1, payment_status = $2, cancellation = $3, inventory_state = $4,
	              version = version + 1, updated_at = $5
	          WHERE id = $6 AND user_id = $7 AND version = $8`
	res, err := tx.ExecContext(ctx, query,
		string(order.DeliveryStatus),
		string(order.PaymentStatus),
		string(cancellation),
		string(order.InventoryState),
		updatedAt,
		order.ID.String(),
		order.UserID,
		order.Version,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update order rows: %w", err)
	}
	if n == 0 {
		return ErrVersionConflict
	}

	if err = r.insertEvents(ctx, tx, events); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit order update: %w", err)
	}
	order.Version++
	order.UpdatedAt = updatedAt
	return nil
}

func (r *Repository) MarkCartCleared(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE orders SET cart_cleared = $1, updated_at = $2 WHERE id = $3`
	return r.execOne(ctx, query, true, r.now().UTC(), id.String())
}

func (r *Repository) ClaimRelease(ctx context.Context, id uuid.UUID, staleBefore time.Time) (*domain.Order, error) {
	query := `UPDATE orders SET inventory_state = $1, version = version + 1, updated_at = $2
	          WHERE id = $3 AND (inventory_state = $4 OR (inventory_state = $5 AND updated_at < $6))`
	err := r.execOne(ctx, query,
		string(domain.InventoryReleasing),
		r.now().UTC(),
		id.String(),
		string(domain.InventoryReleasePending),
		string(domain.InventoryReleasing),
		staleBefore.UTC(),
	)
	if errors.Is(err, ErrOrderNotFound) {
		return nil, ErrReleaseNotClaimed
	}
	if err != nil {
		return nil, err
	}
	return r.GetOrder(ctx, id)
}

func (r *Repository) RecordRestock(ctx context.Context, id uuid.UUID, lines []domain.OrderLine) error {
	products, err := json.Marshal(lines)
	if err != nil {
		return fmt.Errorf("marshal order products: %w", err)
	}
	query := `UPDATE orders SET products = $1, version = version + 1, updated_at = $2
	          WHERE id = $3 AND inventory_state = $4`
	err = r.execOne(ctx, query, string(products), r.now().UTC(), id.String(), string(domain.InventoryReleasing))
	if errors.Is(err, ErrOrderNotFound) {
		return ErrReleaseNotClaimed
	}
	return err
}

func (r *Repository) FinishRelease(ctx context.Context, id uuid.UUID, state domain.InventoryState) error {
	query := `UPDATE orders SET inventory_state = $1, version = version + 1, updated_at = $2
	          WHERE id = $3 AND inventory_state = $4`
	err := r.execOne(ctx, query, string(state), r.now().UTC(), id.String(), string(domain.InventoryReleasing))
	if errors.Is(err, ErrOrderNotFound) {
		return ErrReleaseNotClaimed
	}
	return err
}

func (r *Repository) execOne(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update order rows: %w", err)
	}
	if n == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (r *Repository) GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return r.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id.String())
}

func (r *Repository) GetOrderByCheckoutKey(ctx context.Context, key string) (*domain.Order, error) {
	return r.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE checkout_key = $1`, key)
}

func (r *Repository) GetOrderByProviderEvent(ctx context.Context, eventID string) (*domain.Order, error) {
	return r.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE provider_event_id = $1`, eventID)
}

func (r *Repository) ListOrdersByUserID(ctx context.Context, userID string) ([]*domain.Order, error) {
	return r.list(ctx, `SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY created_at DESC`, userID)
}

func (r *Repository) ListUnclearedCarts(ctx context.Context, before time.Time, limit int) ([]*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders
	          WHERE cart_cleared = $1 AND created_at < $2 ORDER BY created_at LIMIT $3`
	return r.list(ctx, query, false, before.UTC(), limit)
}

func (r *Repository) ListPendingReleases(ctx context.Context, before time.Time, limit int) ([]*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders
	          WHERE inventory_state IN ($1, $2) AND updated_at < $3 ORDER BY updated_at LIMIT $4`
	return r.list(ctx, query, string(domain.InventoryReleasePending), string(domain.InventoryReleasing), before.UTC(), limit)
}

func (r *Repository) GetUnprocessedEvents(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	query := `SELECT id, aggregate_id, event_type, payload, created_at
	          FROM outbox_events WHERE processed_at IS NULL ORDER BY id LIMIT $1`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox events: %w", err)
	}
	defer rows.Close()

	var events []*OutboxEvent
	for rows.Next() {
		var e OutboxEvent
		var payload string
		if err := rows.Scan(&e.ID, &e.AggregateID, &e.EventType, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		e.Payload = []byte(payload)
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return events, nil
}

func (r *Repository) MarkEventAsProcessed(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE outbox_events SET processed_at = $1 WHERE id = $2`, r.now().UTC(), id)
	if err != nil {
		return fmt.Errorf("mark event processed: %w", err)
	}
	return nil
}

func (r *Repository) insertEvents(ctx context.Context, tx *sql.Tx, events []OutboxEvent) error {
	for _, e := range events {
		createdAt := e.CreatedAt
		if createdAt.IsZero() {
			createdAt = r.now()
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO outbox_events (aggregate_id, event_type, payload, created_at) VALUES ($1, $2, $3, $4)`,
			e.AggregateID, e.EventType, string(e.Payload), createdAt.UTC())
		if err != nil {
			return fmt.Errorf("insert outbox event: %w", err)
		}
	}
	return nil
}

func (r *Repository) getOne(ctx context.Context, query string, args ...any) (*domain.Order, error) {
	order, err := scanOrder(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}
	return order, nil
}

func (r *Repository) list(ctx context.Context, query string, args ...any) ([]*domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var orders []*domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return orders, nil
}

func (r *Repository) isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
	}
	return false
}

type encodedOrder struct {
	products     string
	shipping     string
	billing      string
	card         sql.NullString
	cancellation string
}

func encodeOrder(o *domain.Order) (*encodedOrder, error) {
	products, err := json.Marshal(o.Products)
	if err != nil {
		return nil, fmt.Errorf("marshal order products: %w", err)
	}
	shipping, err := json.Marshal(o.Shipping)
	if err != nil {
		return nil, fmt.Errorf("marshal shipping: %w", err)
	}
	billing, err := json.Marshal(o.BillingAddress)
	if err != nil {
		return nil, fmt.Errorf("marshal billing address: %w", err)
	}
	cancellation, err := json.Marshal(o.Cancellation)
	if err != nil {
		return nil, fmt.Errorf("marshal cancellation: %w", err)
	}

	row := &encodedOrder{
		products:     string(products),
		shipping:     string(shipping),
		billing:      string(billing),
		cancellation: string(cancellation),
	}
	if o.CardDetails != nil {
		card, err := json.Marshal(o.CardDetails)
		if err != nil {
			return nil, fmt.Errorf("marshal card details: %w", err)
		}
		row.card = sql.NullString{String: string(card), Valid: true}
	}
	return row, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(s scanner) (*domain.Order, error) {
	var o domain.Order
	var id, method, delivery, payment, inventory string
	var products, shipping, billing, cancellation string
	var providerEvent, card sql.NullString
	err := s.Scan(
		&id,
		&o.UserID,
		&o.CheckoutKey,
		&providerEvent,
		&method,
		&o.PaymentIntentID,
		&products,
		&o.Subtotal,
		&o.Total,
		&o.Currency,
		&shipping,
		&billing,
		&card,
		&delivery,
		&payment,
		&cancellation,
		&inventory,
		&o.CartCleared,
		&o.Version,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if o.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse order id: %w", err)
	}
	o.ProviderEventID = providerEvent.String
	o.PaymentMethod = domain.Method(method)
	o.DeliveryStatus = domain.DeliveryStatus(delivery)
	o.PaymentStatus = domain.PaymentStatus(payment)
	o.InventoryState = domain.InventoryState(inventory)

	if err := json.Unmarshal([]byte(products), &o.Products); err != nil {
		return nil, fmt.Errorf("unmarshal order products: %w", err)
	}
	if err := json.Unmarshal([]byte(shipping), &o.Shipping); err != nil {
		return nil, fmt.Errorf("unmarshal shipping: %w", err)
	}
	if err := json.Unmarshal([]byte(billing), &o.BillingAddress); err != nil {
		return nil, fmt.Errorf("unmarshal billing address: %w", err)
	}
	if err := json.Unmarshal([]byte(cancellation), &o.Cancellation); err != nil {
		return nil, fmt.Errorf("unmarshal cancellation: %w", err)
	}
	if card.Valid {
		o.CardDetails = &domain.CardDescriptor{}
		if err := json.Unmarshal([]byte(card.String), o.CardDetails); err != nil {
			return nil, fmt.Errorf("unmarshal card details: %w", err)
		}
	}
	return &o, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
