// Package repository contains the PostgreSQL data access layer.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"

	"github.com/huhuanshizhe/vetsphere/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrOrderNotFound is returned when no order exists with the given id.
var (
	ErrOrderNotFound = errors.New("order not found")
	// ErrCourseNotFound is returned when a referenced course does not exist.
	ErrCourseNotFound = errors.New("course not found")
	// ErrOrderExists is returned on an attempt to create a duplicate order id.
	ErrOrderExists = errors.New("order already exists")
)

// PostgresRepository provides access to the PostgreSQL store.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates the repository and initializes the schema
// through embedded migrations.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry re-runs fn on serialization failures, deadlocks and transient
// connection errors, with fibonacci backoff.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	backoff := retry.WithMaxRetries(3, retry.NewFibonacci(500*time.Millisecond))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				return retry.RetryableError(err)
			}
			return err
		}

		if isConnectionError(err) {
			return retry.RetryableError(err)
		}

		return err
	})
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close closes the connection pool.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// GetOrderByID returns an order by its identifier.
func (r *PostgresRepository) GetOrderByID(ctx context.Context, orderID string) (*model.Order, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, user_id, total_cents, currency, status, carrier, tracking_number, estimated_delivery, created_at, updated_at
		 FROM orders WHERE id = $1`,
		orderID,
	)

	var o model.Order
	var status string
	err := row.Scan(&o.ID, &o.UserID, &o.TotalCents, &o.Currency, &status,
		&o.Carrier, &o.TrackingNumber, &o.EstimatedDelivery, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	o.Status = model.OrderStatus(status)

	return &o, nil
}

// CreateOrderWithEnrollments inserts the order and one unpaid enrollment per
// course in a single transaction.
func (r *PostgresRepository) CreateOrderWithEnrollments(ctx context.Context, order model.Order, courseIDs []string) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		_, err = tx.Exec(ctx,
			`INSERT INTO orders (id, user_id, total_cents, currency, status)
			 VALUES ($1, $2, $3, $4, $5)`,
			order.ID, order.UserID, order.TotalCents, order.Currency, string(order.Status),
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
				return fmt.Errorf("%w: %s", ErrOrderExists, order.ID)
			}
			return fmt.Errorf("insert order: %w", err)
		}

		for _, courseID := range courseIDs {
			_, err = tx.Exec(ctx,
				`INSERT INTO enrollments (order_id, course_id, user_id, payment_status)
				 VALUES ($1, $2, $3, $4)`,
				order.ID, courseID, order.UserID, string(model.PaymentStatusUnpaid),
			)
			if err != nil {
				return fmt.Errorf("insert enrollment: %w", err)
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		return nil
	})
}

// ApplyPaymentOutcome overwrites the order status and the payment status of
// every dependent enrollment in one transaction. Re-applying the same outcome
// yields the same final state.
func (r *PostgresRepository) ApplyPaymentOutcome(ctx context.Context, orderID string, orderStatus model.OrderStatus, paymentStatus model.PaymentStatus) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		cmdTag, err := tx.Exec(ctx,
			`UPDATE orders SET status = $2, updated_at = now() WHERE id = $1`,
			orderID, string(orderStatus),
		)
		if err != nil {
			return fmt.Errorf("update order status: %w", err)
		}
		if cmdTag.RowsAffected() == 0 {
			return ErrOrderNotFound
		}

		_, err = tx.Exec(ctx,
			`UPDATE enrollments SET payment_status = $2 WHERE order_id = $1`,
			orderID, string(paymentStatus),
		)
		if err != nil {
			return fmt.Errorf("update enrollments: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		return nil
	})
}

// UpdateOrderShipment updates the coarse status and any provided shipment
// fields. Nil pointers leave the stored value untouched.
func (r *PostgresRepository) UpdateOrderShipment(ctx context.Context, orderID string, status model.OrderStatus, carrier, trackingNumber *string, estimatedDelivery *time.Time) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE orders SET
			status = $2,
			carrier = COALESCE($3, carrier),
			tracking_number = COALESCE($4, tracking_number),
			estimated_delivery = COALESCE($5, estimated_delivery),
			updated_at = now()
		 WHERE id = $1`,
		orderID, string(status), carrier, trackingNumber, estimatedDelivery,
	)
	if err != nil {
		return fmt.Errorf("update order shipment: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}

	return nil
}

// AddTrackingEvent records a shipment event for an order.
func (r *PostgresRepository) AddTrackingEvent(ctx context.Context, ev model.TrackingEvent) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO tracking_events (order_id, status, location, description)
		 VALUES ($1, $2, $3, $4)`,
		ev.OrderID, ev.Status, ev.Location, ev.Description,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return ErrOrderNotFound
		}
		return fmt.Errorf("insert tracking event: %w", err)
	}

	return nil
}

// GetTrackingEvents returns recorded shipment events for an order, newest first.
func (r *PostgresRepository) GetTrackingEvents(ctx context.Context, orderID string) ([]model.TrackingEvent, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT order_id, status, location, description, created_at
		 FROM tracking_events
		 WHERE order_id = $1
		 ORDER BY created_at DESC`,
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("select tracking events: %w", err)
	}
	defer rows.Close()

	var events []model.TrackingEvent
	for rows.Next() {
		var ev model.TrackingEvent
		if err := rows.Scan(&ev.OrderID, &ev.Status, &ev.Location, &ev.Description, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan tracking event: %w", err)
		}
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return events, nil
}

// GetCourses returns the full course catalog.
func (r *PostgresRepository) GetCourses(ctx context.Context) ([]model.Course, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, title, description, price_cents, currency FROM courses ORDER BY title`,
	)
	if err != nil {
		return nil, fmt.Errorf("select courses: %w", err)
	}
	defer rows.Close()

	var courses []model.Course
	for rows.Next() {
		var c model.Course
		if err := rows.Scan(&c.ID, &c.Title, &c.Description, &c.PriceCents, &c.Currency); err != nil {
			return nil, fmt.Errorf("scan course: %w", err)
		}
		courses = append(courses, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return courses, nil
}

// GetCoursesByIDs returns the requested catalog entries. A missing id yields
// ErrCourseNotFound.
func (r *PostgresRepository) GetCoursesByIDs(ctx context.Context, ids []string) ([]model.Course, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, title, description, price_cents, currency FROM courses WHERE id = ANY($1)`,
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("select courses by ids: %w", err)
	}
	defer rows.Close()

	found := make(map[string]model.Course, len(ids))
	for rows.Next() {
		var c model.Course
		if err := rows.Scan(&c.ID, &c.Title, &c.Description, &c.PriceCents, &c.Currency); err != nil {
			return nil, fmt.Errorf("scan course: %w", err)
		}
		found[c.ID] = c
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	courses := make([]model.Course, 0, len(ids))
	for _, id := range ids {
		c, ok := found[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrCourseNotFound, id)
		}
		courses = append(courses, c)
	}

	return courses, nil
}

// GetEnrollmentsByOrder returns the enrollments created for an order.
func (r *PostgresRepository) GetEnrollmentsByOrder(ctx context.Context, orderID string) ([]model.Enrollment, error) {
	return r.selectEnrollments(ctx,
		`SELECT id, order_id, course_id, user_id, payment_status, created_at
		 FROM enrollments WHERE order_id = $1 ORDER BY id`,
		orderID,
	)
}

// GetEnrollmentsByUser returns all enrollments of a user, newest first.
func (r *PostgresRepository) GetEnrollmentsByUser(ctx context.Context, userID string) ([]model.Enrollment, error) {
	return r.selectEnrollments(ctx,
		`SELECT id, order_id, course_id, user_id, payment_status, created_at
		 FROM enrollments WHERE user_id = $1 ORDER BY created_at DESC, id DESC`,
		userID,
	)
}

func (r *PostgresRepository) selectEnrollments(ctx context.Context, query string, arg any) ([]model.Enrollment, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("select enrollments: %w", err)
	}
	defer rows.Close()

	var res []model.Enrollment
	for rows.Next() {
		var e model.Enrollment
		var status string
		if err := rows.Scan(&e.ID, &e.OrderID, &e.CourseID, &e.UserID, &status, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan enrollment: %w", err)
		}
		e.PaymentStatus = model.PaymentStatus(status)
		res = append(res, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}
