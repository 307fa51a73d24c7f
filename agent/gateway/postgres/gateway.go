package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	contractx "github.com/shopez/ez-agent/agent/contract"
	statex "github.com/shopez/ez-agent/agent/state"
)

type Config struct {
	DSN          string        `split_words:"true" required:"true"`
	MaxOpenConns int           `split_words:"true" default:"8"`
	Timeout      time.Duration `split_words:"true" default:"5s"`
}

const defaultQueryTimeout = 5 * time.Second

// Gateway implements catalog lookups and transaction execution against the
// store's Postgres database. Every query runs under the configured timeout;
// callers hold the conversation lock during lookups and must not block on a
// slow database indefinitely.
type Gateway struct {
	db      *bun.DB
	timeout time.Duration
	newID   func() string
}

var _ contractx.LookupGateway = (*Gateway)(nil)

func New(cfg Config) (*Gateway, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}

	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	if cfg.MaxOpenConns > 0 {
		sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	db := bun.NewDB(sqldb, pgdialect.New())

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultQueryTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Gateway{db: db, timeout: timeout, newID: uuid.NewString}, nil
}

// NewWithDB wraps an existing connection, e.g. for tests against a
// transaction-scoped database.
func NewWithDB(db *bun.DB) *Gateway {
	return &Gateway{db: db, timeout: defaultQueryTimeout, newID: uuid.NewString}
}

// queryContext caps one database operation at the gateway timeout, keeping
// whatever earlier deadline the caller already set.
func (g *Gateway) queryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, g.timeout)
}

func (g *Gateway) Close() error {
	return g.db.Close()
}

type productRow struct {
	bun.BaseModel `bun:"table:products,alias:p"`

	ID       string   `bun:"id,pk"`
	Name     string   `bun:"name,notnull"`
	Brand    string   `bun:"brand"`
	RAMGB    int      `bun:"ram_gb"`
	Price    int64    `bun:"price"`
	Currency string   `bun:"currency,notnull"`
	Colors   []string `bun:"colors,array"`
}

type orderRow struct {
	bun.BaseModel `bun:"table:orders,alias:o"`

	ID           string     `bun:"id,pk"`
	ProductID    string     `bun:"product_id"`
	ProductName  string     `bun:"product_name,notnull"`
	Price        int64      `bun:"price"`
	Currency     string     `bun:"currency,notnull"`
	Status       string     `bun:"status,notnull"`
	OrderedAt    time.Time  `bun:"ordered_at,notnull"`
	DeliveredAt  *time.Time `bun:"delivered_at"`
	Carrier      string     `bun:"carrier"`
	TrackingCode string     `bun:"tracking_code"`
}

type transactionRow struct {
	bun.BaseModel `bun:"table:transactions,alias:t"`

	ID         string    `bun:"id,pk"`
	Reference  string    `bun:"reference,notnull,unique"`
	FlowID     string    `bun:"flow_id,notnull,unique"`
	Kind       string    `bun:"kind,notnull"`
	OrderID    string    `bun:"order_id"`
	ReasonCode string    `bun:"reason_code"`
	ReasonText string    `bun:"reason_text"`
	CreatedAt  time.Time `bun:"created_at,notnull"`
}

const defaultSearchLimit = 5

func (g *Gateway) SearchProducts(ctx context.Context, filters contractx.ProductFilters) ([]contractx.Product, error) {
	ctx, cancel := g.queryContext(ctx)
	defer cancel()

	limit := filters.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	var rows []productRow
	q := g.db.NewSelect().Model(&rows)
	if filters.Brand != "" {
		q = q.Where("LOWER(p.brand) = LOWER(?)", filters.Brand)
	}
	if filters.MaxPrice > 0 {
		q = q.Where("p.price <= ?", filters.MaxPrice)
	}
	if filters.MinRAMGB > 0 {
		q = q.Where("p.ram_gb >= ?", filters.MinRAMGB)
	}
	if filters.Color != "" {
		q = q.Where("? = ANY(p.colors)", strings.ToLower(filters.Color))
	}
	if filters.Query != "" {
		q = q.Where("p.name ILIKE ?", "%"+filters.Query+"%")
	}
	if err := q.Order("price ASC").Limit(limit).Scan(ctx); err != nil {
		return nil, fmt.Errorf("search products: %w", err)
	}

	products := make([]contractx.Product, 0, len(rows))
	for _, r := range rows {
		products = append(products, contractx.Product{
			ID:     r.ID,
			Name:   r.Name,
			Brand:  r.Brand,
			RAMGB:  r.RAMGB,
			Price:  contractx.Money{Amount: r.Price, Currency: r.Currency},
			Colors: r.Colors,
		})
	}
	return products, nil
}

func (g *Gateway) GetOrder(ctx context.Context, orderID string) (contractx.Order, error) {
	ctx, cancel := g.queryContext(ctx)
	defer cancel()

	var row orderRow
	err := g.db.NewSelect().Model(&row).Where("o.id = ?", orderID).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return contractx.Order{}, contractx.ErrOrderNotFound
		}
		return contractx.Order{}, fmt.Errorf("get order %s: %w", orderID, err)
	}

	return contractx.Order{
		ID:           row.ID,
		ProductID:    row.ProductID,
		ProductName:  row.ProductName,
		Price:        contractx.Money{Amount: row.Price, Currency: row.Currency},
		Status:       contractx.OrderStatus(row.Status),
		OrderedAt:    row.OrderedAt,
		DeliveredAt:  row.DeliveredAt,
		Carrier:      row.Carrier,
		TrackingCode: row.TrackingCode,
	}, nil
}

// ExecuteTransaction records the transaction and updates the order in one
// database transaction. The unique flow_id column makes a retried request
// idempotent at the storage layer as well.
func (g *Gateway) ExecuteTransaction(ctx context.Context, req contractx.TransactionRequest) (contractx.Result, error) {
	ctx, cancel := g.queryContext(ctx)
	defer cancel()

	ref := reference(req.Kind, g.newID())

	err := g.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		row := transactionRow{
			ID:         g.newID(),
			Reference:  ref,
			FlowID:     req.FlowID,
			Kind:       string(req.Kind),
			OrderID:    req.OrderID,
			ReasonCode: string(req.ReasonCode),
			ReasonText: req.ReasonText,
			CreatedAt:  req.IssuedAt.UTC(),
		}
		if _, err := tx.NewInsert().Model(&row).Exec(ctx); err != nil {
			return fmt.Errorf("insert transaction: %w", err)
		}

		if req.Kind == statex.FlowCancellation {
			res, err := tx.NewUpdate().
				Model((*orderRow)(nil)).
				Set("status = ?", string(contractx.OrderCancelled)).
				Where("o.id = ? AND o.status <> ?", req.OrderID, string(contractx.OrderDelivered)).
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("cancel order %s: %w", req.OrderID, err)
			}
			if n, err := res.RowsAffected(); err == nil && n == 0 {
				return fmt.Errorf("order %s is not cancellable", req.OrderID)
			}
		}
		return nil
	})
	if err != nil {
		return contractx.Result{}, err
	}

	return contractx.Result{Success: true, Reference: ref}, nil
}

// reference builds the customer-facing transaction reference, e.g.
// CXL-1A2B3C4D for a cancellation.
func reference(kind statex.FlowKind, id string) string {
	prefix := "TXN"
	switch kind {
	case statex.FlowCancellation:
		prefix = "CXL"
	case statex.FlowReturn:
		prefix = "REF"
	case statex.FlowWarrantyClaim:
		prefix = "WAR"
	}
	suffix := strings.ToUpper(strings.ReplaceAll(id, "-", ""))
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	return prefix + "-" + suffix
}
