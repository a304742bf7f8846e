package storage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"token_exchange/internal/domain"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Storage persists the price catalog, balances, orders and settlement batches.
type Storage struct {
	db *gorm.DB
	// rowLocks is false for SQLite, which has no SELECT ... FOR UPDATE.
	// There every transaction runs on the single pooled connection instead.
	rowLocks bool
}

// Options selects the database backend.
type Options struct {
	Driver string // "sqlite" (default), "postgres", "mysql"
	DSN    string // empty means the per-user SQLite file
}

// NewStorage opens the database described by opts and migrates the schema.
func NewStorage(opts Options) (*Storage, error) {
	dialector, err := openDialector(opts)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: newGormLogger(log.New(os.Stdout, "\r\n", log.LstdFlags)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return newStorage(db)
}

// newGormLogger reports slow queries and errors. Missing rows are an expected
// outcome of price lookups and first orders, so they are not logged.
func newGormLogger(w logger.Writer) logger.Interface {
	return logger.New(w, logger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
	})
}

func newStorage(db *gorm.DB) (*Storage, error) {
	s := &Storage{db: db, rowLocks: db.Dialector.Name() != "sqlite"}

	if !s.rowLocks {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to access sql.DB: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func openDialector(opts Options) (gorm.Dialector, error) {
	switch opts.Driver {
	case "", "sqlite":
		dsn := opts.DSN
		if dsn == "" {
			dbPath, err := getDBPath()
			if err != nil {
				return nil, fmt.Errorf("failed to resolve DB path: %w", err)
			}
			if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
				return nil, fmt.Errorf("failed to create DB directory: %w", err)
			}
			dsn = dbPath + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
		}
		return sqlite.Open(dsn), nil
	case "postgres":
		return postgres.Open(opts.DSN), nil
	case "mysql":
		return mysql.Open(opts.DSN), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", opts.Driver)
	}
}

// getDBPath resolves the database file path based on OS
func getDBPath() (string, error) {
	var configDir string
	var err error

	if runtime.GOOS == "windows" {
		configDir = os.Getenv("LOCALAPPDATA")
		if configDir == "" {
			configDir, err = os.UserConfigDir()
		}
	} else {
		configDir, err = os.UserConfigDir()
	}

	if err != nil {
		return "", err
	}

	return filepath.Join(configDir, "TokenExchange", "data", "exchange.db"), nil
}

func (s *Storage) migrate() error {
	if err := s.db.AutoMigrate(
		&domain.PriceEntry{},
		&domain.Balance{},
		&domain.Order{},
		&domain.Batch{},
		&domain.SettlementState{},
	); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	state := domain.SettlementState{ID: domain.SettlementStateID, PendingValue: decimal.Zero}
	if err := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&state).Error; err != nil {
		return fmt.Errorf("failed to initialise settlement state: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// WithTx runs fn inside one database transaction.
// The transaction commits only if fn returns nil.
func (s *Storage) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		return fn(&Tx{db: db, rowLocks: s.rowLocks})
	})
}

// ======================================================================================
// Price Catalog
// ======================================================================================

// UpsertPrice creates or updates a catalog entry.
func (s *Storage) UpsertPrice(ctx context.Context, token string, price decimal.Decimal) error {
	if price.IsNegative() || !domain.FitsAmount(price) {
		return fmt.Errorf("price for %s: %w", token, domain.ErrMalformedAmount)
	}
	entry := domain.PriceEntry{Token: token, Price: price, UpdatedAt: time.Now()}
	return s.db.WithContext(ctx).Save(&entry).Error
}

// ListPrices returns the whole catalog ordered by token.
func (s *Storage) ListPrices(ctx context.Context) ([]domain.PriceEntry, error) {
	var entries []domain.PriceEntry
	err := s.db.WithContext(ctx).Order("token_name").Find(&entries).Error
	return entries, err
}

// ======================================================================================
// Balance Ledger
// ======================================================================================

// GetBalance returns the owner's balance, or nil if the owner has none yet.
func (s *Storage) GetBalance(ctx context.Context, owner string) (*domain.Balance, error) {
	var b domain.Balance
	err := s.db.WithContext(ctx).First(&b, "owner_id = ?", owner).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil // Not found is not an error
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// Credit adds amount to the owner's balance, creating it if needed.
func (s *Storage) Credit(ctx context.Context, owner string, amount decimal.Decimal) (*domain.Balance, error) {
	if !domain.FitsAmount(amount) {
		return nil, fmt.Errorf("credit %s: %w", owner, domain.ErrMalformedAmount)
	}
	var out *domain.Balance
	err := s.WithTx(ctx, func(tx *Tx) error {
		b, err := tx.GetOrInitBalance(owner)
		if err != nil {
			return err
		}
		if err := b.Credit(amount); err != nil {
			return err
		}
		if err := tx.SaveBalance(b); err != nil {
			return err
		}
		out = b
		return nil
	})
	return out, err
}

// ======================================================================================
// Order Store
// ======================================================================================

// ListOrders returns the owner's orders, oldest first.
func (s *Storage) ListOrders(ctx context.Context, owner string) ([]domain.Order, error) {
	var orders []domain.Order
	err := s.db.WithContext(ctx).Where("owner_id = ?", owner).Order("id").Find(&orders).Error
	return orders, err
}

// GetOrder returns a single order by id.
func (s *Storage) GetOrder(ctx context.Context, id uint64) (*domain.Order, error) {
	var o domain.Order
	if err := s.db.WithContext(ctx).First(&o, id).Error; err != nil {
		return nil, err
	}
	return &o, nil
}

// PendingOrders returns every unsettled order outside of a transaction.
func (s *Storage) PendingOrders(ctx context.Context) ([]domain.Order, error) {
	var orders []domain.Order
	err := s.db.WithContext(ctx).Where("settled = ?", false).Order("id").Find(&orders).Error
	return orders, err
}

// SettlementState returns the current settlement row.
func (s *Storage) SettlementState(ctx context.Context) (*domain.SettlementState, error) {
	var st domain.SettlementState
	if err := s.db.WithContext(ctx).First(&st, domain.SettlementStateID).Error; err != nil {
		return nil, err
	}
	return &st, nil
}

// ListBatches returns settled batches in sequence order.
func (s *Storage) ListBatches(ctx context.Context) ([]domain.Batch, error) {
	var batches []domain.Batch
	err := s.db.WithContext(ctx).Order("seq").Find(&batches).Error
	return batches, err
}
