package stable

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// sqlEntry is one row of the stable_entries table. Keys are compared as raw
// bytes (BLOB in sqlite, bytea in postgres) so ORDER BY matches pebble order.
type sqlEntry struct {
	EntryKey   []byte `gorm:"column:entry_key;primaryKey"`
	EntryValue []byte `gorm:"column:entry_value;not null"`
}

func (sqlEntry) TableName() string { return "stable_entries" }

// SQLOptions configures a SQL-backed region.
type SQLOptions struct {
	// OwnsDB closes the underlying connection pool on Close.
	OwnsDB bool
}

// SQLBackend is a Backend stored in a single gorm-managed table.
type SQLBackend struct {
	db     *gorm.DB
	owns   bool
	closed atomic.Bool
}

// NewSQLBackend creates the stable_entries table if it is missing and
// returns a backend over it.
func NewSQLBackend(db *gorm.DB, opts SQLOptions) (*SQLBackend, error) {
	if db == nil {
		return nil, errors.New("sql backend: nil database")
	}
	if err := db.AutoMigrate(&sqlEntry{}); err != nil {
		return nil, fmt.Errorf("sql backend: migrate stable_entries: %w", err)
	}
	return &SQLBackend{db: db, owns: opts.OwnsDB}, nil
}

// Name implements Backend.
func (b *SQLBackend) Name() string { return "sql:" + b.db.Dialector.Name() }

// Get implements Backend.
func (b *SQLBackend) Get(key []byte) ([]byte, bool, error) {
	if b.closed.Load() {
		return nil, false, ErrClosed
	}
	var rows []sqlEntry
	if err := b.db.Where("entry_key = ?", key).Limit(1).Find(&rows).Error; err != nil {
		return nil, false, classifySQLError("get", err)
	}
	if len(rows) == 0 {
		return nil, false, nil
	}
	return rows[0].EntryValue, true, nil
}

// Set implements Backend.
func (b *SQLBackend) Set(key, value []byte) error {
	if b.closed.Load() {
		return ErrClosed
	}
	err := b.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "entry_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"entry_value"}),
	}).Create(&sqlEntry{EntryKey: key, EntryValue: value}).Error
	if err != nil {
		return classifySQLError("set", err)
	}
	return nil
}

// Delete implements Backend.
func (b *SQLBackend) Delete(key []byte) error {
	if b.closed.Load() {
		return ErrClosed
	}
	if err := b.db.Where("entry_key = ?", key).Delete(&sqlEntry{}).Error; err != nil {
		return classifySQLError("delete", err)
	}
	return nil
}

// Scan implements Backend. The range is read in one query so fn sees a
// consistent snapshot.
func (b *SQLBackend) Scan(lower, upper []byte, fn func(key, value []byte) error) error {
	if b.closed.Load() {
		return ErrClosed
	}
	q := b.db.Model(&sqlEntry{})
	if lower != nil {
		q = q.Where("entry_key >= ?", lower)
	}
	if upper != nil {
		q = q.Where("entry_key < ?", upper)
	}

	var rows []sqlEntry
	if err := q.Order("entry_key ASC").Find(&rows).Error; err != nil {
		return classifySQLError("scan", err)
	}
	for _, row := range rows {
		if err := fn(row.EntryKey, row.EntryValue); err != nil {
			return err
		}
	}
	return nil
}

// Ping implements Backend.
func (b *SQLBackend) Ping() error {
	if b.closed.Load() {
		return ErrClosed
	}
	sqlDB, err := b.db.DB()
	if err != nil {
		return fmt.Errorf("sql ping: %w", err)
	}
	return sqlDB.Ping()
}

// Close implements Backend.
func (b *SQLBackend) Close() error {
	if !b.closed.CompareAndSwap(false, true) || !b.owns {
		return nil
	}
	sqlDB, err := b.db.DB()
	if err != nil {
		return fmt.Errorf("sql close: %w", err)
	}
	return sqlDB.Close()
}

// Postgres class 53 (insufficient resources) and 54000 (program limit).
var exhaustedPgCodes = map[string]bool{
	"53000": true,
	"53100": true,
	"53200": true,
	"54000": true,
}

func classifySQLError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && exhaustedPgCodes[pgErr.Code] {
		return fmt.Errorf("sql %s: %w: %v", op, ErrResourceExhausted, err)
	}
	if strings.Contains(strings.ToLower(err.Error()), "database or disk is full") {
		return fmt.Errorf("sql %s: %w: %v", op, ErrResourceExhausted, err)
	}
	return fmt.Errorf("sql %s: %w", op, err)
}
