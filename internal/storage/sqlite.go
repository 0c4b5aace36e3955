// File: internal/storage/sqlite.go
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mintheist/steal-indexer/internal/models"
	"github.com/mintheist/steal-indexer/pkg/utils"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// SQLiteStorage implements Storage interface using SQLite
type SQLiteStorage struct {
	db         *sql.DB
	config     *StorageConfig
	logger     *logrus.Logger
	migrations []*Migration
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(config *StorageConfig) *SQLiteStorage {
	return &SQLiteStorage{
		config:     config,
		logger:     utils.GetLogger(),
		migrations: GetSQLiteMigrations(),
	}
}

// Connect establishes database connection
func (s *SQLiteStorage) Connect() error {
	// Ensure directory exists
	dir := filepath.Dir(s.config.ConnectionString)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to create database directory", err.Error())
		}
	}

	db, err := sql.Open("sqlite", s.config.ConnectionString)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to open SQLite database", err.Error())
	}

	// Configure connection pool
	db.SetMaxOpenConns(s.config.MaxConnections)
	db.SetMaxIdleConns(s.config.MaxConnections / 2)
	db.SetConnMaxLifetime(s.config.MaxIdleTime)

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to enable WAL mode", err.Error())
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to enable foreign keys", err.Error())
	}

	s.db = db
	s.logger.WithField("path", s.config.ConnectionString).Info("SQLite database connected")

	return nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		s.logger.Info("SQLite database connection closed")
		return err
	}
	return nil
}

// Ping checks database connectivity
func (s *SQLiteStorage) Ping() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}
	return s.db.Ping()
}

// Migrate runs database migrations
func (s *SQLiteStorage) Migrate() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}

	s.logger.Info("Starting database migrations")

	for _, migration := range s.migrations {
		s.logger.WithFields(logrus.Fields{
			"version":     migration.Version,
			"description": migration.Description,
		}).Info("Applying migration")

		if _, err := s.db.Exec(migration.SQL); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase,
				fmt.Sprintf("Migration %s failed", migration.Version),
				err.Error())
		}
	}

	s.logger.Info("Database migrations completed")
	return nil
}

// UpsertEntity inserts or fully replaces an entity projection row.
// CreatedAt of an existing row is preserved so replays do not move it.
func (s *SQLiteStorage) UpsertEntity(ctx context.Context, entity *models.Entity) error {
	query := `
		INSERT INTO entities
		(id, name, symbol, description, image, holder, minter, fee_recipient,
		 current_price, next_price, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			symbol = excluded.symbol,
			description = excluded.description,
			image = excluded.image,
			holder = excluded.holder,
			minter = excluded.minter,
			fee_recipient = excluded.fee_recipient,
			current_price = excluded.current_price,
			next_price = excluded.next_price,
			updated_at = excluded.updated_at
	`

	now := time.Now().UTC()
	createdAt := entity.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	_, err := s.db.ExecContext(ctx, query,
		entity.ID, entity.Name, entity.Symbol, entity.Description, entity.Image,
		entity.Holder, entity.Minter, entity.FeeRecipient,
		entity.CurrentPrice, entity.NextPrice, createdAt, now)

	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to upsert entity", err.Error())
	}

	return nil
}

// UpdateEntityHolder updates only the holder of an existing entity. A missing
// row is not an error: the entity's CREATE may not have been applied yet.
func (s *SQLiteStorage) UpdateEntityHolder(ctx context.Context, entityID, holder string) error {
	query := `UPDATE entities SET holder = ?, updated_at = ? WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query, holder, time.Now().UTC(), entityID)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to update entity holder", err.Error())
	}

	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		s.logger.WithField("entity_id", entityID).Debug("Holder update matched no entity row")
	}

	return nil
}

// GetEntity retrieves a single entity by account ID
func (s *SQLiteStorage) GetEntity(ctx context.Context, id string) (*models.Entity, error) {
	query := `
		SELECT id, name, symbol, description, image, holder, minter, fee_recipient,
		       current_price, next_price, created_at, updated_at
		FROM entities WHERE id = ?
	`

	row := s.db.QueryRowContext(ctx, query, id)

	entity, err := scanEntity(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get entity", err.Error())
	}

	return entity, nil
}

// GetEntitiesByHolder retrieves all entities currently held by an address
func (s *SQLiteStorage) GetEntitiesByHolder(ctx context.Context, holder string) ([]*models.Entity, error) {
	return s.queryEntities(ctx, "holder", holder)
}

// GetEntitiesByMinter retrieves all entities originally minted by an address
func (s *SQLiteStorage) GetEntitiesByMinter(ctx context.Context, minter string) ([]*models.Entity, error) {
	return s.queryEntities(ctx, "minter", minter)
}

func (s *SQLiteStorage) queryEntities(ctx context.Context, column, value string) ([]*models.Entity, error) {
	query := fmt.Sprintf(`
		SELECT id, name, symbol, description, image, holder, minter, fee_recipient,
		       current_price, next_price, created_at, updated_at
		FROM entities WHERE %s = ? ORDER BY created_at DESC
	`, column)

	rows, err := s.db.QueryContext(ctx, query, value)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to query entities", err.Error())
	}
	defer rows.Close()

	var entities []*models.Entity
	for rows.Next() {
		entity, err := scanEntity(rows)
		if err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan entity", err.Error())
		}
		entities = append(entities, entity)
	}

	return entities, rows.Err()
}

// InsertHistory appends a history row keyed by transaction signature.
// Duplicate signatures are silently ignored so redelivered events are no-ops.
func (s *SQLiteStorage) InsertHistory(ctx context.Context, row *models.HistoryRow) error {
	query := `
		INSERT INTO history
		(id, entity_id, kind, from_addr, to_addr, amount, block_height, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`

	createdAt := row.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, query,
		row.ID, row.EntityID, string(row.Kind), row.FromAddr, row.ToAddr,
		nullableAmount(row.Amount), row.BlockHeight, createdAt)

	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to insert history row", err.Error())
	}

	return nil
}

// GetHistory retrieves history rows based on filter
func (s *SQLiteStorage) GetHistory(ctx context.Context, filter models.EventFilter) ([]*models.HistoryRow, error) {
	query := `
		SELECT id, entity_id, kind, from_addr, to_addr, amount, block_height, created_at
		FROM history WHERE 1=1
	`
	args := []interface{}{}

	if filter.EntityID != nil {
		query += " AND entity_id = ?"
		args = append(args, *filter.EntityID)
	}

	if filter.Kind != nil {
		query += " AND kind = ?"
		args = append(args, string(*filter.Kind))
	}

	if filter.From != nil {
		query += " AND from_addr = ?"
		args = append(args, *filter.From)
	}

	if filter.To != nil {
		query += " AND to_addr = ?"
		args = append(args, *filter.To)
	}

	query += " ORDER BY block_height DESC, created_at DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to query history", err.Error())
	}
	defer rows.Close()

	var history []*models.HistoryRow
	for rows.Next() {
		entry, err := scanHistoryRow(rows)
		if err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan history row", err.Error())
		}
		history = append(history, entry)
	}

	return history, rows.Err()
}

// GetCursor retrieves the persisted scan cursor for a scanner name
func (s *SQLiteStorage) GetCursor(ctx context.Context, scannerName string) (*models.ScanCursor, error) {
	query := `
		SELECT scanner_name, last_processed_slot, updated_at
		FROM scan_cursors WHERE scanner_name = ?
	`

	var cursor models.ScanCursor
	err := s.db.QueryRowContext(ctx, query, scannerName).Scan(
		&cursor.ScannerName, &cursor.LastProcessedSlot, &cursor.UpdatedAt)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get scan cursor", err.Error())
	}

	return &cursor, nil
}

// SaveCursor persists the scan cursor for a scanner name
func (s *SQLiteStorage) SaveCursor(ctx context.Context, cursor *models.ScanCursor) error {
	query := `
		INSERT INTO scan_cursors (scanner_name, last_processed_slot, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(scanner_name) DO UPDATE SET
			last_processed_slot = excluded.last_processed_slot,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		cursor.ScannerName, cursor.LastProcessedSlot, time.Now().UTC())

	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to save scan cursor", err.Error())
	}

	return nil
}

// RecordUploadReconciliation records a dead-lettered pending upload
func (s *SQLiteStorage) RecordUploadReconciliation(ctx context.Context, rec *models.UploadReconciliation) error {
	query := `
		INSERT INTO upload_reconciliations (id, entity_id, staging_ref, dead_lettered_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`

	deadLettered := rec.DeadLettered
	if deadLettered.IsZero() {
		deadLettered = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, query, rec.ID, rec.EntityID, rec.StagingRef, deadLettered)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to record upload reconciliation", err.Error())
	}

	return nil
}

// GetUploadReconciliations retrieves recent reconciliation records
func (s *SQLiteStorage) GetUploadReconciliations(ctx context.Context, limit int) ([]*models.UploadReconciliation, error) {
	query := `
		SELECT id, entity_id, staging_ref, dead_lettered_at
		FROM upload_reconciliations ORDER BY dead_lettered_at DESC
	`
	args := []interface{}{}

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to query upload reconciliations", err.Error())
	}
	defer rows.Close()

	var recs []*models.UploadReconciliation
	for rows.Next() {
		var rec models.UploadReconciliation
		if err := rows.Scan(&rec.ID, &rec.EntityID, &rec.StagingRef, &rec.DeadLettered); err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan reconciliation row", err.Error())
		}
		recs = append(recs, &rec)
	}

	return recs, rows.Err()
}

// GetStorageStats returns storage statistics
func (s *SQLiteStorage) GetStorageStats(ctx context.Context) (*StorageStats, error) {
	stats := &StorageStats{}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM entities").Scan(&stats.TotalEntities); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to count entities", err.Error())
	}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM history").Scan(&stats.TotalHistoryRows); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to count history rows", err.Error())
	}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM upload_reconciliations").Scan(&stats.TotalReconciliations); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to count reconciliations", err.Error())
	}

	var latest sql.NullTime
	if err := s.db.QueryRowContext(ctx, "SELECT MAX(created_at) FROM history").Scan(&latest); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get latest history time", err.Error())
	}
	if latest.Valid {
		stats.LatestHistoryAt = &latest.Time
	}

	return stats, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntity(row rowScanner) (*models.Entity, error) {
	var entity models.Entity
	err := row.Scan(&entity.ID, &entity.Name, &entity.Symbol, &entity.Description,
		&entity.Image, &entity.Holder, &entity.Minter, &entity.FeeRecipient,
		&entity.CurrentPrice, &entity.NextPrice, &entity.CreatedAt, &entity.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &entity, nil
}

func scanHistoryRow(row rowScanner) (*models.HistoryRow, error) {
	var entry models.HistoryRow
	var kind string
	var amount sql.NullInt64

	err := row.Scan(&entry.ID, &entry.EntityID, &kind, &entry.FromAddr,
		&entry.ToAddr, &amount, &entry.BlockHeight, &entry.CreatedAt)
	if err != nil {
		return nil, err
	}

	entry.Kind = models.OperationKind(kind)
	if amount.Valid {
		v := uint64(amount.Int64)
		entry.Amount = &v
	}

	return &entry, nil
}

func nullableAmount(amount *uint64) interface{} {
	if amount == nil {
		return nil
	}
	return int64(*amount)
}
