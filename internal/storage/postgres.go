// File: internal/storage/postgres.go
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/mintheist/steal-indexer/internal/models"
	"github.com/mintheist/steal-indexer/pkg/utils"
	"github.com/sirupsen/logrus"
)

// PostgreSQLStorage implements Storage interface using PostgreSQL
type PostgreSQLStorage struct {
	db         *sql.DB
	config     *StorageConfig
	logger     *logrus.Logger
	migrations []*Migration
}

// NewPostgreSQLStorage creates a new PostgreSQL storage instance
func NewPostgreSQLStorage(config *StorageConfig) *PostgreSQLStorage {
	return &PostgreSQLStorage{
		config:     config,
		logger:     utils.GetLogger(),
		migrations: GetPostgreSQLMigrations(),
	}
}

// Connect establishes database connection
func (p *PostgreSQLStorage) Connect() error {
	db, err := sql.Open("postgres", p.config.ConnectionString)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to open PostgreSQL database", err.Error())
	}

	// Configure connection pool
	db.SetMaxOpenConns(p.config.MaxConnections)
	db.SetMaxIdleConns(p.config.MaxConnections / 2)
	db.SetConnMaxLifetime(p.config.MaxIdleTime)

	// Test connection
	if err := db.Ping(); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to ping PostgreSQL database", err.Error())
	}

	p.db = db
	p.logger.Info("PostgreSQL database connected")

	return nil
}

// Close closes the database connection
func (p *PostgreSQLStorage) Close() error {
	if p.db != nil {
		err := p.db.Close()
		p.db = nil
		p.logger.Info("PostgreSQL database connection closed")
		return err
	}
	return nil
}

// Ping checks database connectivity
func (p *PostgreSQLStorage) Ping() error {
	if p.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}
	return p.db.Ping()
}

// Migrate runs database migrations
func (p *PostgreSQLStorage) Migrate() error {
	if p.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}

	p.logger.Info("Starting database migrations")

	for _, migration := range p.migrations {
		p.logger.WithFields(logrus.Fields{
			"version":     migration.Version,
			"description": migration.Description,
		}).Info("Applying migration")

		if _, err := p.db.Exec(migration.SQL); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase,
				fmt.Sprintf("Migration %s failed", migration.Version),
				err.Error())
		}
	}

	p.logger.Info("Database migrations completed")
	return nil
}

// UpsertEntity inserts or fully replaces an entity projection row
func (p *PostgreSQLStorage) UpsertEntity(ctx context.Context, entity *models.Entity) error {
	query := `
		INSERT INTO entities
		(id, name, symbol, description, image, holder, minter, fee_recipient,
		 current_price, next_price, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			symbol = EXCLUDED.symbol,
			description = EXCLUDED.description,
			image = EXCLUDED.image,
			holder = EXCLUDED.holder,
			minter = EXCLUDED.minter,
			fee_recipient = EXCLUDED.fee_recipient,
			current_price = EXCLUDED.current_price,
			next_price = EXCLUDED.next_price,
			updated_at = EXCLUDED.updated_at
	`

	now := time.Now().UTC()
	createdAt := entity.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	_, err := p.db.ExecContext(ctx, query,
		entity.ID, entity.Name, entity.Symbol, entity.Description, entity.Image,
		entity.Holder, entity.Minter, entity.FeeRecipient,
		int64(entity.CurrentPrice), int64(entity.NextPrice), createdAt, now)

	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to upsert entity", err.Error())
	}

	return nil
}

// UpdateEntityHolder updates only the holder of an existing entity
func (p *PostgreSQLStorage) UpdateEntityHolder(ctx context.Context, entityID, holder string) error {
	query := `UPDATE entities SET holder = $1, updated_at = $2 WHERE id = $3`

	result, err := p.db.ExecContext(ctx, query, holder, time.Now().UTC(), entityID)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to update entity holder", err.Error())
	}

	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		p.logger.WithField("entity_id", entityID).Debug("Holder update matched no entity row")
	}

	return nil
}

// GetEntity retrieves a single entity by account ID
func (p *PostgreSQLStorage) GetEntity(ctx context.Context, id string) (*models.Entity, error) {
	query := `
		SELECT id, name, symbol, description, image, holder, minter, fee_recipient,
		       current_price, next_price, created_at, updated_at
		FROM entities WHERE id = $1
	`

	entity, err := scanEntity(p.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get entity", err.Error())
	}

	return entity, nil
}

// GetEntitiesByHolder retrieves all entities currently held by an address
func (p *PostgreSQLStorage) GetEntitiesByHolder(ctx context.Context, holder string) ([]*models.Entity, error) {
	return p.queryEntities(ctx, "holder", holder)
}

// GetEntitiesByMinter retrieves all entities originally minted by an address
func (p *PostgreSQLStorage) GetEntitiesByMinter(ctx context.Context, minter string) ([]*models.Entity, error) {
	return p.queryEntities(ctx, "minter", minter)
}

func (p *PostgreSQLStorage) queryEntities(ctx context.Context, column, value string) ([]*models.Entity, error) {
	query := fmt.Sprintf(`
		SELECT id, name, symbol, description, image, holder, minter, fee_recipient,
		       current_price, next_price, created_at, updated_at
		FROM entities WHERE %s = $1 ORDER BY created_at DESC
	`, column)

	rows, err := p.db.QueryContext(ctx, query, value)
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

// InsertHistory appends a history row keyed by transaction signature
func (p *PostgreSQLStorage) InsertHistory(ctx context.Context, row *models.HistoryRow) error {
	query := `
		INSERT INTO history
		(id, entity_id, kind, from_addr, to_addr, amount, block_height, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`

	createdAt := row.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := p.db.ExecContext(ctx, query,
		row.ID, row.EntityID, string(row.Kind), row.FromAddr, row.ToAddr,
		nullableAmount(row.Amount), row.BlockHeight, createdAt)

	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to insert history row", err.Error())
	}

	return nil
}

// GetHistory retrieves history rows based on filter
func (p *PostgreSQLStorage) GetHistory(ctx context.Context, filter models.EventFilter) ([]*models.HistoryRow, error) {
	query := `
		SELECT id, entity_id, kind, from_addr, to_addr, amount, block_height, created_at
		FROM history WHERE 1=1
	`
	args := []interface{}{}
	argIndex := 1

	if filter.EntityID != nil {
		query += fmt.Sprintf(" AND entity_id = $%d", argIndex)
		args = append(args, *filter.EntityID)
		argIndex++
	}

	if filter.Kind != nil {
		query += fmt.Sprintf(" AND kind = $%d", argIndex)
		args = append(args, string(*filter.Kind))
		argIndex++
	}

	if filter.From != nil {
		query += fmt.Sprintf(" AND from_addr = $%d", argIndex)
		args = append(args, *filter.From)
		argIndex++
	}

	if filter.To != nil {
		query += fmt.Sprintf(" AND to_addr = $%d", argIndex)
		args = append(args, *filter.To)
		argIndex++
	}

	query += " ORDER BY block_height DESC, created_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIndex)
		args = append(args, filter.Limit)
		argIndex++
	}

	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIndex)
		args = append(args, filter.Offset)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
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
func (p *PostgreSQLStorage) GetCursor(ctx context.Context, scannerName string) (*models.ScanCursor, error) {
	query := `
		SELECT scanner_name, last_processed_slot, updated_at
		FROM scan_cursors WHERE scanner_name = $1
	`

	var cursor models.ScanCursor
	err := p.db.QueryRowContext(ctx, query, scannerName).Scan(
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
func (p *PostgreSQLStorage) SaveCursor(ctx context.Context, cursor *models.ScanCursor) error {
	query := `
		INSERT INTO scan_cursors (scanner_name, last_processed_slot, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (scanner_name) DO UPDATE SET
			last_processed_slot = EXCLUDED.last_processed_slot,
			updated_at = EXCLUDED.updated_at
	`

	_, err := p.db.ExecContext(ctx, query,
		cursor.ScannerName, cursor.LastProcessedSlot, time.Now().UTC())

	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to save scan cursor", err.Error())
	}

	return nil
}

// RecordUploadReconciliation records a dead-lettered pending upload
func (p *PostgreSQLStorage) RecordUploadReconciliation(ctx context.Context, rec *models.UploadReconciliation) error {
	query := `
		INSERT INTO upload_reconciliations (id, entity_id, staging_ref, dead_lettered_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`

	deadLettered := rec.DeadLettered
	if deadLettered.IsZero() {
		deadLettered = time.Now().UTC()
	}

	_, err := p.db.ExecContext(ctx, query, rec.ID, rec.EntityID, rec.StagingRef, deadLettered)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to record upload reconciliation", err.Error())
	}

	return nil
}

// GetUploadReconciliations retrieves recent reconciliation records
func (p *PostgreSQLStorage) GetUploadReconciliations(ctx context.Context, limit int) ([]*models.UploadReconciliation, error) {
	query := `
		SELECT id, entity_id, staging_ref, dead_lettered_at
		FROM upload_reconciliations ORDER BY dead_lettered_at DESC
	`
	args := []interface{}{}

	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
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
func (p *PostgreSQLStorage) GetStorageStats(ctx context.Context) (*StorageStats, error) {
	stats := &StorageStats{}

	if err := p.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM entities").Scan(&stats.TotalEntities); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to count entities", err.Error())
	}

	if err := p.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM history").Scan(&stats.TotalHistoryRows); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to count history rows", err.Error())
	}

	if err := p.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM upload_reconciliations").Scan(&stats.TotalReconciliations); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to count reconciliations", err.Error())
	}

	var latest sql.NullTime
	if err := p.db.QueryRowContext(ctx, "SELECT MAX(created_at) FROM history").Scan(&latest); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get latest history time", err.Error())
	}
	if latest.Valid {
		stats.LatestHistoryAt = &latest.Time
	}

	return stats, nil
}
