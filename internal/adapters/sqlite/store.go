package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"defiLoopBot/internal/domain"
	"defiLoopBot/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Store implements the ports.LoopStore and ports.TransactionLog interfaces
// using SQLite. It is the durable backing copy of the engine's in-memory
// active-loops map.
type Store struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite store.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewStore creates a new SQLite store instance.
func NewStore(cfg Config) (*Store, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite store")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/leverage_loops.db" // Default path
	}

	// Create data directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite store initialization failed")
		return nil, err
	}

	// WAL mode for better concurrency between the deploy path and the monitor
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite store initialization failed")
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite store initialization failed")
		return nil, err
	}

	// SQLite handles concurrency internally, but the Go driver benefits from
	// limiting connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	store := &Store{db: db, logger: cfg.Logger}

	if err := store.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite store initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "SQLite store initialized", map[string]interface{}{"path": dbPath})

	return store, nil
}

// initializeSchema creates tables if they don't exist.
func (s *Store) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS loops (
		loop_id TEXT PRIMARY KEY,
		initial_capital_usd REAL NOT NULL,
		iterations INTEGER NOT NULL,
		max_iterations INTEGER NOT NULL,
		current_leverage_ratio REAL NOT NULL,
		total_exposure_usd REAL NOT NULL,
		status TEXT NOT NULL,
		health_score REAL NOT NULL DEFAULT 1.0,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS loop_positions (
		position_id TEXT PRIMARY KEY,
		loop_id TEXT NOT NULL,
		iteration INTEGER NOT NULL,
		collateral_token TEXT NOT NULL,
		collateral_amount_usd REAL NOT NULL,
		borrowed_amount_usd REAL NOT NULL,
		lending_protocol TEXT NOT NULL,
		borrowing_protocol TEXT NOT NULL,
		liquidation_threshold REAL NOT NULL,
		collateral_ratio REAL NOT NULL,
		status TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE (loop_id, iteration)
	);

	CREATE TABLE IF NOT EXISTS reserved_balances (
		asset TEXT PRIMARY KEY,
		amount REAL NOT NULL,
		amount_usd REAL NOT NULL,
		reason TEXT NOT NULL,
		position_ids TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS transactions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		action TEXT NOT NULL,
		asset TEXT NOT NULL,
		amount REAL NOT NULL,
		amount_usd REAL NOT NULL,
		protocol TEXT NOT NULL,
		agent TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_loops_status ON loops (status);
	CREATE INDEX IF NOT EXISTS idx_loop_positions_loop ON loop_positions (loop_id, iteration);
	CREATE INDEX IF NOT EXISTS idx_transactions_action ON transactions (action, created_at);
	`
	_, err := s.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		s.logger.Info(context.Background(), "Closing SQLite store")
		return s.db.Close()
	}
	return nil
}

// --- LoopStore implementation ---

// SaveLoop persists a newly created loop record.
func (s *Store) SaveLoop(ctx context.Context, loop *domain.LeverageLoop) error {
	const query = `
	INSERT INTO loops (loop_id, initial_capital_usd, iterations, max_iterations,
	                   current_leverage_ratio, total_exposure_usd, status, health_score, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		loop.LoopID, loop.InitialCapitalUSD, loop.Iterations, loop.MaxIterations,
		loop.CurrentLeverageRatio, loop.TotalExposureUSD, loop.Status, loop.HealthScore, loop.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert loop %s: %w", loop.LoopID, err)
	}
	s.logger.Debug(ctx, "Loop created", map[string]interface{}{"loopID": loop.LoopID})
	return nil
}

// UpdateLoop persists a loop's running totals and status.
func (s *Store) UpdateLoop(ctx context.Context, loop *domain.LeverageLoop) error {
	return s.updateLoopTx(ctx, s.db, loop)
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (s *Store) updateLoopTx(ctx context.Context, ex execer, loop *domain.LeverageLoop) error {
	const query = `
	UPDATE loops
	SET iterations = ?, max_iterations = ?, current_leverage_ratio = ?,
	    total_exposure_usd = ?, status = ?, health_score = ?
	WHERE loop_id = ?`

	result, err := ex.ExecContext(ctx, query,
		loop.Iterations, loop.MaxIterations, loop.CurrentLeverageRatio,
		loop.TotalExposureUSD, loop.Status, loop.HealthScore, loop.LoopID)
	if err != nil {
		return fmt.Errorf("failed to update loop %s: %w", loop.LoopID, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for loop %s: %w", loop.LoopID, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("loop %s not found for update: %w", loop.LoopID, ports.ErrNotFound)
	}
	return nil
}

// UpdateLoopStatus updates only the status of a loop.
func (s *Store) UpdateLoopStatus(ctx context.Context, loopID string, status domain.LoopStatus) error {
	const query = `UPDATE loops SET status = ? WHERE loop_id = ?`
	result, err := s.db.ExecContext(ctx, query, status, loopID)
	if err != nil {
		return fmt.Errorf("failed to update status of loop %s: %w", loopID, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for loop %s: %w", loopID, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("loop %s not found for status update: %w", loopID, ports.ErrNotFound)
	}
	s.logger.Debug(ctx, "Loop status updated", map[string]interface{}{"loopID": loopID, "status": status})
	return nil
}

// SavePosition persists a newly created position.
func (s *Store) SavePosition(ctx context.Context, pos *domain.LeveragePosition) error {
	return s.savePositionTx(ctx, s.db, pos)
}

func (s *Store) savePositionTx(ctx context.Context, ex execer, pos *domain.LeveragePosition) error {
	const query = `
	INSERT INTO loop_positions (position_id, loop_id, iteration, collateral_token,
	                            collateral_amount_usd, borrowed_amount_usd, lending_protocol,
	                            borrowing_protocol, liquidation_threshold, collateral_ratio,
	                            status, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := ex.ExecContext(ctx, query,
		pos.PositionID, pos.LoopID, pos.Iteration, pos.CollateralToken,
		pos.CollateralAmountUSD, pos.BorrowedAmountUSD, pos.LendingProtocol,
		pos.BorrowingProtocol, pos.LiquidationThreshold, pos.CurrentCollateralRatio,
		pos.Status, pos.CreatedAt, pos.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert position %s: %w", pos.PositionID, err)
	}
	return nil
}

// UpdatePositionStatus updates only the status of a position.
func (s *Store) UpdatePositionStatus(ctx context.Context, positionID string, status domain.PositionStatus) error {
	const query = `UPDATE loop_positions SET status = ?, updated_at = ? WHERE position_id = ?`
	result, err := s.db.ExecContext(ctx, query, status, time.Now().UTC(), positionID)
	if err != nil {
		return fmt.Errorf("failed to update status of position %s: %w", positionID, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for position %s: %w", positionID, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("position %s not found for status update: %w", positionID, ports.ErrNotFound)
	}
	s.logger.Debug(ctx, "Position status updated", map[string]interface{}{"positionID": positionID, "status": status})
	return nil
}

// SaveIteration persists one borrow iteration atomically: position insert,
// loop totals update and reserved-balance upsert share a single transaction.
func (s *Store) SaveIteration(ctx context.Context, loop *domain.LeverageLoop, pos *domain.LeveragePosition, rb ports.ReservedBalance) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin iteration transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.savePositionTx(ctx, tx, pos); err != nil {
		return err
	}
	if err := s.updateLoopTx(ctx, tx, loop); err != nil {
		return err
	}
	if err := s.upsertReservedBalanceTx(ctx, tx, rb); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit iteration for position %s: %w", pos.PositionID, err)
	}
	s.logger.Debug(ctx, "Iteration persisted", map[string]interface{}{
		"loopID":     loop.LoopID,
		"positionID": pos.PositionID,
		"iteration":  pos.Iteration,
	})
	return nil
}

// ActiveLoops retrieves all loops whose status is non-terminal, ordered by
// creation time. Positions are not attached; use PositionsByLoop.
func (s *Store) ActiveLoops(ctx context.Context) ([]*domain.LeverageLoop, error) {
	const query = `
	SELECT loop_id, initial_capital_usd, iterations, max_iterations,
	       current_leverage_ratio, total_exposure_usd, status, health_score, created_at
	FROM loops
	WHERE status NOT IN (?, ?)
	ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, domain.LoopUnwinding, domain.LoopEmergency)
	if err != nil {
		return nil, fmt.Errorf("failed to query active loops: %w", err)
	}
	defer rows.Close()

	loops := make([]*domain.LeverageLoop, 0)
	for rows.Next() {
		loop, err := scanLoop(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan loop during ActiveLoops: %w", err)
		}
		loops = append(loops, loop)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating loop rows: %w", err)
	}
	return loops, nil
}

// PositionsByLoop retrieves all positions of a loop ordered by iteration.
func (s *Store) PositionsByLoop(ctx context.Context, loopID string) ([]*domain.LeveragePosition, error) {
	const query = `
	SELECT position_id, loop_id, iteration, collateral_token, collateral_amount_usd,
	       borrowed_amount_usd, lending_protocol, borrowing_protocol,
	       liquidation_threshold, collateral_ratio, status, created_at, updated_at
	FROM loop_positions
	WHERE loop_id = ?
	ORDER BY iteration ASC`

	rows, err := s.db.QueryContext(ctx, query, loopID)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions for loop %s: %w", loopID, err)
	}
	defer rows.Close()

	positions := make([]*domain.LeveragePosition, 0)
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position for loop %s: %w", loopID, err)
		}
		positions = append(positions, pos)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating position rows for loop %s: %w", loopID, err)
	}
	return positions, nil
}

// UpdateReservedBalance upserts the earmarked balance for an asset.
func (s *Store) UpdateReservedBalance(ctx context.Context, rb ports.ReservedBalance) error {
	return s.upsertReservedBalanceTx(ctx, s.db, rb)
}

func (s *Store) upsertReservedBalanceTx(ctx context.Context, ex execer, rb ports.ReservedBalance) error {
	const query = `
	INSERT INTO reserved_balances (asset, amount, amount_usd, reason, position_ids, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT (asset) DO UPDATE SET
		amount = excluded.amount,
		amount_usd = excluded.amount_usd,
		reason = excluded.reason,
		position_ids = excluded.position_ids,
		updated_at = excluded.updated_at`

	_, err := ex.ExecContext(ctx, query,
		rb.Asset, rb.Amount, rb.AmountUSD, rb.Reason,
		strings.Join(rb.PositionIDs, ","), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert reserved balance for %s: %w", rb.Asset, err)
	}
	return nil
}

// ClearReservedBalance removes the earmarked balance for an asset.
func (s *Store) ClearReservedBalance(ctx context.Context, asset string) error {
	const query = `DELETE FROM reserved_balances WHERE asset = ?`
	if _, err := s.db.ExecContext(ctx, query, asset); err != nil {
		return fmt.Errorf("failed to clear reserved balance for %s: %w", asset, err)
	}
	s.logger.Debug(ctx, "Reserved balance cleared", map[string]interface{}{"asset": asset})
	return nil
}

// --- TransactionLog implementation ---

// Record appends one accounting transaction.
func (s *Store) Record(ctx context.Context, tx ports.Transaction) error {
	const query = `
	INSERT INTO transactions (action, asset, amount, amount_usd, protocol, agent, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

	ts := tx.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, query,
		tx.Action, tx.Asset, tx.Amount, tx.AmountUSD, tx.Protocol, tx.Agent, ts)
	if err != nil {
		return fmt.Errorf("failed to insert transaction (%s %s): %w", tx.Action, tx.Asset, err)
	}
	return nil
}

// --- Helper scan functions ---

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanLoop scans a row into a domain.LeverageLoop struct.
func scanLoop(s scanner) (*domain.LeverageLoop, error) {
	l := &domain.LeverageLoop{}
	var status string
	err := s.Scan(
		&l.LoopID, &l.InitialCapitalUSD, &l.Iterations, &l.MaxIterations,
		&l.CurrentLeverageRatio, &l.TotalExposureUSD, &status, &l.HealthScore, &l.CreatedAt)
	if err != nil {
		return nil, err
	}
	l.Status = domain.LoopStatus(status)
	return l, nil
}

// scanPosition scans a row into a domain.LeveragePosition struct.
func scanPosition(s scanner) (*domain.LeveragePosition, error) {
	p := &domain.LeveragePosition{}
	var status string
	err := s.Scan(
		&p.PositionID, &p.LoopID, &p.Iteration, &p.CollateralToken, &p.CollateralAmountUSD,
		&p.BorrowedAmountUSD, &p.LendingProtocol, &p.BorrowingProtocol,
		&p.LiquidationThreshold, &p.CurrentCollateralRatio, &status, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Status = domain.PositionStatus(status)
	return p, nil
}
