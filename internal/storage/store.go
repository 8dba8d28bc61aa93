package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"flowwatch/internal/config"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	insertAlertSQL = `INSERT INTO flow_alerts (
        id,
        symbol,
        kind,
        severity,
        order_size,
        price_level,
        volume_ratio,
        alert_ts
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    )
    ON CONFLICT (id) DO NOTHING;`

	listRecentAlertsSQL = `SELECT
        id, symbol, kind, severity, order_size, price_level, volume_ratio, alert_ts, created_at
    FROM flow_alerts
    ORDER BY alert_ts DESC
    LIMIT $1;`

	listAlertsBetweenSQL = `SELECT
        id, symbol, kind, severity, order_size, price_level, volume_ratio, alert_ts, created_at
    FROM flow_alerts
    WHERE symbol = $1
      AND alert_ts >= $2
      AND alert_ts < $3
    ORDER BY alert_ts;`

	deleteAlertsBeforeSQL = `DELETE FROM flow_alerts WHERE alert_ts < $1;`

	insertRecommendationSQL = `INSERT INTO exit_recommendations (
        symbol,
        reason,
        triggering_alert_id,
        recommended_at
    ) VALUES (
        $1,$2,$3,$4
    )
    ON CONFLICT (triggering_alert_id) DO NOTHING
    RETURNING id, symbol, reason, triggering_alert_id, recommended_at, created_at;`

	listRecentRecommendationsSQL = `SELECT
        id, symbol, reason, triggering_alert_id, recommended_at, created_at
    FROM exit_recommendations
    ORDER BY recommended_at DESC
    LIMIT $1;`
)

// AlertStore defines alert persistence operations.
type AlertStore interface {
	InsertAlert(ctx context.Context, row AlertRow) error
	ListRecentAlerts(ctx context.Context, limit int) ([]AlertRow, error)
	ListAlertsBetween(ctx context.Context, symbol string, from, to time.Time) ([]AlertRow, error)
	DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error
}

// RecommendationStore defines exit-recommendation persistence operations.
type RecommendationStore interface {
	InsertRecommendation(ctx context.Context, row RecommendationRow) (RecommendationRow, bool, error)
	ListRecentRecommendations(ctx context.Context, limit int) ([]RecommendationRow, error)
}

// Store aggregates access to alerts and recommendations.
type Store struct {
	pool *pgxpool.Pool
}

// NewPool builds a pgx pool from config.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		pcfg.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		pcfg.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		pcfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	return pool, nil
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// InsertAlert persists one alert; replays of the same alert id are ignored.
func (s *Store) InsertAlert(ctx context.Context, row AlertRow) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var priceLevel any
	if row.PriceLevel != nil {
		priceLevel = row.PriceLevel.String()
	}

	_, err = pool.Exec(ctx, insertAlertSQL,
		row.ID,
		row.Symbol,
		row.Kind,
		row.Severity,
		row.OrderSize,
		priceLevel,
		row.VolumeRatio,
		row.AlertTS,
	)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

// ListRecentAlerts returns the newest alerts first.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]AlertRow, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, listRecentAlertsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent alerts: %w", err)
	}
	defer rows.Close()

	return scanAlertRows(rows)
}

// ListAlertsBetween returns a symbol's alerts inside [from, to).
func (s *Store) ListAlertsBetween(ctx context.Context, symbol string, from, to time.Time) ([]AlertRow, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, listAlertsBetweenSQL, symbol, from, to)
	if err != nil {
		return nil, fmt.Errorf("list alerts between: %w", err)
	}
	defer rows.Close()

	return scanAlertRows(rows)
}

// DeleteAlertsBefore prunes alerts older than the retention cutoff.
func (s *Store) DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, deleteAlertsBeforeSQL, olderThan); err != nil {
		return fmt.Errorf("delete alerts: %w", err)
	}
	return nil
}

// InsertRecommendation persists a recommendation. The bool result reports
// whether the row was newly inserted; a duplicate triggering alert id leaves
// the table untouched.
func (s *Store) InsertRecommendation(ctx context.Context, row RecommendationRow) (RecommendationRow, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return RecommendationRow{}, false, err
	}

	var out RecommendationRow
	err = pool.QueryRow(ctx, insertRecommendationSQL,
		row.Symbol,
		row.Reason,
		row.TriggeringAlertID,
		row.RecommendedAt,
	).Scan(&out.ID, &out.Symbol, &out.Reason, &out.TriggeringAlertID, &out.RecommendedAt, &out.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return RecommendationRow{}, false, nil
	}
	if err != nil {
		return RecommendationRow{}, false, fmt.Errorf("insert recommendation: %w", err)
	}
	return out, true, nil
}

// ListRecentRecommendations returns the newest recommendations first.
func (s *Store) ListRecentRecommendations(ctx context.Context, limit int) ([]RecommendationRow, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, listRecentRecommendationsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent recommendations: %w", err)
	}
	defer rows.Close()

	var out []RecommendationRow
	for rows.Next() {
		var row RecommendationRow
		if err := rows.Scan(&row.ID, &row.Symbol, &row.Reason, &row.TriggeringAlertID, &row.RecommendedAt, &row.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan recommendation: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func scanAlertRows(rows pgx.Rows) ([]AlertRow, error) {
	var out []AlertRow
	for rows.Next() {
		var (
			row        AlertRow
			priceLevel *string
		)
		if err := rows.Scan(&row.ID, &row.Symbol, &row.Kind, &row.Severity, &row.OrderSize, &priceLevel, &row.VolumeRatio, &row.AlertTS, &row.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		if priceLevel != nil {
			parsed, err := decimal.NewFromString(*priceLevel)
			if err != nil {
				return nil, fmt.Errorf("parse price level: %w", err)
			}
			row.PriceLevel = &parsed
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

var (
	_ AlertStore          = (*Store)(nil)
	_ RecommendationStore = (*Store)(nil)
)
