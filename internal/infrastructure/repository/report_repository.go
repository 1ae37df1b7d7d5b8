// Package repository persists compiled reports and model artifacts in
// Postgres. Reports are versioned records in a capacity-bounded history;
// the model registry is append-only.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/somnasync/health-insight-engine/internal/domain/insight"
)

// ErrNotFound is returned when no report has been persisted yet.
var ErrNotFound = errors.New("not found")

// ReportRepository stores AnalysisReports with bounded history. Saving a
// report beyond capacity evicts the oldest rows in the same transaction.
type ReportRepository struct {
	pool     *pgxpool.Pool
	capacity int
	logger   *zap.Logger
}

// NewReportRepository wraps a connection pool with a history capacity.
func NewReportRepository(pool *pgxpool.Pool, capacity int, logger *zap.Logger) *ReportRepository {
	if capacity < 1 {
		capacity = 30
	}
	return &ReportRepository{pool: pool, capacity: capacity, logger: logger}
}

// Save persists a compiled report and evicts history beyond capacity.
func (r *ReportRepository) Save(ctx context.Context, report *insight.AnalysisReport) error {
	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO analysis_reports (id, compiled_at, schema_version, significant_findings, body)
		VALUES ($1, $2, $3, $4, $5)`,
		report.ID, report.Timestamp, report.SchemaVersion, report.SignificantFindingCount, body)
	if err != nil {
		return fmt.Errorf("inserting report: %w", err)
	}

	// Oldest evicted first once history exceeds capacity.
	_, err = tx.Exec(ctx, `
		DELETE FROM analysis_reports
		WHERE id NOT IN (
			SELECT id FROM analysis_reports ORDER BY compiled_at DESC LIMIT $1
		)`, r.capacity)
	if err != nil {
		return fmt.Errorf("evicting report history: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing report: %w", err)
	}

	r.logger.Info("report persisted",
		zap.String("report_id", report.ID.String()),
		zap.Int("significant_findings", report.SignificantFindingCount))
	return nil
}

// Latest returns the most recently compiled report, or ErrNotFound.
func (r *ReportRepository) Latest(ctx context.Context) (*insight.AnalysisReport, error) {
	var body []byte
	err := r.pool.QueryRow(ctx, `
		SELECT body FROM analysis_reports ORDER BY compiled_at DESC LIMIT 1`).Scan(&body)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying latest report: %w", err)
	}
	return decodeReport(body)
}

// List returns up to limit reports, newest first.
func (r *ReportRepository) List(ctx context.Context, limit int) ([]*insight.AnalysisReport, error) {
	if limit < 1 || limit > r.capacity {
		limit = r.capacity
	}
	rows, err := r.pool.Query(ctx, `
		SELECT body FROM analysis_reports ORDER BY compiled_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying report history: %w", err)
	}
	defer rows.Close()

	var reports []*insight.AnalysisReport
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scanning report row: %w", err)
		}
		report, err := decodeReport(body)
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}
	return reports, rows.Err()
}

func decodeReport(body []byte) (*insight.AnalysisReport, error) {
	var report insight.AnalysisReport
	if err := json.Unmarshal(body, &report); err != nil {
		return nil, fmt.Errorf("decoding report record: %w", err)
	}
	return &report, nil
}
