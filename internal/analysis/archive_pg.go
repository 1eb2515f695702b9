package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type archivePG struct{ db queryable }

// NewArchivePG stores analyses in the analysis_archive table.
func NewArchivePG(pool *pgxpool.Pool) Archive { return &archivePG{db: pool} }

const archiveCols = `id, case_id, patient_id, input_hash, payload_version, risk_flags,
	confidence, report, meta, requested_by, created_at`

func (r *archivePG) scanRecord(row pgx.Row) (*Record, error) {
	var rec Record
	var reportJSON, metaJSON []byte
	var requestedBy *string
	err := row.Scan(&rec.ID, &rec.CaseID, &rec.PatientID, &rec.InputHash, &rec.PayloadVersion,
		&rec.RiskFlags, &rec.Confidence, &reportJSON, &metaJSON, &requestedBy, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(reportJSON, &rec.Report); err != nil {
		return nil, fmt.Errorf("decode archived report %s: %w", rec.ID, err)
	}
	if err := json.Unmarshal(metaJSON, &rec.Meta); err != nil {
		return nil, fmt.Errorf("decode archived meta %s: %w", rec.ID, err)
	}
	if requestedBy != nil {
		rec.RequestedBy = *requestedBy
	}
	return &rec, nil
}

func (r *archivePG) Save(ctx context.Context, rec *Record) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	reportJSON, err := json.Marshal(rec.Report)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	metaJSON, err := json.Marshal(rec.Meta)
	if err != nil {
		return fmt.Errorf("encode meta: %w", err)
	}
	var requestedBy *string
	if rec.RequestedBy != "" {
		requestedBy = &rec.RequestedBy
	}

	return r.db.QueryRow(ctx, `
		INSERT INTO analysis_archive (id, case_id, patient_id, input_hash, payload_version,
			risk_flags, confidence, report, meta, requested_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at`,
		rec.ID, rec.CaseID, rec.PatientID, rec.InputHash, rec.PayloadVersion,
		rec.RiskFlags, rec.Confidence, reportJSON, metaJSON, requestedBy,
	).Scan(&rec.CreatedAt)
}

func (r *archivePG) GetByID(ctx context.Context, id uuid.UUID) (*Record, error) {
	return r.scanRecord(r.db.QueryRow(ctx, `SELECT `+archiveCols+` FROM analysis_archive WHERE id = $1`, id))
}

func (r *archivePG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Record, int, error) {
	where, args := filterClause(f)

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM analysis_archive`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	n := len(args)
	args = append(args, limit, offset)
	rows, err := r.db.Query(ctx, `SELECT `+archiveCols+` FROM analysis_archive`+where+
		` ORDER BY created_at DESC LIMIT $`+strconv.Itoa(n+1)+` OFFSET $`+strconv.Itoa(n+2), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	items := []*Record{}
	for rows.Next() {
		rec, err := r.scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, rec)
	}
	return items, total, rows.Err()
}

// filterClause builds the WHERE clause and positional args for f.
func filterClause(f ListFilter) (string, []interface{}) {
	var conds []string
	var args []interface{}
	if f.CaseID != "" {
		args = append(args, f.CaseID)
		conds = append(conds, "case_id = $"+strconv.Itoa(len(args)))
	}
	if f.PatientID != "" {
		args = append(args, f.PatientID)
		conds = append(conds, "patient_id = $"+strconv.Itoa(len(args)))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
