package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/permafrost.glue/internal/glue"
)

// ReplaceCurves stores the curves of a batch, replacing any earlier fit.
func (db *DB) ReplaceCurves(batchID string, curves []glue.SensitivityCurve) error {
	now := time.Now().UnixNano()
	return retryOnBusy(func() error {
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if _, err := tx.Exec(`DELETE FROM glue_curves WHERE batch_id = ?`, batchID); err != nil {
			return fmt.Errorf("clear curves: %w", err)
		}
		for _, c := range curves {
			values, errV := json.Marshal(nonNil(c.Values))
			bias, errB := json.Marshal(nonNil(c.MeanBias))
			counts, errC := json.Marshal(c.Counts)
			if err := errors.Join(errV, errB, errC); err != nil {
				return fmt.Errorf("marshal curve %s: %w", c.Parameter, err)
			}
			if c.Counts == nil {
				counts = []byte("[]")
			}

			var coeffs sql.NullString
			var lo, hi sql.NullFloat64
			if c.Fit != nil {
				raw, err := json.Marshal(c.Fit.Coeffs)
				if err != nil {
					return fmt.Errorf("marshal coefficients of %s: %w", c.Parameter, err)
				}
				coeffs = sql.NullString{String: string(raw), Valid: true}
				lo = sql.NullFloat64{Float64: c.Fit.Domain[0], Valid: true}
				hi = sql.NullFloat64{Float64: c.Fit.Domain[1], Valid: true}
			}
			var fitErr sql.NullString
			if c.FitErr != nil {
				fitErr = sql.NullString{String: c.FitErr.Error(), Valid: true}
			}

			_, err := tx.Exec(`
				INSERT INTO glue_curves (
					batch_id, parameter, degree, values_json, mean_bias_json, counts_json,
					coeffs_json, domain_lo, domain_hi, fit_error, created_at
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				batchID, c.Parameter, c.Degree, string(values), string(bias), string(counts),
				coeffs, lo, hi, fitErr, now,
			)
			if err != nil {
				return fmt.Errorf("insert curve %s: %w", c.Parameter, err)
			}
		}
		return tx.Commit()
	})
}

// ListCurves returns the stored curves of a batch ordered by parameter
// name. A stored fit error is restored as a plain error; its text still
// identifies insufficient data.
func (db *DB) ListCurves(batchID string) ([]glue.SensitivityCurve, error) {
	rows, err := db.Query(`
		SELECT parameter, degree, values_json, mean_bias_json, counts_json,
		       coeffs_json, domain_lo, domain_hi, fit_error
		FROM glue_curves
		WHERE batch_id = ?
		ORDER BY parameter`, batchID)
	if err != nil {
		return nil, fmt.Errorf("query curves: %w", err)
	}
	defer rows.Close()

	var out []glue.SensitivityCurve
	for rows.Next() {
		var c glue.SensitivityCurve
		var values, bias, counts string
		var coeffs, fitErr sql.NullString
		var lo, hi sql.NullFloat64
		if err := rows.Scan(&c.Parameter, &c.Degree, &values, &bias, &counts, &coeffs, &lo, &hi, &fitErr); err != nil {
			return nil, fmt.Errorf("scan curve: %w", err)
		}
		if err := errors.Join(
			json.Unmarshal([]byte(values), &c.Values),
			json.Unmarshal([]byte(bias), &c.MeanBias),
			json.Unmarshal([]byte(counts), &c.Counts),
		); err != nil {
			return nil, fmt.Errorf("decode curve %s: %w", c.Parameter, err)
		}
		if coeffs.Valid {
			p := &glue.Polynomial{Domain: [2]float64{lo.Float64, hi.Float64}}
			if err := json.Unmarshal([]byte(coeffs.String), &p.Coeffs); err != nil {
				return nil, fmt.Errorf("decode coefficients of %s: %w", c.Parameter, err)
			}
			c.Fit = p
		}
		if fitErr.Valid {
			c.FitErr = errors.New(fitErr.String)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func nonNil(v []float64) []float64 {
	if v == nil {
		return []float64{}
	}
	return v
}
