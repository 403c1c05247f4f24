package store

import (
	"database/sql"
	"fmt"

	"github.com/BTreeMap/VoterBot/internal/models"
)

// recordColumns lists the records table columns after position, in insert order.
const recordColumns = "respondent_id, age_bucket, gender, ethnicity, education, housing, urban_rural, party_vote, ideology"

// nullable returns nil for an absent value so the column is stored as NULL.
func nullable(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

// recordArgs returns the insert arguments for r, starting with its position.
func recordArgs(position int, r models.Record) []interface{} {
	args := []interface{}{position, r.RespondentID}
	for _, f := range models.Fields {
		args = append(args, nullable(r.Get(f)))
	}
	return args
}

// scanRecords reads rows selected with recordColumns.
func scanRecords(rows *sql.Rows) ([]models.Record, error) {
	var records []models.Record
	for rows.Next() {
		var r models.Record
		values := make([]sql.NullString, len(models.Fields))
		dest := []interface{}{&r.RespondentID}
		for i := range values {
			dest = append(dest, &values[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan record row: %w", err)
		}
		for i, f := range models.Fields {
			if values[i].Valid {
				_ = r.Set(f, models.Str(values[i].String))
			}
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate record rows: %w", err)
	}
	return records, nil
}

// scanReceipts reads rows of (respondent_id, uri, text, channel, posted_at).
func scanReceipts(rows *sql.Rows) ([]models.PostReceipt, error) {
	var receipts []models.PostReceipt
	for rows.Next() {
		var r models.PostReceipt
		if err := rows.Scan(&r.RespondentID, &r.URI, &r.Text, &r.Channel, &r.PostedAt); err != nil {
			return nil, fmt.Errorf("failed to scan receipt row: %w", err)
		}
		r.PostedAt = r.PostedAt.UTC()
		receipts = append(receipts, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate receipt rows: %w", err)
	}
	return receipts, nil
}
