package store

import (
	"database/sql"
	"fmt"
)

// Improvement is a long-lived catalog row independent of any one session.
type Improvement struct {
	Ref      string
	Created  string
	Resolved *string
	Category string
	Status   string
	Title    string
	Body     *string
	Context  *string
	Tags     *string
	Meta     *string
}

// nextRef computes the next gap-tolerant R{n} ref inside an existing
// transaction, so concurrent-looking callers on the single harness
// connection never race each other.
func nextRef(tx *sql.Tx) (string, error) {
	var maxNum sql.NullInt64
	err := tx.QueryRow(
		`SELECT MAX(CAST(SUBSTR(ref, 2) AS INTEGER)) FROM improvements WHERE ref LIKE 'R%'`,
	).Scan(&maxNum)
	if err != nil {
		return "", fmt.Errorf("computing next improvement ref: %w", err)
	}
	next := int64(1)
	if maxNum.Valid {
		next = maxNum.Int64 + 1
	}
	return fmt.Sprintf("R%d", next), nil
}

// InsertImprovement records a new improvement, auto-assigning the next ref,
// and returns the assigned ref (e.g. "R1").
func (s *Store) InsertImprovement(category, title string, body, context, tags *string) (string, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return "", fmt.Errorf("beginning improvement insert: %w", err)
	}

	ref, err := nextRef(tx)
	if err != nil {
		tx.Rollback()
		return "", err
	}

	_, err = tx.Exec(
		`INSERT INTO improvements (ref, category, title, body, context, tags) VALUES (?, ?, ?, ?, ?, ?)`,
		ref, category, title, nullableString(body), nullableString(context), nullableString(tags),
	)
	if err != nil {
		tx.Rollback()
		return "", fmt.Errorf("inserting improvement %s: %w", ref, err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("committing improvement %s: %w", ref, err)
	}
	return ref, nil
}

// ListImprovements returns improvements matching the optional status and
// category filters, ordered by insertion order.
func (s *Store) ListImprovements(status, category *string) ([]Improvement, error) {
	sqlStr := `SELECT ref, created, resolved, category, status, title, body, context, tags FROM improvements`
	var conditions []string
	var args []any

	if status != nil {
		conditions = append(conditions, "status = ?")
		args = append(args, *status)
	}
	if category != nil {
		conditions = append(conditions, "category = ?")
		args = append(args, *category)
	}
	if len(conditions) > 0 {
		sqlStr += " WHERE " + join(conditions, " AND ")
	}
	sqlStr += " ORDER BY id ASC"

	rows, err := s.db.Query(sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("listing improvements: %w", err)
	}
	defer rows.Close()

	var out []Improvement
	for rows.Next() {
		var (
			imp      Improvement
			resolved sql.NullString
			body     sql.NullString
			context  sql.NullString
			tags     sql.NullString
		)
		if err := rows.Scan(&imp.Ref, &imp.Created, &resolved, &imp.Category, &imp.Status, &imp.Title, &body, &context, &tags); err != nil {
			return nil, fmt.Errorf("scanning improvement row: %w", err)
		}
		if resolved.Valid {
			imp.Resolved = &resolved.String
		}
		if body.Valid {
			imp.Body = &body.String
		}
		if context.Valid {
			imp.Context = &context.String
		}
		if tags.Valid {
			imp.Tags = &tags.String
		}
		out = append(out, imp)
	}
	return out, rows.Err()
}

// ResolveImprovement transitions an improvement to "promoted" or "dismissed",
// stamping the resolved timestamp.
func (s *Store) ResolveImprovement(ref, status string) error {
	if status != "promoted" && status != "dismissed" {
		return fmt.Errorf("resolving improvement %s: status must be promoted or dismissed, got %q", ref, status)
	}
	res, err := s.db.Exec(
		`UPDATE improvements SET status = ?, resolved = strftime('%Y-%m-%dT%H:%M:%SZ', 'now') WHERE ref = ?`,
		status, ref,
	)
	if err != nil {
		return fmt.Errorf("resolving improvement %s: %w", ref, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking resolve result for %s: %w", ref, err)
	}
	if n == 0 {
		return fmt.Errorf("resolving improvement %s: no such ref", ref)
	}
	return nil
}

func join(parts []string, sep string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += sep
		}
		out += p
	}
	return out
}
