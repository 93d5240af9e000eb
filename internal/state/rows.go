package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/leapstack-labs/leapreport/pkg/core"
)

// =============================================================================
// Save
// =============================================================================

func saveReport(ctx context.Context, tx *sql.Tx, snap *core.Snapshot) error {
	roots, err := jsonText(snap.RootSuiteIDs)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO report (id, protocol_version, run_id, seq, ended, root_suite_ids, saved_at)
		VALUES (1, ?, ?, ?, ?, ?, ?)`,
		snap.ProtocolVersion, snap.RunID, int64(snap.Seq), snap.Ended, roots,
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}
	return nil
}

func saveSuites(ctx context.Context, tx *sql.Tx, snap *core.Snapshot) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO suites (id, parent_id, name, suite_path, is_root, suite_ids, browser_ids, position)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare suite insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for pos, id := range snap.Suites.AllIDs {
		s := snap.Suites.ByID[id]
		path, err := jsonText(s.SuitePath)
		if err != nil {
			return err
		}
		suites, err := jsonText(s.SuiteIDs)
		if err != nil {
			return err
		}
		browsers, err := jsonText(s.BrowserIDs)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, s.ID, s.ParentID, s.Name, path, s.Root, suites, browsers, pos); err != nil {
			return fmt.Errorf("failed to save suite %q: %w", id, err)
		}
	}
	return nil
}

func saveBrowsers(ctx context.Context, tx *sql.Tx, snap *core.Snapshot) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO browsers (id, parent_id, name, version, result_ids, check_status, retry_index, position)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare browser insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for pos, id := range snap.Browsers.AllIDs {
		b := snap.Browsers.ByID[id]
		results, err := jsonText(b.ResultIDs)
		if err != nil {
			return err
		}
		var st core.BrowserState
		if s, ok := snap.BrowserStates[id]; ok && s != nil {
			st = *s
		}
		if _, err := stmt.ExecContext(ctx, b.ID, b.ParentID, b.Name, b.Version, results,
			int(st.CheckStatus), st.RetryIndex, pos); err != nil {
			return fmt.Errorf("failed to save browser %q: %w", id, err)
		}
	}
	return nil
}

func saveResults(ctx context.Context, tx *sql.Tx, snap *core.Snapshot) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO results (id, parent_id, attempt, status, timestamp, duration, error,
			skip_reason, url, meta, tags, extra, image_ids, position)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare result insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for pos, id := range snap.Results.AllIDs {
		r := snap.Results.ByID[id]
		errText, err := nullableJSON(r.Error)
		if err != nil {
			return err
		}
		meta, err := nullableJSON(r.Meta)
		if err != nil {
			return err
		}
		tags, err := nullableJSON(r.Tags)
		if err != nil {
			return err
		}
		var extra sql.NullString
		if len(r.Extra) > 0 {
			extra = sql.NullString{String: string(r.Extra), Valid: true}
		}
		images, err := jsonText(r.ImageIDs)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, r.ID, r.ParentID, r.Attempt, string(r.Status), r.Timestamp,
			r.Duration, errText, r.SkipReason, r.URL, meta, tags, extra, images, pos); err != nil {
			return fmt.Errorf("failed to save result %q: %w", id, err)
		}
	}
	return nil
}

func saveImages(ctx context.Context, tx *sql.Tx, snap *core.Snapshot) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO images (id, parent_id, state_name, status, error_kind, expected, actual, diff, error, position)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare image insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for pos, id := range snap.Images.AllIDs {
		img := snap.Images.ByID[id]
		cols := make([]sql.NullString, 4)
		for i, v := range []any{img.Expected, img.Actual, img.Diff, img.Error} {
			if cols[i], err = nullableJSON(v); err != nil {
				return err
			}
		}
		if _, err := stmt.ExecContext(ctx, img.ID, img.ParentID, img.StateName, string(img.Status),
			string(img.ErrorKind), cols[0], cols[1], cols[2], cols[3], pos); err != nil {
			return fmt.Errorf("failed to save image %q: %w", id, err)
		}
	}
	return nil
}

func saveErrors(ctx context.Context, tx *sql.Tx, snap *core.Snapshot) error {
	for pos, e := range snap.Errors {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO run_errors (id, message, stack, position) VALUES (?, ?, ?, ?)`,
			e.ID, e.Message, e.Stack, pos); err != nil {
			return fmt.Errorf("failed to save run error %q: %w", e.ID, err)
		}
	}
	return nil
}

// =============================================================================
// Load
// =============================================================================

func loadReport(ctx context.Context, db *sql.DB, snap *core.Snapshot) (bool, error) {
	var (
		seq   int64
		roots string
	)
	err := db.QueryRowContext(ctx,
		`SELECT protocol_version, run_id, seq, ended, root_suite_ids FROM report WHERE id = 1`,
	).Scan(&snap.ProtocolVersion, &snap.RunID, &seq, &snap.Ended, &roots)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load report: %w", err)
	}
	snap.Seq = uint64(seq)
	if err := json.Unmarshal([]byte(roots), &snap.RootSuiteIDs); err != nil {
		return false, fmt.Errorf("failed to decode root suites: %w", err)
	}
	return true, nil
}

func loadSuites(ctx context.Context, db *sql.DB, snap *core.Snapshot) error {
	rows, err := db.QueryContext(ctx, `
		SELECT id, parent_id, name, suite_path, is_root, suite_ids, browser_ids
		FROM suites ORDER BY position`)
	if err != nil {
		return fmt.Errorf("failed to query suites: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			s                      core.Suite
			path, suites, browsers string
		)
		if err := rows.Scan(&s.ID, &s.ParentID, &s.Name, &path, &s.Root, &suites, &browsers); err != nil {
			return fmt.Errorf("failed to scan suite: %w", err)
		}
		if err := decodeAll(&s.SuitePath, path, &s.SuiteIDs, suites, &s.BrowserIDs, browsers); err != nil {
			return fmt.Errorf("suite %q: %w", s.ID, err)
		}
		snap.Suites.Put(s.ID, &s)
	}
	return rows.Err()
}

func loadBrowsers(ctx context.Context, db *sql.DB, snap *core.Snapshot) error {
	rows, err := db.QueryContext(ctx, `
		SELECT id, parent_id, name, version, result_ids, check_status, retry_index
		FROM browsers ORDER BY position`)
	if err != nil {
		return fmt.Errorf("failed to query browsers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			b       core.Browser
			results string
			check   int
			st      core.BrowserState
		)
		if err := rows.Scan(&b.ID, &b.ParentID, &b.Name, &b.Version, &results, &check, &st.RetryIndex); err != nil {
			return fmt.Errorf("failed to scan browser: %w", err)
		}
		if err := decodeAll(&b.ResultIDs, results); err != nil {
			return fmt.Errorf("browser %q: %w", b.ID, err)
		}
		st.CheckStatus = core.CheckStatus(check)
		snap.Browsers.Put(b.ID, &b)
		snap.BrowserStates[b.ID] = &st
	}
	return rows.Err()
}

func loadResults(ctx context.Context, db *sql.DB, snap *core.Snapshot) error {
	rows, err := db.QueryContext(ctx, `
		SELECT id, parent_id, attempt, status, timestamp, duration, error,
			skip_reason, url, meta, tags, extra, image_ids
		FROM results ORDER BY position`)
	if err != nil {
		return fmt.Errorf("failed to query results: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			r                          core.Result
			status, images             string
			errText, meta, tags, extra sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.ParentID, &r.Attempt, &status, &r.Timestamp, &r.Duration, &errText,
			&r.SkipReason, &r.URL, &meta, &tags, &extra, &images); err != nil {
			return fmt.Errorf("failed to scan result: %w", err)
		}
		r.Status = core.TestStatus(status)
		if err := decodeAll(&r.ImageIDs, images); err != nil {
			return fmt.Errorf("result %q: %w", r.ID, err)
		}
		if err := decodeNullable(&r.Error, errText, &r.Meta, meta, &r.Tags, tags); err != nil {
			return fmt.Errorf("result %q: %w", r.ID, err)
		}
		if extra.Valid {
			r.Extra = json.RawMessage(extra.String)
		}
		snap.Results.Put(r.ID, &r)
	}
	return rows.Err()
}

func loadImages(ctx context.Context, db *sql.DB, snap *core.Snapshot) error {
	rows, err := db.QueryContext(ctx, `
		SELECT id, parent_id, state_name, status, error_kind, expected, actual, diff, error
		FROM images ORDER BY position`)
	if err != nil {
		return fmt.Errorf("failed to query images: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			img                             core.Image
			status, kind                    string
			expected, actual, diff, errText sql.NullString
		)
		if err := rows.Scan(&img.ID, &img.ParentID, &img.StateName, &status, &kind,
			&expected, &actual, &diff, &errText); err != nil {
			return fmt.Errorf("failed to scan image: %w", err)
		}
		img.Status = core.TestStatus(status)
		img.ErrorKind = core.ImageErrorKind(kind)
		if err := decodeNullable(&img.Expected, expected, &img.Actual, actual, &img.Diff, diff, &img.Error, errText); err != nil {
			return fmt.Errorf("image %q: %w", img.ID, err)
		}
		snap.Images.Put(img.ID, &img)
	}
	return rows.Err()
}

func loadErrors(ctx context.Context, db *sql.DB, snap *core.Snapshot) error {
	rows, err := db.QueryContext(ctx, `SELECT id, message, stack FROM run_errors ORDER BY position`)
	if err != nil {
		return fmt.Errorf("failed to query run errors: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var e core.RunError
		if err := rows.Scan(&e.ID, &e.Message, &e.Stack); err != nil {
			return fmt.Errorf("failed to scan run error: %w", err)
		}
		snap.Errors = append(snap.Errors, e)
	}
	return rows.Err()
}

// =============================================================================
// JSON columns
// =============================================================================

// jsonText encodes v for a NOT NULL column; nil slices become "[]".
func jsonText(v []string) (string, error) {
	if v == nil {
		return "[]", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode column: %w", err)
	}
	return string(b), nil
}

// nullableJSON encodes v, mapping nil pointers, maps and slices to NULL.
func nullableJSON(v any) (sql.NullString, error) {
	switch x := v.(type) {
	case nil:
		return sql.NullString{}, nil
	case *core.Artifact:
		if x == nil {
			return sql.NullString{}, nil
		}
	case *core.ErrorDetails:
		if x == nil {
			return sql.NullString{}, nil
		}
	case map[string]string:
		if len(x) == 0 {
			return sql.NullString{}, nil
		}
	case []string:
		if len(x) == 0 {
			return sql.NullString{}, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode column: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

// decodeAll decodes (target, text) pairs. Empty lists decode to nil.
func decodeAll(pairs ...any) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		target := pairs[i].(*[]string)
		if err := json.Unmarshal([]byte(pairs[i+1].(string)), target); err != nil {
			return err
		}
		if len(*target) == 0 {
			*target = nil
		}
	}
	return nil
}

// decodeNullable decodes (target, sql.NullString) pairs, skipping NULLs.
func decodeNullable(pairs ...any) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		col := pairs[i+1].(sql.NullString)
		if !col.Valid {
			continue
		}
		if err := json.Unmarshal([]byte(col.String), pairs[i]); err != nil {
			return err
		}
	}
	return nil
}
