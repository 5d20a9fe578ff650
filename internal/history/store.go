package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"glimpse/internal/config"
)

// Store manages run-history persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the history database.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := cfg.HistoryDBPath()
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// SaveRun persists a run and its captions in one transaction.
func (s *Store) SaveRun(ctx context.Context, run *Run, captions []Caption) error {
	if run == nil {
		return errors.New("run is nil")
	}
	if strings.TrimSpace(run.ID) == "" {
		return errors.New("run id is empty")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(
		ctx,
		`INSERT INTO runs (
            id, label, directory, model, engine, device, quantization, prompt,
            started_at, finished_at, processed, errors, success_rate, cancelled, success
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		nullableString(run.Label),
		run.Directory,
		run.Model,
		nullableString(run.Engine),
		nullableString(run.Device),
		nullableString(run.Quantization),
		nullableString(run.Prompt),
		run.StartedAt.UTC().Format(time.RFC3339Nano),
		nullableTimeValue(run.FinishedAt),
		run.Processed,
		run.Errors,
		run.SuccessRate,
		boolToInt(run.Cancelled),
		boolToInt(run.Success),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for _, caption := range captions {
		_, err = tx.ExecContext(
			ctx,
			`INSERT INTO captions (
                run_id, path, filename, caption, generated_at,
                duration_ms, file_size, dimensions, format, success
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID,
			caption.Path,
			caption.Filename,
			caption.Caption,
			nullableTimeValue(caption.GeneratedAt),
			caption.DurationMS,
			caption.FileSize,
			nullableString(caption.Dimensions),
			nullableString(caption.Format),
			boolToInt(caption.Success),
		)
		if err != nil {
			return fmt.Errorf("insert caption for %s: %w", caption.Filename, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save tx: %w", err)
	}
	return nil
}

// GetRun fetches a run by its exact identifier. Returns nil when absent.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// FindRun resolves an exact id or an unambiguous id prefix. An ambiguous
// prefix is an error; an unknown one returns nil.
func (s *Store) FindRun(ctx context.Context, idOrPrefix string) (*Run, error) {
	idOrPrefix = strings.TrimSpace(idOrPrefix)
	if idOrPrefix == "" {
		return nil, errors.New("run id is empty")
	}

	run, err := s.GetRun(ctx, idOrPrefix)
	if err != nil || run != nil {
		return run, err
	}

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+runColumns+` FROM runs WHERE id LIKE ? ORDER BY started_at DESC LIMIT 2`,
		idOrPrefix+"%",
	)
	if err != nil {
		return nil, fmt.Errorf("find run: %w", err)
	}
	defer rows.Close()

	var matches []*Run
	for rows.Next() {
		match, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		matches = append(matches, match)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	switch len(matches) {
	case 0:
		return nil, nil
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("run id prefix %q is ambiguous", idOrPrefix)
	}
}

// ListRecent returns runs newest first, at most limit of them.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Captions returns a run's stored captions in insertion order.
func (s *Store) Captions(ctx context.Context, runID string) ([]Caption, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, run_id, path, filename, caption, generated_at,
                duration_ms, file_size, dimensions, format, success
         FROM captions WHERE run_id = ? ORDER BY id`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list captions: %w", err)
	}
	defer rows.Close()

	var captions []Caption
	for rows.Next() {
		var (
			c            Caption
			generatedRaw sql.NullString
			dimensions   sql.NullString
			format       sql.NullString
			success      sql.NullInt64
		)
		if err := rows.Scan(
			&c.ID,
			&c.RunID,
			&c.Path,
			&c.Filename,
			&c.Caption,
			&generatedRaw,
			&c.DurationMS,
			&c.FileSize,
			&dimensions,
			&format,
			&success,
		); err != nil {
			return nil, err
		}
		c.Dimensions = dimensions.String
		c.Format = format.String
		if success.Valid {
			c.Success = success.Int64 != 0
		}
		if generatedRaw.Valid {
			if at, err := parseTimeString(generatedRaw.String); err == nil {
				c.GeneratedAt = at
			}
		}
		captions = append(captions, c)
	}
	return captions, rows.Err()
}

// Remove deletes a run and, via cascade, its captions.
func (s *Store) Remove(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete run: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// Clear removes all recorded runs.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs`)
	if err != nil {
		return 0, fmt.Errorf("clear history: %w", err)
	}
	return res.RowsAffected()
}

const runColumns = "id, label, directory, model, engine, device, quantization, prompt, started_at, finished_at, processed, errors, success_rate, cancelled, success"

func scanRun(scanner interface{ Scan(dest ...any) error }) (*Run, error) {
	var (
		id           string
		label        sql.NullString
		directory    string
		model        string
		engine       sql.NullString
		device       sql.NullString
		quantization sql.NullString
		prompt       sql.NullString
		startedRaw   sql.NullString
		finishedRaw  sql.NullString
		processed    int
		errCount     int
		successRate  float64
		cancelled    sql.NullInt64
		success      sql.NullInt64
	)

	if err := scanner.Scan(
		&id,
		&label,
		&directory,
		&model,
		&engine,
		&device,
		&quantization,
		&prompt,
		&startedRaw,
		&finishedRaw,
		&processed,
		&errCount,
		&successRate,
		&cancelled,
		&success,
	); err != nil {
		return nil, err
	}

	run := &Run{
		ID:           id,
		Label:        label.String,
		Directory:    directory,
		Model:        model,
		Engine:       engine.String,
		Device:       device.String,
		Quantization: quantization.String,
		Prompt:       prompt.String,
		Processed:    processed,
		Errors:       errCount,
		SuccessRate:  successRate,
	}
	if cancelled.Valid {
		run.Cancelled = cancelled.Int64 != 0
	}
	if success.Valid {
		run.Success = success.Int64 != 0
	}

	if started, err := parseTimeString(startedRaw.String); err == nil {
		run.StartedAt = started
	}
	if finishedRaw.Valid {
		if finished, err := parseTimeString(finishedRaw.String); err == nil {
			run.FinishedAt = finished
		}
	}
	return run, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTimeValue(value time.Time) any {
	if value.IsZero() {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}
