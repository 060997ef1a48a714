package task

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"
)

const createTasksTable = `
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	url TEXT NOT NULL,
	output_path TEXT NOT NULL,
	format TEXT NOT NULL,
	status TEXT NOT NULL,
	result TEXT,
	progress TEXT,
	error TEXT,
	timestamp TEXT NOT NULL
)`

// Columns added after the first schema. Only nullable additions are allowed
// so existing rows stay readable.
var addedColumns = []struct {
	name string
	ddl  string
}{
	{name: "progress", ddl: `ALTER TABLE tasks ADD COLUMN progress TEXT`},
}

// InitTable creates the tasks table and applies additive migrations.
func (s *Store) InitTable() error {
	if _, err := s.db.Exec(createTasksTable); err != nil {
		return err
	}

	existing, err := s.columns()
	if err != nil {
		return err
	}
	for _, col := range addedColumns {
		if existing[col.name] {
			continue
		}
		if _, err := s.db.Exec(col.ddl); err != nil {
			return fmt.Errorf("add column %s: %w", col.name, err)
		}
	}
	return nil
}

func (s *Store) columns() (map[string]bool, error) {
	rows, err := s.db.Query(`PRAGMA table_info(tasks)`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var (
			cid       int
			name      string
			colType   string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return nil, err
		}
		cols[name] = true
	}
	return cols, rows.Err()
}

// saveRow upserts the whole row.
func (s *Store) saveRow(r *Record) error {
	var resultJSON, progressJSON, errMsg sql.NullString
	if r.Result != nil {
		data, err := json.Marshal(r.Result)
		if err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
		resultJSON = sql.NullString{String: string(data), Valid: true}
	}
	if r.Progress != nil {
		data, err := json.Marshal(r.Progress)
		if err != nil {
			return fmt.Errorf("encode progress: %w", err)
		}
		progressJSON = sql.NullString{String: string(data), Valid: true}
	}
	if r.Error != nil {
		errMsg = sql.NullString{String: *r.Error, Valid: true}
	}

	query := `INSERT OR REPLACE INTO tasks (id, url, output_path, format, status, result, progress, error, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.Exec(query, r.ID, r.URL, r.OutputPath, r.Format, string(r.Status),
		resultJSON, progressJSON, errMsg, r.UpdatedAt.Format(time.RFC3339Nano))
	return err
}

func (s *Store) deleteRow(id string) error {
	_, err := s.db.Exec(`DELETE FROM tasks WHERE id = ?`, id)
	return err
}

// loadRows reads every task. A row that cannot be decoded is logged and
// skipped.
func (s *Store) loadRows() ([]*Record, error) {
	rows, err := s.db.Query(`SELECT id, url, output_path, format, status, result, error, progress, timestamp FROM tasks`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		var (
			r                   Record
			status              string
			resultJSON, errMsg  sql.NullString
			progressJSON, stamp sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.URL, &r.OutputPath, &r.Format, &status, &resultJSON, &errMsg, &progressJSON, &stamp); err != nil {
			log.Printf("[store] skipping unreadable row: %v", err)
			continue
		}
		if err := decodeRow(&r, status, resultJSON, errMsg, progressJSON, stamp); err != nil {
			log.Printf("[store] skipping task %s: %v", r.ID, err)
			continue
		}
		records = append(records, &r)
	}
	return records, rows.Err()
}

func decodeRow(r *Record, status string, resultJSON, errMsg, progressJSON, stamp sql.NullString) error {
	r.Status = Status(status)
	switch r.Status {
	case StatusPending, StatusDownloading, StatusCanceling, StatusCompleted, StatusFailed, StatusCanceled:
	default:
		return fmt.Errorf("unknown status %q", status)
	}
	if resultJSON.Valid && resultJSON.String != "" {
		if err := json.Unmarshal([]byte(resultJSON.String), &r.Result); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
	}
	if progressJSON.Valid && progressJSON.String != "" {
		var p Progress
		if err := json.Unmarshal([]byte(progressJSON.String), &p); err != nil {
			return fmt.Errorf("decode progress: %w", err)
		}
		r.Progress = &p
	}
	if errMsg.Valid {
		msg := errMsg.String
		r.Error = &msg
	}
	if stamp.Valid {
		r.UpdatedAt, _ = time.Parse(time.RFC3339Nano, stamp.String)
	}
	return nil
}
