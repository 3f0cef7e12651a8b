package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/cascade/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db     *sql.DB
	events *EventLog
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows, so they go through QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	s := &LibSQLStore{db: db}
	s.events = NewEventLog(s)
	return s, nil
}

// DB returns the underlying *sql.DB.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// EventLog returns the event log backed by this store.
func (s *LibSQLStore) EventLog() *EventLog { return s.events }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// --- Workflows ---

const workflowColumns = `id, definition_id, version, description, reference, status, data, pointers, next_execution, created_at, complete_time`

func (s *LibSQLStore) CreateWorkflow(ctx context.Context, wf *schema.WorkflowInstance) error {
	data, pointers, err := marshalInstance(wf)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflows (`+workflowColumns+`, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		wf.ID, wf.DefinitionID, wf.Version, nullStr(wf.Description), nullStr(wf.Reference),
		string(wf.Status), data, pointers, nullTime(wf.NextExecution),
		timeOrNow(wf.CreatedAt), nullTime(wf.CompleteTime), now,
	)
	if err != nil {
		return fmt.Errorf("insert workflow %s: %w", wf.ID, err)
	}
	return nil
}

func (s *LibSQLStore) GetWorkflow(ctx context.Context, id string) (*schema.WorkflowInstance, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE id = ?`, id)
	wf, err := scanWorkflow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeNotFound("workflow", id)
	}
	if err != nil {
		return nil, err
	}
	return wf, nil
}

// UpdateWorkflow replaces the persisted snapshot of wf.
func (s *LibSQLStore) UpdateWorkflow(ctx context.Context, wf *schema.WorkflowInstance) error {
	data, pointers, err := marshalInstance(wf)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE workflows SET description = ?, reference = ?, status = ?, data = ?, pointers = ?,
		 next_execution = ?, complete_time = ?, updated_at = ? WHERE id = ?`,
		nullStr(wf.Description), nullStr(wf.Reference), string(wf.Status), data, pointers,
		nullTime(wf.NextExecution), nullTime(wf.CompleteTime), time.Now().UTC(), wf.ID,
	)
	if err != nil {
		return fmt.Errorf("update workflow %s: %w", wf.ID, err)
	}
	return checkRowsAffected(res, "workflow", wf.ID)
}

func (s *LibSQLStore) ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*schema.WorkflowInstance, error) {
	var where []string
	var args []any

	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.DefinitionID != "" {
		where = append(where, "definition_id = ?")
		args = append(args, filter.DefinitionID)
	}

	query := `SELECT ` + workflowColumns + ` FROM workflows`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*schema.WorkflowInstance
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, wf)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row rowScanner) (*schema.WorkflowInstance, error) {
	wf := &schema.WorkflowInstance{}
	var (
		description, reference sql.NullString
		status, data, pointers string
		nextExec, completeTime sql.NullTime
	)
	err := row.Scan(&wf.ID, &wf.DefinitionID, &wf.Version, &description, &reference,
		&status, &data, &pointers, &nextExec, &wf.CreatedAt, &completeTime)
	if err != nil {
		return nil, err
	}
	wf.Description = description.String
	wf.Reference = reference.String
	wf.Status = schema.WorkflowStatus(status)
	if err := json.Unmarshal([]byte(data), &wf.Data); err != nil {
		return nil, fmt.Errorf("unmarshal workflow data: %w", err)
	}
	if err := json.Unmarshal([]byte(pointers), &wf.ExecutionPointers); err != nil {
		return nil, fmt.Errorf("unmarshal execution pointers: %w", err)
	}
	if nextExec.Valid {
		t := nextExec.Time
		wf.NextExecution = &t
	}
	if completeTime.Valid {
		t := completeTime.Time
		wf.CompleteTime = &t
	}
	return wf, nil
}

func marshalInstance(wf *schema.WorkflowInstance) (data, pointers string, err error) {
	d, err := marshalMapOrDefault(wf.Data)
	if err != nil {
		return "", "", fmt.Errorf("marshal workflow data: %w", err)
	}
	ptrs := wf.ExecutionPointers
	if ptrs == nil {
		ptrs = schema.PointerCollection{}
	}
	p, err := json.Marshal(ptrs)
	if err != nil {
		return "", "", fmt.Errorf("marshal execution pointers: %w", err)
	}
	return string(d), string(p), nil
}

// --- Definitions ---

// StoreDefinition upserts a definition document keyed by (id, version).
func (s *LibSQLStore) StoreDefinition(ctx context.Context, doc *DefinitionDocument) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO definitions (id, version, format, body, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id, version) DO UPDATE SET format=excluded.format, body=excluded.body`,
		doc.ID, doc.Version, doc.Format, doc.Body, timeOrNow(doc.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("store definition %s v%d: %w", doc.ID, doc.Version, err)
	}
	return nil
}

// GetDefinition returns the document for id at version; version 0 means latest.
func (s *LibSQLStore) GetDefinition(ctx context.Context, id string, version int) (*DefinitionDocument, error) {
	query := `SELECT id, version, format, body, created_at FROM definitions WHERE id = ?`
	args := []any{id}
	if version > 0 {
		query += " AND version = ?"
		args = append(args, version)
	} else {
		query += " ORDER BY version DESC LIMIT 1"
	}

	doc := &DefinitionDocument{}
	err := s.db.QueryRowContext(ctx, query, args...).
		Scan(&doc.ID, &doc.Version, &doc.Format, &doc.Body, &doc.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeNotFound("definition", fmt.Sprintf("%s:%d", id, version))
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *LibSQLStore) ListDefinitions(ctx context.Context) ([]*DefinitionDocument, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, version, format, body, created_at FROM definitions ORDER BY id, version`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*DefinitionDocument
	for rows.Next() {
		doc := &DefinitionDocument{}
		if err := rows.Scan(&doc.ID, &doc.Version, &doc.Format, &doc.Body, &doc.CreatedAt); err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// --- Events ---

func (s *LibSQLStore) AppendEvent(ctx context.Context, event *Event) error {
	return s.events.AppendEvent(ctx, event)
}

// GetEvents returns events for a workflow with sequence > since, ordered by sequence.
func (s *LibSQLStore) GetEvents(ctx context.Context, workflowID string, since int64) ([]*Event, error) {
	return s.events.Events(ctx, workflowID, since)
}

// --- Scheduled commands ---

// SupportsScheduledCommands is always true for libSQL.
func (s *LibSQLStore) SupportsScheduledCommands() bool { return true }

// ScheduleCommand persists cmd. Scheduling the same command name, data and
// execute time twice keeps a single row.
func (s *LibSQLStore) ScheduleCommand(ctx context.Context, cmd *schema.ScheduledCommand) error {
	if cmd.ID == "" {
		cmd.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scheduled_commands (id, command_name, data, execute_time) VALUES (?, ?, ?, ?)
		 ON CONFLICT DO NOTHING`,
		cmd.ID, cmd.CommandName, cmd.Data, cmd.ExecuteTime.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("schedule command %s: %w", cmd.CommandName, err)
	}
	return nil
}

// ProcessCommands claims and visits every command due at asOf. A command is
// deleted before its visitor runs and re-inserted when the visitor fails.
func (s *LibSQLStore) ProcessCommands(ctx context.Context, asOf time.Time, visit CommandVisitor) error {
	due, err := s.queryCommands(ctx,
		`SELECT id, command_name, data, execute_time FROM scheduled_commands
		 WHERE execute_time <= ? ORDER BY execute_time ASC, id ASC`, asOf.UnixMilli())
	if err != nil {
		return fmt.Errorf("query due commands: %w", err)
	}

	var errs []error
	for _, cmd := range due {
		if err := ctx.Err(); err != nil {
			return errors.Join(append(errs, err)...)
		}
		claimed, err := s.claimCommand(ctx, cmd.ID)
		if err != nil {
			return errors.Join(append(errs, err)...)
		}
		if !claimed {
			continue
		}

		verr := visit(ctx, cmd)
		if verr == nil {
			continue
		}
		if err := s.ScheduleCommand(ctx, cmd); err != nil {
			errs = append(errs, fmt.Errorf("reschedule command %s: %w", cmd.ID, err))
		}
		if !errors.Is(verr, ErrKeepCommand) {
			errs = append(errs, fmt.Errorf("command %s (%s): %w", cmd.ID, cmd.CommandName, verr))
		}
	}
	return errors.Join(errs...)
}

func (s *LibSQLStore) claimCommand(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_commands WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("claim command %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *LibSQLStore) ListCommands(ctx context.Context, filter CommandFilter) ([]*schema.ScheduledCommand, error) {
	var where []string
	var args []any

	if filter.CommandName != "" {
		where = append(where, "command_name = ?")
		args = append(args, filter.CommandName)
	}
	if filter.Data != "" {
		where = append(where, "data = ?")
		args = append(args, filter.Data)
	}

	query := `SELECT id, command_name, data, execute_time FROM scheduled_commands`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY execute_time ASC, id ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	return s.queryCommands(ctx, query, args...)
}

// queryCommands reads all rows before returning so callers can write while
// iterating the result with a single-connection pool.
func (s *LibSQLStore) queryCommands(ctx context.Context, query string, args ...any) ([]*schema.ScheduledCommand, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cmds []*schema.ScheduledCommand
	for rows.Next() {
		c := &schema.ScheduledCommand{}
		var executeAt int64
		if err := rows.Scan(&c.ID, &c.CommandName, &c.Data, &executeAt); err != nil {
			return nil, err
		}
		c.ExecuteTime = time.UnixMilli(executeAt).UTC()
		cmds = append(cmds, c)
	}
	return cmds, rows.Err()
}

// --- Helpers ---

// withTx runs fn in a transaction, committing only when fn succeeds.
func withTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func storeNotFound(resource, id string) *schema.CascadeError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

func marshalMapOrDefault(m map[string]any) ([]byte, error) {
	if len(m) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

var _ Store = (*LibSQLStore)(nil)
