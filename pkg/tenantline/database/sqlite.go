// Package database implements SQLite-backed conversation persistence.
// A conversation is saved as a whole inside one transaction, so readers only
// ever see fully-committed turn state.
package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/tenantline/tenantline/pkg/tenantline/agent"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id               TEXT PRIMARY KEY,
	modality         TEXT NOT NULL,
	contact          TEXT NOT NULL DEFAULT '',
	estimated_tokens INTEGER NOT NULL DEFAULT 0,
	created_at       TEXT NOT NULL,
	updated_at       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	conversation_id TEXT NOT NULL,
	seq             INTEGER NOT NULL,
	role            TEXT NOT NULL,
	content         TEXT NOT NULL DEFAULT '',
	tool_calls      TEXT NOT NULL DEFAULT '',
	tool_call_id    TEXT NOT NULL DEFAULT '',
	tool_name       TEXT NOT NULL DEFAULT '',
	usage           TEXT NOT NULL DEFAULT '',
	summary         INTEGER NOT NULL DEFAULT 0,
	created_at      TEXT NOT NULL,
	PRIMARY KEY (conversation_id, seq)
);

CREATE TABLE IF NOT EXISTS pending_requests (
	conversation_id   TEXT NOT NULL,
	tool_call_id      TEXT NOT NULL,
	tool_name         TEXT NOT NULL,
	args              TEXT NOT NULL DEFAULT '{}',
	requires_approval INTEGER NOT NULL DEFAULT 1,
	status            TEXT NOT NULL,
	created_at        TEXT NOT NULL,
	PRIMARY KEY (conversation_id, tool_call_id)
);

CREATE TABLE IF NOT EXISTS decisions (
	conversation_id TEXT NOT NULL,
	tool_call_id    TEXT NOT NULL,
	approved        INTEGER NOT NULL,
	override_args   TEXT NOT NULL DEFAULT '',
	reason          TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (conversation_id, tool_call_id)
);
`

// Store is the SQLite implementation of agent.Persister.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates or opens the database at path and ensures the schema.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database dir: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db, logger: logger.With("component", "database")}, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// Save replaces the stored conversation state in one transaction.
func (s *Store) Save(c *agent.Conversation) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO conversations (id, modality, contact, estimated_tokens, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			estimated_tokens = excluded.estimated_tokens,
			updated_at       = excluded.updated_at`,
		c.ID, string(c.Modality), c.ContactIdentifier, c.EstimatedTokens,
		c.CreatedAt.UTC().Format(time.RFC3339Nano),
		c.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save conversation %s: %w", c.ID, err)
	}

	for _, table := range []string{"messages", "pending_requests", "decisions"} {
		if _, err := tx.Exec("DELETE FROM "+table+" WHERE conversation_id = ?", c.ID); err != nil {
			return fmt.Errorf("clear %s for %s: %w", table, c.ID, err)
		}
	}

	for _, m := range c.Messages {
		toolCalls := ""
		if len(m.ToolCalls) > 0 {
			b, err := json.Marshal(m.ToolCalls)
			if err != nil {
				return fmt.Errorf("marshal tool calls: %w", err)
			}
			toolCalls = string(b)
		}
		usage := ""
		if m.Usage != nil {
			b, err := json.Marshal(m.Usage)
			if err != nil {
				return fmt.Errorf("marshal usage: %w", err)
			}
			usage = string(b)
		}
		_, err := tx.Exec(`
			INSERT INTO messages (conversation_id, seq, role, content, tool_calls, tool_call_id, tool_name, usage, summary, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, m.SequenceIndex, m.Role, m.Content, toolCalls, m.ToolCallID, m.ToolName,
			usage, boolToInt(m.Summary), m.CreatedAt.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return fmt.Errorf("save message %d of %s: %w", m.SequenceIndex, c.ID, err)
		}
	}

	for _, req := range c.Pending {
		args, err := json.Marshal(req.Args)
		if err != nil {
			return fmt.Errorf("marshal request args: %w", err)
		}
		_, err = tx.Exec(`
			INSERT INTO pending_requests (conversation_id, tool_call_id, tool_name, args, requires_approval, status, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			c.ID, req.ToolCallID, req.ToolName, string(args),
			boolToInt(req.RequiresApproval), string(req.Status),
			req.CreatedAt.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return fmt.Errorf("save pending request %s: %w", req.ToolCallID, err)
		}
	}

	for _, d := range c.Decisions {
		override := ""
		if d.OverrideArgs != nil {
			b, err := json.Marshal(d.OverrideArgs)
			if err != nil {
				return fmt.Errorf("marshal override args: %w", err)
			}
			override = string(b)
		}
		_, err = tx.Exec(`
			INSERT INTO decisions (conversation_id, tool_call_id, approved, override_args, reason)
			VALUES (?, ?, ?, ?, ?)`,
			c.ID, d.ToolCallID, boolToInt(d.Approved), override, d.Reason,
		)
		if err != nil {
			return fmt.Errorf("save decision %s: %w", d.ToolCallID, err)
		}
	}

	return tx.Commit()
}

// Load reads a conversation by id; (nil, nil) when absent.
func (s *Store) Load(id string) (*agent.Conversation, error) {
	c := &agent.Conversation{
		ID:        id,
		Pending:   make(map[string]*agent.ToolCallRequest),
		Decisions: make(map[string]agent.ApprovalDecision),
	}

	var createdAt, updatedAt, modality string
	err := s.db.QueryRow(`
		SELECT modality, contact, estimated_tokens, created_at, updated_at
		FROM conversations WHERE id = ?`, id).
		Scan(&modality, &c.ContactIdentifier, &c.EstimatedTokens, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation %s: %w", id, err)
	}
	c.Modality = agent.Modality(modality)
	c.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	c.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)

	rows, err := s.db.Query(`
		SELECT seq, role, content, tool_calls, tool_call_id, tool_name, usage, summary, created_at
		FROM messages WHERE conversation_id = ? ORDER BY seq ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("load messages for %s: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			m                         agent.Message
			toolCalls, usage, created string
			summary                   int
		)
		if err := rows.Scan(&m.SequenceIndex, &m.Role, &m.Content, &toolCalls,
			&m.ToolCallID, &m.ToolName, &usage, &summary, &created); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if toolCalls != "" {
			if err := json.Unmarshal([]byte(toolCalls), &m.ToolCalls); err != nil {
				return nil, fmt.Errorf("parse tool calls: %w", err)
			}
		}
		if usage != "" {
			var u agent.Usage
			if err := json.Unmarshal([]byte(usage), &u); err != nil {
				return nil, fmt.Errorf("parse usage: %w", err)
			}
			m.Usage = &u
		}
		m.Summary = summary != 0
		m.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		c.Messages = append(c.Messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	if err := s.loadPending(id, c); err != nil {
		return nil, err
	}
	if err := s.loadDecisions(id, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Store) loadPending(id string, c *agent.Conversation) error {
	rows, err := s.db.Query(`
		SELECT tool_call_id, tool_name, args, requires_approval, status, created_at
		FROM pending_requests WHERE conversation_id = ?`, id)
	if err != nil {
		return fmt.Errorf("load pending requests for %s: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			req           agent.ToolCallRequest
			args, created string
			requires      int
			status        string
		)
		if err := rows.Scan(&req.ToolCallID, &req.ToolName, &args, &requires, &status, &created); err != nil {
			return fmt.Errorf("scan pending request: %w", err)
		}
		if err := json.Unmarshal([]byte(args), &req.Args); err != nil {
			return fmt.Errorf("parse request args: %w", err)
		}
		req.RequiresApproval = requires != 0
		req.Status = agent.RequestStatus(status)
		req.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		c.Pending[req.ToolCallID] = &req
	}
	return rows.Err()
}

func (s *Store) loadDecisions(id string, c *agent.Conversation) error {
	rows, err := s.db.Query(`
		SELECT tool_call_id, approved, override_args, reason
		FROM decisions WHERE conversation_id = ?`, id)
	if err != nil {
		return fmt.Errorf("load decisions for %s: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			d        agent.ApprovalDecision
			approved int
			override string
		)
		if err := rows.Scan(&d.ToolCallID, &approved, &override, &d.Reason); err != nil {
			return fmt.Errorf("scan decision: %w", err)
		}
		d.Approved = approved != 0
		if override != "" {
			if err := json.Unmarshal([]byte(override), &d.OverrideArgs); err != nil {
				return fmt.Errorf("parse override args: %w", err)
			}
		}
		c.Decisions[d.ToolCallID] = d
	}
	return rows.Err()
}

// Delete removes a conversation and its dependent rows.
func (s *Store) Delete(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"messages", "pending_requests", "decisions", "conversations"} {
		col := "conversation_id"
		if table == "conversations" {
			col = "id"
		}
		if _, err := tx.Exec("DELETE FROM "+table+" WHERE "+col+" = ?", id); err != nil {
			return fmt.Errorf("delete from %s: %w", table, err)
		}
	}
	return tx.Commit()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
