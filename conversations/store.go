// Package conversations persists chat transcripts to sqlite.
package conversations

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// Record is one persisted transcript row.
type Record struct {
	ID        int64
	SessionID string
	Scenario  string
	Role      string
	Content   string
	ToolName  string
	CreatedAt int64
}

// Store handles persistence of conversation messages.
type Store struct {
	db *sql.DB
}

// NewStore creates a new conversation Store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// AppendUserMessage saves a user text message to the transcript.
func (s *Store) AppendUserMessage(ctx context.Context, sessionID, scenario, content string) error {
	return s.appendText(ctx, sessionID, scenario, "user", content)
}

// AppendAssistantMessage saves an assistant text message to the transcript.
func (s *Store) AppendAssistantMessage(ctx context.Context, sessionID, scenario, content string) error {
	return s.appendText(ctx, sessionID, scenario, "assistant", content)
}

func (s *Store) appendText(ctx context.Context, sessionID, scenario, role, content string) error {
	now := time.Now().Unix()
	query := sq.Insert("conversations").
		Columns("session_id", "scenario", "role", "content", "tool_name", "created_at").
		Values(sessionID, scenario, role, content, nil, now)

	queryStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}

	_, err = s.db.ExecContext(ctx, queryStr, args...)
	return err
}

// AppendToolCall saves an assistant tool invocation to the transcript.
// Uses INSERT OR IGNORE so a retried turn cannot duplicate a tool_id.
func (s *Store) AppendToolCall(ctx context.Context, sessionID, scenario, toolID, toolName string, toolInput any) error {
	toolUseData := map[string]interface{}{
		"id":    toolID,
		"input": toolInput,
		"name":  toolName,
	}
	contentJSON, err := json.Marshal(toolUseData)
	if err != nil {
		return fmt.Errorf("marshal tool use data: %w", err)
	}

	now := time.Now().Unix()
	query := sq.Insert("conversations").
		Columns("session_id", "scenario", "role", "content", "tool_name", "tool_id", "created_at").
		Values(sessionID, scenario, "assistant", string(contentJSON), toolName, toolID, now)

	queryStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}

	// SQLite wants "OR IGNORE" after "INSERT"
	queryStr = strings.Replace(queryStr, "INSERT INTO", "INSERT OR IGNORE INTO", 1)

	_, err = s.db.ExecContext(ctx, queryStr, args...)
	return err
}

// AppendToolResult saves the result of a tool invocation to the transcript.
func (s *Store) AppendToolResult(ctx context.Context, sessionID, scenario, toolID, toolName string, result any, isError bool) error {
	var resultStr string
	if resultBytes, err := json.Marshal(result); err == nil {
		resultStr = string(resultBytes)
	} else {
		resultStr = fmt.Sprintf("%v", result)
	}

	toolResultData := map[string]interface{}{
		"id":       toolID,
		"result":   resultStr,
		"is_error": isError,
	}
	contentJSON, err := json.Marshal(toolResultData)
	if err != nil {
		return fmt.Errorf("marshal tool result data: %w", err)
	}

	now := time.Now().Unix()
	query := sq.Insert("conversations").
		Columns("session_id", "scenario", "role", "content", "tool_name", "tool_id", "created_at").
		Values(sessionID, scenario, "tool", string(contentJSON), toolName, toolID, now)

	queryStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}

	queryStr = strings.Replace(queryStr, "INSERT INTO", "INSERT OR IGNORE INTO", 1)

	_, err = s.db.ExecContext(ctx, queryStr, args...)
	return err
}

// LoadRecent returns up to limit most recent rows for a session, oldest first.
func (s *Store) LoadRecent(ctx context.Context, sessionID string, limit uint64) ([]Record, error) {
	query := sq.Select("id", "session_id", "scenario", "role", "content", "tool_name", "created_at").
		From("conversations").
		Where(sq.Eq{"session_id": sessionID}).
		OrderBy("id DESC").
		Limit(limit)

	queryStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var toolName sql.NullString
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.Scenario, &rec.Role, &rec.Content, &toolName, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation row: %w", err)
		}
		rec.ToolName = toolName.String
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse into chronological order.
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}
