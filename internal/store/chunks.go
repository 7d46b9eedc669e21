package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/sprintdeck/orc/internal/models"
)

// AppendChunk appends one fragment of streamed output to a session's chunk
// log. The sequence number comes from an atomic upsert-increment of the
// session's counter row, so concurrent feeds (raw/output/response) observe a
// single strictly increasing sequence. When a chunkKey is supplied and a
// chunk with the same (session, stream, key) already exists, the call is a
// no-op that returns the original chunk with inserted=false and consumes no
// sequence number.
func (s *SQLiteStore) AppendChunk(ctx context.Context, params AppendChunkParams) (*models.AgentSessionChunk, bool, error) {
	if !models.ValidStreamType(params.StreamType) {
		return nil, false, fmt.Errorf("invalid stream type: %s", params.StreamType)
	}
	createdAt := params.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if params.ChunkKey != "" {
		existing, err := scanChunk(tx.QueryRowContext(ctx,
			`SELECT `+chunkColumns+` FROM agent_session_chunks
			WHERE session_id = ? AND stream_type = ? AND chunk_key = ?`,
			params.SessionID, string(params.StreamType), params.ChunkKey))
		if err == nil {
			return existing, false, nil
		}
		if err != sql.ErrNoRows {
			return nil, false, fmt.Errorf("check chunk key: %w", err)
		}
	}

	var sequence int64
	err = tx.QueryRowContext(ctx,
		`INSERT INTO agent_session_counters (session_id, next_sequence) VALUES (?, 1)
		ON CONFLICT (session_id) DO UPDATE SET next_sequence = next_sequence + 1
		RETURNING next_sequence`,
		params.SessionID,
	).Scan(&sequence)
	if err != nil {
		return nil, false, fmt.Errorf("next sequence: %w", err)
	}

	chunk := &models.AgentSessionChunk{
		ID:         newULID(),
		SessionID:  params.SessionID,
		StreamType: params.StreamType,
		Sequence:   sequence,
		ChunkKey:   params.ChunkKey,
		Content:    params.Content,
		CreatedAt:  createdAt,
	}

	var chunkKey sql.NullString
	if params.ChunkKey != "" {
		chunkKey = sql.NullString{String: params.ChunkKey, Valid: true}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO agent_session_chunks (id, session_id, stream_type, sequence, chunk_key, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		chunk.ID, chunk.SessionID, string(chunk.StreamType), chunk.Sequence,
		chunkKey, chunk.Content, chunk.CreatedAt,
	)
	if err != nil {
		return nil, false, fmt.Errorf("insert chunk: %w", err)
	}

	// Only meaningful output/response text updates the session's cached last
	// text; blank chunks never clobber a previously recorded value.
	if params.StreamType == models.StreamOutput || params.StreamType == models.StreamResponse {
		if line := lastNonEmptyLine(params.Content); line != "" {
			_, err = tx.ExecContext(ctx,
				`UPDATE agent_sessions SET last_non_empty_text = ? WHERE id = ?`,
				line, params.SessionID)
			if err != nil {
				return nil, false, fmt.Errorf("update last text: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit tx: %w", err)
	}
	return chunk, true, nil
}

// lastNonEmptyLine returns the trimmed final non-blank line of content, or
// "" when every line is blank.
func lastNonEmptyLine(content string) string {
	lines := strings.Split(content, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}

const chunkColumns = `id, session_id, stream_type, sequence, chunk_key, content, created_at`

// ListChunks returns the chunks of one stream, ascending by sequence. The
// sequence space is shared across streams, so callers see gaps.
func (s *SQLiteStore) ListChunks(ctx context.Context, sessionID string, stream models.StreamType) ([]*models.AgentSessionChunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chunkColumns+` FROM agent_session_chunks
		WHERE session_id = ? AND stream_type = ?
		ORDER BY sequence ASC`,
		sessionID, string(stream))
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var chunks []*models.AgentSessionChunk
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

func (s *SQLiteStore) CountChunks(ctx context.Context, sessionID string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM agent_session_chunks WHERE session_id = ?", sessionID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return count, nil
}

func scanChunk(row rowScanner) (*models.AgentSessionChunk, error) {
	chunk := &models.AgentSessionChunk{}
	var stream string
	var chunkKey sql.NullString

	err := row.Scan(&chunk.ID, &chunk.SessionID, &stream, &chunk.Sequence,
		&chunkKey, &chunk.Content, &chunk.CreatedAt)
	if err != nil {
		return nil, err
	}

	chunk.StreamType = models.StreamType(stream)
	if chunkKey.Valid {
		chunk.ChunkKey = chunkKey.String
	}
	return chunk, nil
}
