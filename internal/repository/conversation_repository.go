package repository

import (
	"commercebot/internal/entities"
	"commercebot/internal/interfaces"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ConversationRepository stores conversations as a header row plus an
// append-only message log.
type ConversationRepository struct {
	db *pgxpool.Pool
}

var _ interfaces.ConversationStore = (*ConversationRepository)(nil)

func NewConversationRepository(db *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{db: db}
}

const conversationColumns = `id, disable_auto_reply, metadata, flow_state, current_node_id, last_interaction_at, created_at`

func scanConversation(row pgx.Row, key entities.ConversationKey) (*entities.Conversation, error) {
	var (
		c           = entities.Conversation{Key: key}
		id          uuid.UUID
		metadata    []byte
		state       string
		lastTouched *time.Time
	)
	if err := row.Scan(&id, &c.DisableAutoReply, &metadata, &state, &c.CurrentNodeID, &lastTouched, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.ID = id.String()
	c.FlowState = entities.FlowState(state)
	if lastTouched != nil {
		c.LastInteractionAt = *lastTouched
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &c.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &c, nil
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadMessages(ctx context.Context, q querier, conv *entities.Conversation) error {
	rows, err := q.Query(ctx, `SELECT role, content, created_at FROM conversation_messages WHERE conversation_id = $1 ORDER BY seq`, conv.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	conv.Messages = conv.Messages[:0]
	for rows.Next() {
		var m entities.Message
		var role string
		if err := rows.Scan(&role, &m.Content, &m.Timestamp); err != nil {
			return err
		}
		m.Role = entities.Role(role)
		conv.Messages = append(conv.Messages, m)
	}
	return rows.Err()
}

// FindConversation returns the conversation with its full history, or nil
// when the participants never talked.
func (r *ConversationRepository) FindConversation(ctx context.Context, key entities.ConversationKey) (*entities.Conversation, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE chatbot_id = $1 AND platform = $2 AND participant_from = $3 AND participant_to = $4
	`, key.ChatbotID, string(key.Platform), key.From, key.To)

	conv, err := scanConversation(row, key)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find conversation: %w", err)
	}
	if err := loadMessages(ctx, r.db, conv); err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	return conv, nil
}

// AppendTurn applies a whole turn in one transaction: the conversation row
// is created if needed and locked, messages are appended after the current
// tail and the header fields are updated. Existing messages are never
// rewritten.
func (r *ConversationRepository) AppendTurn(ctx context.Context, key entities.ConversationKey, delta entities.ConversationDelta) (*entities.Conversation, error) {
	at := delta.At
	if at.IsZero() {
		at = time.Now()
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO conversations (id, chatbot_id, platform, participant_from, participant_to, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (chatbot_id, platform, participant_from, participant_to) DO NOTHING
	`, uuid.New(), key.ChatbotID, string(key.Platform), key.From, key.To, at)
	if err != nil {
		return nil, fmt.Errorf("upsert conversation: %w", err)
	}

	row := tx.QueryRow(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE chatbot_id = $1 AND platform = $2 AND participant_from = $3 AND participant_to = $4
		FOR UPDATE
	`, key.ChatbotID, string(key.Platform), key.From, key.To)
	conv, err := scanConversation(row, key)
	if err != nil {
		return nil, fmt.Errorf("lock conversation: %w", err)
	}

	var tail int
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM conversation_messages WHERE conversation_id = $1`, conv.ID,
	).Scan(&tail); err != nil {
		return nil, fmt.Errorf("read tail: %w", err)
	}

	if len(delta.Messages) > 0 {
		batch := &pgx.Batch{}
		for i, m := range delta.Messages {
			ts := m.Timestamp
			if ts.IsZero() {
				ts = at
			}
			batch.Queue(`
				INSERT INTO conversation_messages (conversation_id, seq, role, content, created_at)
				VALUES ($1, $2, $3, $4, $5)
			`, conv.ID, tail+i+1, string(m.Role), m.Content, ts)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return nil, fmt.Errorf("append messages: %w", err)
		}
	}

	applyDelta(conv, delta, at)
	metadata, err := json.Marshal(conv.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	_, err = tx.Exec(ctx, `
		UPDATE conversations
		SET metadata = $2, flow_state = $3, current_node_id = $4, last_interaction_at = $5
		WHERE id = $1
	`, conv.ID, metadata, string(conv.FlowState), conv.CurrentNodeID, conv.LastInteractionAt)
	if err != nil {
		return nil, fmt.Errorf("update conversation: %w", err)
	}

	if err := loadMessages(ctx, tx, conv); err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return conv, nil
}

// applyDelta updates the header fields of conv in memory.
func applyDelta(conv *entities.Conversation, delta entities.ConversationDelta, at time.Time) {
	if delta.FlowState != nil {
		conv.FlowState = *delta.FlowState
	}
	if delta.CurrentNodeID != nil {
		conv.CurrentNodeID = *delta.CurrentNodeID
	}
	if len(delta.Metadata) > 0 {
		if conv.Metadata == nil {
			conv.Metadata = make(map[string]string, len(delta.Metadata))
		}
		for k, v := range delta.Metadata {
			conv.Metadata[k] = v
		}
	}
	if conv.Metadata == nil {
		conv.Metadata = map[string]string{}
	}
	conv.LastInteractionAt = at
}
