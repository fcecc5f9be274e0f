package repository

import (
	"commercebot/internal/entities"
	"commercebot/internal/interfaces"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ChatbotRepository reads and writes chatbot configuration: platform
// accounts, AI settings and the authored flow.
type ChatbotRepository struct {
	db *pgxpool.Pool
}

var _ interfaces.ChatbotStore = (*ChatbotRepository)(nil)

func NewChatbotRepository(db *pgxpool.Pool) *ChatbotRepository {
	return &ChatbotRepository{db: db}
}

const accountColumns = `a.id, a.chatbot_id, c.team_id, a.platform, a.external_id, a.access_token`

func scanAccount(row pgx.Row) (*entities.PlatformAccount, error) {
	var a entities.PlatformAccount
	var platform string
	if err := row.Scan(&a.ID, &a.ChatbotID, &a.TeamID, &platform, &a.ExternalID, &a.AccessToken); err != nil {
		return nil, err
	}
	a.Platform = entities.Platform(platform)
	return &a, nil
}

// ResolveAccount maps the platform-side recipient id of a webhook to the
// account. Unknown accounts return (nil, nil).
func (r *ChatbotRepository) ResolveAccount(ctx context.Context, platform entities.Platform, externalID string) (*entities.PlatformAccount, error) {
	acc, err := scanAccount(r.db.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM platform_accounts a JOIN chatbots c ON c.id = a.chatbot_id
		WHERE a.platform = $1 AND a.external_id = $2
	`, string(platform), externalID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve account: %w", err)
	}
	return acc, nil
}

// GetChatbot returns (nil, nil) for unknown ids.
func (r *ChatbotRepository) GetChatbot(ctx context.Context, id string) (*entities.Chatbot, error) {
	var c entities.Chatbot
	err := r.db.QueryRow(ctx, `SELECT id, team_id, name FROM chatbots WHERE id = $1`, id).
		Scan(&c.ID, &c.TeamID, &c.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get chatbot: %w", err)
	}
	return &c, nil
}

// GetAccount loads an account by its own id. Unknown ids return (nil, nil).
func (r *ChatbotRepository) GetAccount(ctx context.Context, id string) (*entities.PlatformAccount, error) {
	acc, err := scanAccount(r.db.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM platform_accounts a JOIN chatbots c ON c.id = a.chatbot_id
		WHERE a.id = $1
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return acc, nil
}

// ListAccounts returns all accounts of a platform, used to reconnect
// long-lived sessions at startup.
func (r *ChatbotRepository) ListAccounts(ctx context.Context, platform entities.Platform) ([]entities.PlatformAccount, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+accountColumns+`
		FROM platform_accounts a JOIN chatbots c ON c.id = a.chatbot_id
		WHERE a.platform = $1
		ORDER BY a.id
	`, string(platform))
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	accounts := []entities.PlatformAccount{}
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *acc)
	}
	return accounts, rows.Err()
}

// SetAccessToken stores a new credential for the account.
func (r *ChatbotRepository) SetAccessToken(ctx context.Context, accountID, token string) error {
	tag, err := r.db.Exec(ctx, `UPDATE platform_accounts SET access_token = $2 WHERE id = $1`, accountID, token)
	if err != nil {
		return fmt.Errorf("set access token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set access token: account %s: %w", accountID, pgx.ErrNoRows)
	}
	return nil
}

// GetAISettings returns the chatbot's settings with defaults applied and the
// model resolved. A chatbot without a settings row gets the defaults.
func (r *ChatbotRepository) GetAISettings(ctx context.Context, chatbotID string) (entities.AISettings, error) {
	var s entities.AISettings
	err := r.db.QueryRow(ctx, `
		SELECT model, temperature, max_tokens, language, system_prompt, dataset_id, order_tools_enabled
		FROM ai_settings WHERE chatbot_id = $1
	`, chatbotID).Scan(&s.ModelID, &s.Temperature, &s.MaxTokens, &s.Language, &s.SystemPrompt, &s.DatasetID, &s.OrderToolsEnabled)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return entities.AISettings{}, fmt.Errorf("get ai settings: %w", err)
	}
	return s.WithDefaults(), nil
}

func (r *ChatbotRepository) SaveAISettings(ctx context.Context, chatbotID string, s entities.AISettings) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO ai_settings (chatbot_id, model, temperature, max_tokens, language, system_prompt, dataset_id, order_tools_enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (chatbot_id) DO UPDATE SET
			model = EXCLUDED.model,
			temperature = EXCLUDED.temperature,
			max_tokens = EXCLUDED.max_tokens,
			language = EXCLUDED.language,
			system_prompt = EXCLUDED.system_prompt,
			dataset_id = EXCLUDED.dataset_id,
			order_tools_enabled = EXCLUDED.order_tools_enabled
	`, chatbotID, s.ModelID, s.Temperature, s.MaxTokens, s.Language, s.SystemPrompt, s.DatasetID, s.OrderToolsEnabled)
	if err != nil {
		return fmt.Errorf("save ai settings: %w", err)
	}
	return nil
}

// GetFlow returns the chatbot's flow, or nil when none was authored.
func (r *ChatbotRepository) GetFlow(ctx context.Context, chatbotID string) (*entities.Flow, error) {
	var graph, settings []byte
	err := r.db.QueryRow(ctx, `SELECT graph, settings FROM flows WHERE chatbot_id = $1`, chatbotID).Scan(&graph, &settings)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get flow: %w", err)
	}
	return decodeFlow(chatbotID, graph, settings)
}

func decodeFlow(chatbotID string, graph, settings []byte) (*entities.Flow, error) {
	flow := &entities.Flow{ChatbotID: chatbotID}
	if len(graph) > 0 && string(graph) != "null" {
		flow.Graph = &entities.FlowGraph{}
		if err := json.Unmarshal(graph, flow.Graph); err != nil {
			return nil, fmt.Errorf("decode flow graph: %w", err)
		}
	}
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &flow.Settings); err != nil {
			return nil, fmt.Errorf("decode flow settings: %w", err)
		}
	}
	return flow, nil
}

func (r *ChatbotRepository) SaveFlow(ctx context.Context, flow entities.Flow) error {
	graph, err := json.Marshal(flow.Graph)
	if err != nil {
		return fmt.Errorf("encode flow graph: %w", err)
	}
	settings, err := json.Marshal(flow.Settings)
	if err != nil {
		return fmt.Errorf("encode flow settings: %w", err)
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO flows (chatbot_id, graph, settings, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (chatbot_id) DO UPDATE SET graph = EXCLUDED.graph, settings = EXCLUDED.settings, updated_at = NOW()
	`, flow.ChatbotID, graph, settings)
	if err != nil {
		return fmt.Errorf("save flow: %w", err)
	}
	return nil
}
