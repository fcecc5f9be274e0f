package infrastructure

import (
	"commercebot/internal/logger"
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresClient struct {
	Pool *pgxpool.Pool
}

func NewPostgresClient(ctx context.Context, connString string) (*PostgresClient, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	client := &PostgresClient{Pool: pool}
	if err := client.Migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return client, nil
}

var schema = []struct {
	name string
	ddl  string
}{
	{"teams", `
		CREATE TABLE IF NOT EXISTS teams (
			id TEXT PRIMARY KEY,
			plan VARCHAR(32) NOT NULL DEFAULT 'free',
			credits INT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`},
	{"chatbots", `
		CREATE TABLE IF NOT EXISTS chatbots (
			id TEXT PRIMARY KEY,
			team_id TEXT NOT NULL REFERENCES teams(id),
			name VARCHAR(255) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`},
	{"platform_accounts", `
		CREATE TABLE IF NOT EXISTS platform_accounts (
			id TEXT PRIMARY KEY,
			chatbot_id TEXT NOT NULL REFERENCES chatbots(id) ON DELETE CASCADE,
			platform VARCHAR(32) NOT NULL,
			external_id VARCHAR(255) NOT NULL,
			access_token TEXT NOT NULL DEFAULT '',
			UNIQUE (platform, external_id)
		);`},
	{"ai_settings", `
		CREATE TABLE IF NOT EXISTS ai_settings (
			chatbot_id TEXT PRIMARY KEY REFERENCES chatbots(id) ON DELETE CASCADE,
			model VARCHAR(64) NOT NULL DEFAULT '',
			temperature DOUBLE PRECISION,
			max_tokens INT NOT NULL DEFAULT 0,
			language VARCHAR(8) NOT NULL DEFAULT '',
			system_prompt TEXT NOT NULL DEFAULT '',
			dataset_id TEXT NOT NULL DEFAULT '',
			order_tools_enabled BOOLEAN NOT NULL DEFAULT FALSE
		);`},
	{"flows", `
		CREATE TABLE IF NOT EXISTS flows (
			chatbot_id TEXT PRIMARY KEY REFERENCES chatbots(id) ON DELETE CASCADE,
			graph JSONB,
			settings JSONB NOT NULL DEFAULT '{}',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`},
	{"conversations", `
		CREATE TABLE IF NOT EXISTS conversations (
			id UUID PRIMARY KEY,
			chatbot_id TEXT NOT NULL,
			platform VARCHAR(32) NOT NULL,
			participant_from VARCHAR(255) NOT NULL,
			participant_to VARCHAR(255) NOT NULL,
			disable_auto_reply BOOLEAN NOT NULL DEFAULT FALSE,
			metadata JSONB NOT NULL DEFAULT '{}',
			flow_state VARCHAR(32) NOT NULL DEFAULT '',
			current_node_id TEXT NOT NULL DEFAULT '',
			last_interaction_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (chatbot_id, platform, participant_from, participant_to)
		);`},
	{"conversation_messages", `
		CREATE TABLE IF NOT EXISTS conversation_messages (
			conversation_id UUID NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			seq INT NOT NULL,
			role VARCHAR(16) NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (conversation_id, seq)
		);`},
	{"menu_categories", `
		CREATE TABLE IF NOT EXISTS menu_categories (
			id TEXT PRIMARY KEY,
			chatbot_id TEXT NOT NULL,
			name VARCHAR(255) NOT NULL,
			position INT NOT NULL DEFAULT 0
		);`},
	{"menu_items", `
		CREATE TABLE IF NOT EXISTS menu_items (
			id TEXT PRIMARY KEY,
			chatbot_id TEXT NOT NULL,
			category_id TEXT NOT NULL REFERENCES menu_categories(id) ON DELETE CASCADE,
			name VARCHAR(255) NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			price DECIMAL(15, 2) NOT NULL,
			currency VARCHAR(10) NOT NULL DEFAULT 'IDR',
			available BOOLEAN NOT NULL DEFAULT TRUE
		);`},
	{"carts", `
		CREATE TABLE IF NOT EXISTS carts (
			chatbot_id TEXT NOT NULL,
			customer VARCHAR(255) NOT NULL,
			item_id TEXT NOT NULL REFERENCES menu_items(id) ON DELETE CASCADE,
			quantity INT NOT NULL CHECK (quantity > 0),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (chatbot_id, customer, item_id)
		);`},
	{"orders", `
		CREATE TABLE IF NOT EXISTS orders (
			id UUID PRIMARY KEY,
			chatbot_id TEXT NOT NULL,
			customer VARCHAR(255) NOT NULL,
			notes TEXT NOT NULL DEFAULT '',
			total DECIMAL(15, 2) NOT NULL,
			currency VARCHAR(10) NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'pending',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`},
	{"order_lines", `
		CREATE TABLE IF NOT EXISTS order_lines (
			order_id UUID NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
			item_id TEXT NOT NULL,
			name VARCHAR(255) NOT NULL,
			quantity INT NOT NULL,
			unit_price DECIMAL(15, 2) NOT NULL
		);`},
}

// Migrate creates the schema. Statements are idempotent.
func (p *PostgresClient) Migrate(ctx context.Context) error {
	for _, t := range schema {
		if _, err := p.Pool.Exec(ctx, t.ddl); err != nil {
			return fmt.Errorf("create %s table: %w", t.name, err)
		}
	}
	logger.WithModule("postgres").WithField("tables", len(schema)).Info("schema ready")
	return nil
}

func (p *PostgresClient) Close() {
	p.Pool.Close()
}
