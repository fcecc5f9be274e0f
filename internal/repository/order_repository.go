package repository

import (
	"commercebot/internal/entities"
	"commercebot/internal/interfaces"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultCurrency = "IDR"

// OrderRepository is the menu, cart and order backend of the order tools.
// Results are JSON; expected business failures (unknown item, empty cart)
// come back as a bare JSON string the bot can send as is.
type OrderRepository struct {
	db *pgxpool.Pool
}

var _ interfaces.OrderBackend = (*OrderRepository)(nil)

func NewOrderRepository(db *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{db: db}
}

func encode(v any) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (r *OrderRepository) Categories(ctx context.Context, chatbotID string) (json.RawMessage, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, name FROM menu_categories WHERE chatbot_id = $1 ORDER BY position, name
	`, chatbotID)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	categories := []entities.Category{}
	for rows.Next() {
		var c entities.Category
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return encode(map[string]any{"categories": categories})
}

func (r *OrderRepository) MenuItems(ctx context.Context, chatbotID, categoryID string) (json.RawMessage, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, category_id, name, description, price, currency
		FROM menu_items
		WHERE chatbot_id = $1 AND category_id = $2 AND available
		ORDER BY name
	`, chatbotID, categoryID)
	if err != nil {
		return nil, fmt.Errorf("list menu items: %w", err)
	}
	defer rows.Close()

	items := []entities.MenuItem{}
	for rows.Next() {
		var it entities.MenuItem
		if err := rows.Scan(&it.ID, &it.CategoryID, &it.Name, &it.Description, &it.Price, &it.Currency); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return encode(map[string]any{"items": items})
}

func (r *OrderRepository) AddToCart(ctx context.Context, chatbotID, customer, itemID string, quantity int) (json.RawMessage, error) {
	if quantity <= 0 {
		return encode("Quantity must be at least 1.")
	}
	var item entities.MenuItem
	err := r.db.QueryRow(ctx, `
		SELECT id, category_id, name, description, price, currency
		FROM menu_items WHERE chatbot_id = $1 AND id = $2 AND available
	`, chatbotID, itemID).Scan(&item.ID, &item.CategoryID, &item.Name, &item.Description, &item.Price, &item.Currency)
	if errors.Is(err, pgx.ErrNoRows) {
		return encode("Sorry, that item is not on the menu.")
	}
	if err != nil {
		return nil, fmt.Errorf("find menu item: %w", err)
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO carts (chatbot_id, customer, item_id, quantity, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (chatbot_id, customer, item_id)
		DO UPDATE SET quantity = carts.quantity + EXCLUDED.quantity, updated_at = NOW()
	`, chatbotID, customer, itemID, quantity)
	if err != nil {
		return nil, fmt.Errorf("add to cart: %w", err)
	}

	cart, err := loadCart(ctx, r.db, chatbotID, customer, false)
	if err != nil {
		return nil, err
	}
	return encode(map[string]any{
		"added": entities.CartLine{ItemID: item.ID, Name: item.Name, Quantity: quantity, Price: item.Price},
		"cart":  cart,
	})
}

func (r *OrderRepository) ViewCart(ctx context.Context, chatbotID, customer string) (json.RawMessage, error) {
	cart, err := loadCart(ctx, r.db, chatbotID, customer, false)
	if err != nil {
		return nil, err
	}
	return encode(cart)
}

// SubmitOrder turns the cart into an order and empties the cart.
func (r *OrderRepository) SubmitOrder(ctx context.Context, chatbotID, customer, notes string) (json.RawMessage, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	cart, err := loadCart(ctx, tx, chatbotID, customer, true)
	if err != nil {
		return nil, err
	}
	if len(cart.Lines) == 0 {
		return encode("Your cart is empty. Add something from the menu first.")
	}

	order := entities.Order{
		OrderID:  uuid.NewString(),
		Items:    cart.Lines,
		Total:    cart.Total,
		Currency: cart.Currency,
		Status:   "pending",
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO orders (id, chatbot_id, customer, notes, total, currency, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, order.OrderID, chatbotID, customer, notes, order.Total, order.Currency, order.Status); err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}

	batch := &pgx.Batch{}
	for _, l := range order.Items {
		batch.Queue(`
			INSERT INTO order_lines (order_id, item_id, name, quantity, unit_price)
			VALUES ($1, $2, $3, $4, $5)
		`, order.OrderID, l.ItemID, l.Name, l.Quantity, l.Price)
	}
	batch.Queue(`DELETE FROM carts WHERE chatbot_id = $1 AND customer = $2`, chatbotID, customer)
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return nil, fmt.Errorf("insert order lines: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return encode(order)
}

func loadCart(ctx context.Context, q querier, chatbotID, customer string, lock bool) (entities.Cart, error) {
	query := `
		SELECT c.item_id, m.name, c.quantity, m.price, m.currency
		FROM carts c JOIN menu_items m ON m.id = c.item_id
		WHERE c.chatbot_id = $1 AND c.customer = $2
		ORDER BY c.updated_at, m.name`
	if lock {
		query += ` FOR UPDATE OF c`
	}
	rows, err := q.Query(ctx, query, chatbotID, customer)
	if err != nil {
		return entities.Cart{}, fmt.Errorf("load cart: %w", err)
	}
	defer rows.Close()

	var lines []entities.CartLine
	var currency string
	for rows.Next() {
		var l entities.CartLine
		var cur string
		if err := rows.Scan(&l.ItemID, &l.Name, &l.Quantity, &l.Price, &cur); err != nil {
			return entities.Cart{}, err
		}
		if currency == "" {
			currency = cur
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return entities.Cart{}, err
	}
	return buildCart(lines, currency), nil
}

func buildCart(lines []entities.CartLine, currency string) entities.Cart {
	if currency == "" {
		currency = defaultCurrency
	}
	cart := entities.Cart{Lines: lines, Currency: currency}
	if cart.Lines == nil {
		cart.Lines = []entities.CartLine{}
	}
	for _, l := range lines {
		cart.Total += l.Price * float64(l.Quantity)
	}
	return cart
}
