package entities

import "encoding/json"

type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type MenuItem struct {
	ID          string  `json:"id"`
	CategoryID  string  `json:"category_id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Price       float64 `json:"price"`
	Currency    string  `json:"currency"`
}

type CartLine struct {
	ItemID   string  `json:"item_id"`
	Name     string  `json:"name"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
}

type Cart struct {
	Lines    []CartLine `json:"lines"`
	Total    float64    `json:"total"`
	Currency string     `json:"currency"`
}

type Order struct {
	OrderID  string     `json:"order_id"`
	Items    []CartLine `json:"items"`
	Total    float64    `json:"total"`
	Currency string     `json:"currency"`
	Status   string     `json:"status"`
}

// ToolCall is a function call requested by a model. Arguments is the raw
// JSON object the model produced.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolDefinition describes a callable function to the model.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}
