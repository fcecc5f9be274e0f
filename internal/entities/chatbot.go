package entities

type Chatbot struct {
	ID     string `json:"id"`
	TeamID string `json:"team_id"`
	Name   string `json:"name"`
}

// PlatformAccount binds a platform-side identity (WhatsApp phone number id,
// Facebook page id, Instagram account id, Telegram bot, paired device) to a
// chatbot, together with the credential used to send as that identity.
type PlatformAccount struct {
	ID          string   `json:"id"`
	ChatbotID   string   `json:"chatbot_id"`
	TeamID      string   `json:"team_id"`
	Platform    Platform `json:"platform"`
	ExternalID  string   `json:"external_id"`
	AccessToken string   `json:"-"`
}

const (
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 500
	DefaultLanguage    = "en"
)

type AISettings struct {
	ModelID           string    `json:"model" validate:"omitempty,max=64"`
	Model             ModelSpec `json:"-"`
	Temperature       *float64  `json:"temperature" validate:"omitempty,gte=0,lte=2"`
	MaxTokens         int       `json:"maxTokens" validate:"gte=0,lte=8192"`
	Language          string    `json:"language" validate:"omitempty,min=2,max=8"`
	SystemPrompt      string    `json:"systemPrompt"`
	DatasetID         string    `json:"datasetId"`
	OrderToolsEnabled bool      `json:"orderToolsEnabled"`
}

// Sampling returns the temperature to send. A nil Temperature is unset and
// falls back to the default; 0 is a valid setting.
func (s AISettings) Sampling() float64 {
	if s.Temperature == nil {
		return DefaultTemperature
	}
	return *s.Temperature
}

// WithDefaults fills unset values and resolves the model.
func (s AISettings) WithDefaults() AISettings {
	if s.Temperature == nil {
		t := DefaultTemperature
		s.Temperature = &t
	}
	if s.MaxTokens <= 0 {
		s.MaxTokens = DefaultMaxTokens
	}
	if s.Language == "" {
		s.Language = DefaultLanguage
	}
	s.Model = ResolveModel(s.ModelID)
	s.ModelID = s.Model.ID
	return s
}

type Team struct {
	ID      string `json:"id"`
	Plan    string `json:"plan"`
	Credits int    `json:"credits"`
}

var creditLimits = map[string]int{
	"free":     100,
	"starter":  2000,
	"standard": 5000,
	"pro":      20000,
}

// CreditLimit returns the number of model calls a plan allows. Unknown plans
// get the free allowance.
func CreditLimit(plan string) int {
	if limit, ok := creditLimits[plan]; ok {
		return limit
	}
	return creditLimits["free"]
}

// Exhausted reports whether the team may not make another model call.
func (t Team) Exhausted() bool {
	return t.Credits >= CreditLimit(t.Plan)
}

type CreditStatus struct {
	Plan      string `json:"plan"`
	Limit     int    `json:"limit"`
	Used      int    `json:"used"`
	Remaining int    `json:"remaining"`
	Percent   int    `json:"percent"`
}

// Status summarizes usage against the plan limit.
func (t Team) Status() CreditStatus {
	limit := CreditLimit(t.Plan)
	status := CreditStatus{Plan: t.Plan, Limit: limit, Used: t.Credits}
	status.Remaining = max(limit-t.Credits, 0)
	if limit > 0 {
		status.Percent = min(t.Credits*100/limit, 100)
	}
	return status
}
