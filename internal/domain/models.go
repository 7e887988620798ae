package domain

import (
	"encoding/json"
	"time"
)

// =============================================================================
// Core Configuration
// =============================================================================

type Config struct {
	Gateway   GatewayConfig  `json:"gateway"`
	Agent     AgentConfig    `json:"agent"`
	History   HistoryConfig  `json:"history"`
	Database  DatabaseConfig `json:"database"`
	Discord   DiscordConfig  `json:"discord"`
	Telegram  TelegramConfig `json:"telegram"`
	Scanner   ScannerConfig  `json:"scanner"`
	Reminders ReminderConfig `json:"reminders"`
	Prompts   PromptConfig   `json:"prompts"`
	Infra     InfraConfig    `json:"infra"`
	Retry     RetryConfig    `json:"retry"`
}

// RetryConfig controls caller-level retry of model requests. MaxRetries 0 disables it;
// the orchestration loop itself never retries.
type RetryConfig struct {
	MaxRetries     int `json:"maxRetries"`     // Maximum retry attempts (0 = no retries)
	InitialBackoff int `json:"initialBackoff"` // Initial backoff in milliseconds
	MaxBackoff     int `json:"maxBackoff"`     // Maximum backoff in milliseconds
	Multiplier     int `json:"multiplier"`     // Backoff multiplier (e.g. 2 for exponential doubling)
}

type GatewayConfig struct {
	Enabled bool       `json:"enabled"`
	Port    int        `json:"port"`
	Auth    AuthConfig `json:"auth"`
}

type AuthConfig struct {
	Mode      string `json:"mode"`                // "token" | "none"
	AuthToken string `json:"authToken,omitempty"` // When set, gateway requires Authorization: Bearer <authToken>
}

type AgentConfig struct {
	Provider        string           `json:"provider"` // "gemini" | "local"
	Model           string           `json:"model"`
	MaxIterations   int              `json:"maxIterations"`   // Ceiling on model requests per turn
	ToolTimeoutMs   int              `json:"toolTimeoutMs"`   // Per tool call
	ToolConcurrency int              `json:"toolConcurrency"` // 1 = calls in one batch run in emitted order
	Fallbacks       []FallbackConfig `json:"fallbacks,omitempty"`
}

// FallbackConfig describes an alternative model for failover.
type FallbackConfig struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

type HistoryConfig struct {
	Dir           string `json:"dir"`           // One JSONL file per channel
	MaxMessages   int    `json:"maxMessages"`   // Count cap on re-supplied turns
	MaxAgeMinutes int    `json:"maxAgeMinutes"` // Turns older than this are not re-supplied
	MaxTokens     int    `json:"maxTokens"`     // Token budget for re-supplied turns (0 = unlimited)
	Encoding      string `json:"encoding"`      // tiktoken encoding used for the budget
}

type DatabaseConfig struct {
	URL string `json:"url"` // file:quartermaster.db or libsql://...
}

type DiscordConfig struct {
	Enabled bool `json:"enabled"`
}

type TelegramConfig struct {
	Enabled bool `json:"enabled"`
	// RegimentID scopes Telegram chats, which have no guild of their own.
	RegimentID string `json:"regimentId,omitempty"`
}

type ScannerConfig struct {
	URL                    string `json:"url"`
	TimeoutMs              int    `json:"timeoutMs"`
	ChannelCacheTTLSeconds int    `json:"channelCacheTtlSeconds"`
	MaxImageEdge           int    `json:"maxImageEdge"` // Longest edge in pixels before downscaling (0 = never)
	Faction                string `json:"faction"`      // colonials | wardens | all
}

type ReminderConfig struct {
	Enabled   bool   `json:"enabled"`
	Cron      string `json:"cron"`
	WarnHours int    `json:"warnHours"`
}

type PromptConfig struct {
	OverridePath string `json:"overridePath,omitempty"` // Replaces the built-in system prompt; reloaded on change
	CurrentWar   int    `json:"currentWar,omitempty"`
}

type InfraConfig struct {
	LogFormat string `json:"logFormat"` // "json" | "text"
	LogLevel  string `json:"logLevel"`  // trace | debug | info | warn | error
}

// =============================================================================
// Conversation
// =============================================================================

type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Message is one turn of a conversation. Text turns carry Text; a model turn may
// also carry ToolCalls, and the user turn that answers it carries ToolResults.
type Message struct {
	Role        Role         `json:"role"`
	Text        string       `json:"text,omitempty"`
	ToolCalls   []ToolCall   `json:"toolCalls,omitempty"`
	ToolResults []ToolResult `json:"toolResults,omitempty"`
	Timestamp   time.Time    `json:"timestamp,omitempty"`
}

// TextMessage returns a plain text turn stamped with the current time.
func TextMessage(role Role, text string) Message {
	return Message{Role: role, Text: text, Timestamp: time.Now()}
}

// ToolCall is one model-requested invocation.
type ToolCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// ToolResult answers exactly one ToolCall. Content is always a string, usually JSON.
type ToolResult struct {
	CallID  string `json:"callId,omitempty"`
	Name    string `json:"name"`
	Content string `json:"content"`
	IsError bool   `json:"isError,omitempty"`
}

// TurnContext carries the caller identity available to a turn but not
// necessarily supplied by the model.
type TurnContext struct {
	RegimentID string `json:"regimentId,omitempty"`
	UserID     string `json:"userId,omitempty"`
	UserName   string `json:"userName,omitempty"`
	ChannelID  string `json:"channelId,omitempty"`
	GuildName  string `json:"guildName,omitempty"`
}

// =============================================================================
// Tooling
// =============================================================================

// ToolParam describes one declared parameter of a tool, in declaration order.
type ToolParam struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required"`
	Default     any    `json:"default,omitempty"`
}

type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Params      []ToolParam     `json:"params"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// HasParam reports whether the tool declares a parameter with the given name.
func (d ToolDefinition) HasParam(name string) bool {
	for _, p := range d.Params {
		if p.Name == name {
			return true
		}
	}
	return false
}

// =============================================================================
// Model Exchange
// =============================================================================

// ChatRequest is the full conversation sent to a model in one request.
type ChatRequest struct {
	Messages []Message
	Tools    []ToolDefinition
}

// ChatResponse is one model reply. A reply with no ToolCalls is final.
type ChatResponse struct {
	Text      string
	ToolCalls []ToolCall
}
