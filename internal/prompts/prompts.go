// Package prompts renders the system prompt for a turn. The built-in
// template can be replaced by an override file that is reloaded on change.
package prompts

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"text/template"

	"quartermaster/internal/domain"
)

//go:embed system.tmpl
var builtin string

var defaultTemplate = template.Must(Parse(builtin))

// Data is what a prompt template can reference.
type Data struct {
	RegimentID string
	UserID     string
	UserName   string
	ChannelID  string
	GuildName  string
	CurrentWar int
}

// Parse compiles a prompt template.
func Parse(text string) (*template.Template, error) {
	return template.New("system").Option("missingkey=zero").Parse(text)
}

// Prompt renders the system prompt. It is safe for concurrent use.
type Prompt struct {
	war    int
	logger *slog.Logger

	mu     sync.RWMutex
	tmpl   *template.Template
	source string
}

// New returns a Prompt using the built-in template.
func New(currentWar int, logger *slog.Logger) *Prompt {
	if logger == nil {
		logger = slog.Default()
	}
	return &Prompt{war: currentWar, logger: logger, tmpl: defaultTemplate, source: "builtin"}
}

// Source is "builtin" or the path of the loaded override.
func (p *Prompt) Source() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.source
}

// Load replaces the template with the file at path. On error the current
// template stays in place.
func (p *Prompt) Load(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("prompts: read override: %w", err)
	}
	if strings.TrimSpace(string(raw)) == "" {
		return fmt.Errorf("prompts: override %s is empty", path)
	}
	tmpl, err := Parse(string(raw))
	if err != nil {
		return fmt.Errorf("prompts: parse override: %w", err)
	}
	p.mu.Lock()
	p.tmpl, p.source = tmpl, path
	p.mu.Unlock()
	return nil
}

// Reset goes back to the built-in template.
func (p *Prompt) Reset() {
	p.mu.Lock()
	p.tmpl, p.source = defaultTemplate, "builtin"
	p.mu.Unlock()
}

// Render executes the current template for tc.
func (p *Prompt) Render(tc domain.TurnContext) (string, error) {
	p.mu.RLock()
	tmpl := p.tmpl
	p.mu.RUnlock()

	var b strings.Builder
	err := tmpl.Execute(&b, Data{
		RegimentID: tc.RegimentID,
		UserID:     tc.UserID,
		UserName:   tc.UserName,
		ChannelID:  tc.ChannelID,
		GuildName:  tc.GuildName,
		CurrentWar: p.war,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(b.String()), nil
}

// SystemPrompt renders tc, falling back to the built-in template when an
// override fails to execute.
func (p *Prompt) SystemPrompt(tc domain.TurnContext) string {
	text, err := p.Render(tc)
	if err == nil {
		return text
	}
	p.logger.Warn("system prompt override failed, using builtin", "source", p.Source(), "error", err)
	var b strings.Builder
	_ = defaultTemplate.Execute(&b, Data{RegimentID: tc.RegimentID, UserName: tc.UserName, GuildName: tc.GuildName, CurrentWar: p.war})
	return strings.TrimSpace(b.String())
}
