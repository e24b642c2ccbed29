package notify

import (
	"fmt"
	"sync"

	"github.com/l0p7/influencehub/internal/config"
	"github.com/l0p7/influencehub/internal/templates"
)

// Data is the template context for notice text.
type Data struct {
	Input  any
	Result any
	Error  string
}

type messagePair struct {
	success *templates.Template
	failure *templates.Template
}

// Messages renders notice text per mutation. A mutation without a success
// template reads "<name> succeeded"; without an error template the
// normalized error text is shown as-is.
type Messages struct {
	renderer *templates.Renderer

	mu       sync.RWMutex
	compiled map[string]messagePair
}

func NewMessages(renderer *templates.Renderer) *Messages {
	if renderer == nil {
		renderer = templates.NewRenderer()
	}
	return &Messages{renderer: renderer, compiled: make(map[string]messagePair)}
}

// Register compiles the templates for a mutation, replacing earlier ones.
// Empty sources leave the matching fallback in effect.
func (m *Messages) Register(mutation, success, failure string) error {
	successTmpl, err := m.renderer.CompileInline(mutation+".success", success)
	if err != nil {
		return err
	}
	failureTmpl, err := m.renderer.CompileInline(mutation+".error", failure)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	pair := m.compiled[mutation]
	if successTmpl != nil {
		pair.success = successTmpl
	}
	if failureTmpl != nil {
		pair.failure = failureTmpl
	}
	m.compiled[mutation] = pair
	return nil
}

// Apply registers configured overrides on top of built-in templates.
func (m *Messages) Apply(cfg map[string]config.NoticeTemplateConfig) error {
	for name, tmpl := range cfg {
		if err := m.Register(name, tmpl.Success, tmpl.Error); err != nil {
			return fmt.Errorf("notify: templates for %s: %w", name, err)
		}
	}
	return nil
}

// Success renders the success text. Render failures fall back.
func (m *Messages) Success(mutation string, data Data) string {
	if tmpl := m.lookup(mutation).success; tmpl != nil {
		if text, err := tmpl.Render(data); err == nil && text != "" {
			return text
		}
	}
	return mutation + " succeeded"
}

// Failure renders the error text. data.Error carries the normalized message.
func (m *Messages) Failure(mutation string, data Data) string {
	if tmpl := m.lookup(mutation).failure; tmpl != nil {
		if text, err := tmpl.Render(data); err == nil && text != "" {
			return text
		}
	}
	return data.Error
}

func (m *Messages) lookup(mutation string) messagePair {
	if m == nil {
		return messagePair{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.compiled[mutation]
}
