package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"text/template"
	"time"

	"eventdedup/internal/config"
	"eventdedup/internal/domain"
	"eventdedup/internal/templatefmt"
)

// Request is one action invocation handed to an executor.
// Params: action name, dispatch identity, dedup key, and triggering event.
// Returns: executor input.
type Request struct {
	Action     string
	DispatchID string
	Key        string
	Event      domain.Event
}

// Payload is JSON/template view of one action request.
type Payload struct {
	Action            string    `json:"action"`
	DispatchID        string    `json:"dispatch_id"`
	Key               string    `json:"key"`
	EventID           string    `json:"event_id,omitempty"`
	EventType         string    `json:"event_type,omitempty"`
	Severity          string    `json:"severity,omitempty"`
	DeviceID          string    `json:"device_id"`
	MessageID         string    `json:"message_id"`
	Message           string    `json:"message,omitempty"`
	MessageArgs       []string  `json:"message_args,omitempty"`
	OriginOfCondition string    `json:"origin_of_condition,omitempty"`
	WindowSeconds     *int64    `json:"window_seconds,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
	Text              string    `json:"text,omitempty"`
}

// NewPayload flattens request into payload.
func NewPayload(req Request) Payload {
	return Payload{
		Action:            req.Action,
		DispatchID:        req.DispatchID,
		Key:               req.Key,
		EventID:           req.Event.EventID,
		EventType:         string(req.Event.EventType),
		Severity:          string(req.Event.Severity),
		DeviceID:          req.Event.DeviceID,
		MessageID:         req.Event.MessageID,
		Message:           req.Event.Message,
		MessageArgs:       req.Event.MessageArgs,
		OriginOfCondition: req.Event.OriginOfCondition,
		WindowSeconds:     req.Event.DedupWindowSeconds,
		Timestamp:         req.Event.Timestamp,
	}
}

// Executor performs one named action.
// Params: context bounded by dispatcher and action request.
// Returns: nil on success or failure reason.
type Executor interface {
	Execute(ctx context.Context, req Request) error
}

// Func adapts plain function to Executor.
type Func func(ctx context.Context, req Request) error

// Execute calls f.
func (f Func) Execute(ctx context.Context, req Request) error {
	return f(ctx, req)
}

// Registry maps action names to executors.
// Params: guarded name->executor table.
// Returns: concurrency-safe lookup used by dispatcher.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
}

// NewRegistry creates empty registry.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[string]Executor)}
}

// Register binds executor to action name, replacing any previous binding.
// Params: non-empty action name and executor.
// Returns: error on empty name or nil executor.
func (r *Registry) Register(name string, exec Executor) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("action name is required")
	}
	if exec == nil {
		return fmt.Errorf("executor for %q is nil", name)
	}
	r.mu.Lock()
	r.executors[name] = exec
	r.mu.Unlock()
	return nil
}

// Lookup returns executor by exact action name.
func (r *Registry) Lookup(name string) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exec, ok := r.executors[name]
	return exec, ok
}

// Names returns sorted registered action names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.executors))
	for name := range r.executors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build creates registry from config.
// Params: full config (dispatch builtin toggle and action tables) and logger.
// Returns: registry with builtin log actions and configured executors, each wrapped with retry policy.
func Build(cfg config.Config, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	registry := NewRegistry()
	if !cfg.Dispatch.DisableBuiltin {
		for _, name := range config.BuiltinActionNames {
			if err := registry.Register(name, NewLogExecutor(logger, nil)); err != nil {
				return nil, err
			}
		}
	}

	for _, action := range cfg.Action {
		message, err := compileMessage(action)
		if err != nil {
			return nil, err
		}
		var exec Executor
		switch action.Type {
		case config.ActionTypeLog:
			exec = NewLogExecutor(logger, message)
		case config.ActionTypeHTTP:
			exec = NewHTTPExecutor(action, message)
		case config.ActionTypeTelegram:
			exec = NewTelegramExecutor(action, message)
		default:
			return nil, fmt.Errorf("action.%s.type has unsupported value %q", action.Name, action.Type)
		}
		if action.Retry.Enabled {
			exec = WithRetry(exec, action.Retry, logger)
		}
		if err := registry.Register(action.Name, exec); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func compileMessage(action config.ActionConfig) (*template.Template, error) {
	if strings.TrimSpace(action.Message) == "" {
		return nil, nil
	}
	tmpl, err := templatefmt.ParseMessageTemplate("action."+action.Name, action.Message)
	if err != nil {
		return nil, fmt.Errorf("action.%s.message: %w", action.Name, err)
	}
	return tmpl, nil
}

// renderText renders optional message template, falling back to event message.
func renderText(tmpl *template.Template, payload Payload) (string, error) {
	if tmpl == nil {
		if payload.Message != "" {
			return payload.Message, nil
		}
		return fmt.Sprintf("%s on %s: %s", payload.Action, payload.DeviceID, payload.MessageID), nil
	}
	return templatefmt.Render(tmpl, payload)
}
