package executor

import (
	"context"
	"log/slog"
	"text/template"

	"eventdedup/internal/permanent"
)

// intents describes what builtin remediation actions would do on real hardware.
var intents = map[string]string{
	"NotifyAdmin":        "notify administrator",
	"ShutdownServer":     "initiate device shutdown",
	"LogChange":          "record change in event database",
	"MonitorTemperature": "increase temperature monitoring frequency",
	"InitializeDrive":    "initialize drive at origin",
	"UpdateInventory":    "update inventory database for device",
	"CheckPowerSupplies": "schedule power supply diagnostics",
}

// LogExecutor records action intent in the service log without touching hardware.
type LogExecutor struct {
	logger  *slog.Logger
	message *template.Template
}

// NewLogExecutor creates log executor.
// Params: logger and optional message template.
// Returns: executor writing one info record per action.
func NewLogExecutor(logger *slog.Logger, message *template.Template) *LogExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogExecutor{logger: logger, message: message}
}

// Execute logs action intent.
func (e *LogExecutor) Execute(ctx context.Context, req Request) error {
	payload := NewPayload(req)
	text, err := renderText(e.message, payload)
	if err != nil {
		return permanent.Mark(err)
	}
	intent, ok := intents[req.Action]
	if !ok {
		intent = "custom action"
	}
	e.logger.InfoContext(ctx, "action executed",
		"action", req.Action,
		"intent", intent,
		"device_id", req.Event.DeviceID,
		"message_id", req.Event.MessageID,
		"origin", req.Event.OriginOfCondition,
		"dispatch_id", req.DispatchID,
		"text", text,
	)
	return nil
}
