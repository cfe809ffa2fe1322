package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// AuditEventType names a structured audit event.
type AuditEventType string

const (
	AuditSessionStart AuditEventType = "session_start"
	AuditSessionEnd   AuditEventType = "session_end"
	AuditTurnStart    AuditEventType = "turn_start"
	AuditTurnEnd      AuditEventType = "turn_end"

	AuditLLMCall AuditEventType = "llm_call"

	AuditToolComplete AuditEventType = "tool_complete"
	AuditToolError    AuditEventType = "tool_error"

	AuditPrediction AuditEventType = "prediction"
	AuditExtraction AuditEventType = "extraction"
)

// AuditEvent is one line of the audit log.
type AuditEvent struct {
	EventType  AuditEventType
	SessionID  string
	Target     string
	Success    bool
	DurationMs int64
	Error      string
	Fields     map[string]interface{}
}

var (
	auditMu   sync.Mutex
	auditZap  *zap.Logger
	auditFile *os.File
)

// InitAudit opens <logs>/<date>_audit.log. No-op outside debug mode.
func InitAudit() error {
	if !IsDebugMode() {
		return nil
	}

	auditMu.Lock()
	defer auditMu.Unlock()

	if auditZap != nil {
		return nil
	}

	date := time.Now().Format("2006-01-02")
	path := filepath.Join(LogsDir(), fmt.Sprintf("%s_audit.log", date))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}

	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "ts"
	ec.MessageKey = "event"
	ec.EncodeTime = zapcore.EpochMillisTimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(ec), zapcore.AddSync(file), zapcore.InfoLevel)

	auditFile = file
	auditZap = zap.New(core)
	return nil
}

func closeAudit() {
	auditMu.Lock()
	defer auditMu.Unlock()

	if auditZap != nil {
		_ = auditZap.Sync()
		auditZap = nil
	}
	if auditFile != nil {
		_ = auditFile.Close()
		auditFile = nil
	}
}

// AuditLogger writes audit events scoped to a session.
type AuditLogger struct {
	sessionID string
}

// Audit returns an unscoped audit logger.
func Audit() *AuditLogger { return &AuditLogger{} }

// AuditWithSession returns an audit logger scoped to a session.
func AuditWithSession(sessionID string) *AuditLogger {
	return &AuditLogger{sessionID: sessionID}
}

// Log writes an audit event.
func (a *AuditLogger) Log(e AuditEvent) {
	auditMu.Lock()
	defer auditMu.Unlock()

	if auditZap == nil {
		return
	}
	if e.SessionID == "" {
		e.SessionID = a.sessionID
	}

	fields := []zap.Field{
		zap.String("session", e.SessionID),
		zap.String("target", e.Target),
		zap.Bool("success", e.Success),
		zap.Int64("dur_ms", e.DurationMs),
	}
	if e.Error != "" {
		fields = append(fields, zap.String("error", e.Error))
	}
	if len(e.Fields) > 0 {
		fields = append(fields, zap.Any("fields", e.Fields))
	}
	auditZap.Info(string(e.EventType), fields...)
}

// SessionStart logs the start of a chat session.
func (a *AuditLogger) SessionStart() {
	a.Log(AuditEvent{EventType: AuditSessionStart, Success: true})
}

// SessionEnd logs the end of a chat session.
func (a *AuditLogger) SessionEnd(turns int, durationMs int64) {
	a.Log(AuditEvent{
		EventType:  AuditSessionEnd,
		Success:    true,
		DurationMs: durationMs,
		Fields:     map[string]interface{}{"turns": turns},
	})
}

// TurnStart logs one user request entering the agent loop.
func (a *AuditLogger) TurnStart(turn int, inputLen int) {
	a.Log(AuditEvent{
		EventType: AuditTurnStart,
		Success:   true,
		Fields:    map[string]interface{}{"turn": turn, "input_len": inputLen},
	})
}

// TurnEnd logs the end of one agent turn.
func (a *AuditLogger) TurnEnd(turn int, iterations int, durationMs int64, success bool) {
	a.Log(AuditEvent{
		EventType:  AuditTurnEnd,
		Success:    success,
		DurationMs: durationMs,
		Fields:     map[string]interface{}{"turn": turn, "iterations": iterations},
	})
}

// LLMCall logs a chat-completion round trip.
func (a *AuditLogger) LLMCall(model string, tokens int, durationMs int64, err error) {
	e := AuditEvent{
		EventType:  AuditLLMCall,
		Target:     model,
		Success:    err == nil,
		DurationMs: durationMs,
		Fields:     map[string]interface{}{"tokens": tokens},
	}
	if err != nil {
		e.Error = err.Error()
	}
	a.Log(e)
}

// ToolExec logs a tool call outcome.
func (a *AuditLogger) ToolExec(tool string, durationMs int64, err error) {
	e := AuditEvent{EventType: AuditToolComplete, Target: tool, Success: true, DurationMs: durationMs}
	if err != nil {
		e.EventType = AuditToolError
		e.Success = false
		e.Error = err.Error()
	}
	a.Log(e)
}

// Prediction logs a prediction service call.
func (a *AuditLogger) Prediction(endpoint string, durationMs int64, err error) {
	e := AuditEvent{EventType: AuditPrediction, Target: endpoint, Success: err == nil, DurationMs: durationMs}
	if err != nil {
		e.Error = err.Error()
	}
	a.Log(e)
}

// Extraction logs an instrument extraction batch.
func (a *AuditLogger) Extraction(files, extracted, failed int) {
	a.Log(AuditEvent{
		EventType: AuditExtraction,
		Success:   failed == 0,
		Fields:    map[string]interface{}{"files": files, "extracted": extracted, "failed": failed},
	})
}
