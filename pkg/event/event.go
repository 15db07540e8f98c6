// Package event defines ArchflowEvent, the structured envelope used by
// the streaming event bus (pkg/streaming) and the flow engine
// (pkg/flow) to report progress to subscribers.
package event

import "time"

// Domain is the top-level category of an event.
type Domain string

const (
	DomainChat Domain = "chat"
	DomainThinking Domain = "thinking"
	DomainTool Domain = "tool"
	DomainAudit Domain = "audit"
	DomainInteraction Domain = "interaction"
	DomainSystem Domain = "system"
)

// Type is the domain-specific event type enumerator.
type Type string

const (
	TypeDelta Type = "delta"
	TypeMessage Type = "message"
	TypeStart Type = "start"
	TypeEnd Type = "end"
	TypeError Type = "error"
	TypeThinking Type = "thinking"
	TypeReflection Type = "reflection"
	TypeVerification Type = "verification"
	TypeToolStart Type = "tool_start"
	TypeProgress Type = "progress"
	TypeResult Type = "result"
	TypeTrace Type = "trace"
	TypeSpan Type = "span"
	TypeMetric Type = "metric"
	TypeSuspend Type = "suspend"
	TypeForm Type = "form"
	TypeResume Type = "resume"
	TypeConnected Type = "connected"
	TypeHeartbeat Type = "heartbeat"
)

// Event is the envelope + data pair delivered to subscribers. Sequence
// is assigned by the emitter that publishes it (pkg/streaming),
// monotonically per execution id, per the sequencing invariant.
type Event struct {
	Domain Domain `json:"domain"`
	Type Type `json:"type"`
	ExecutionID string `json:"executionId"`
	CorrelationID string `json:"correlationId,omitempty"`
	Sequence uint64 `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
	Data map[string]any `json:"data"`
}

// New builds an Event with the given domain/type/execution id and
// data payload. Sequence and Timestamp are left zero; the emitter
// stamps them at publish time.
func New(domain Domain, typ Type, executionID string, data map[string]any) Event {
	if data == nil {
		data = map[string]any{}
	}
	return Event{
		Domain: domain,
		Type: typ,
		ExecutionID: executionID,
		Data: data,
	}
}

// WithCorrelation returns a copy of e with CorrelationID set.
func (e Event) WithCorrelation(id string) Event {
	e.CorrelationID = id
	return e
}

// Chat/thinking/tool/audit/interaction/system convenience constructors,
// one per event domain.

// ChatDelta builds a chat/delta event.
func ChatDelta(executionID, content string, index int) Event {
	return New(DomainChat, TypeDelta, executionID, map[string]any{
		"content": content,
		"index": index,
	})
}

// ChatMessage builds a chat/message event.
func ChatMessage(executionID, content, role, model string, totalTokens int) Event {
	data := map[string]any{"content": content, "role": role, "model": model}
	if totalTokens > 0 {
		data["totalTokens"] = totalTokens
	}
	return New(DomainChat, TypeMessage, executionID, data)
}

// ChatEnd builds a chat/end event.
func ChatEnd(executionID, finishReason string, totalTokens, promptTokens, completionTokens int) Event {
	return New(DomainChat, TypeEnd, executionID, map[string]any{
		"finishReason": finishReason,
		"totalTokens": totalTokens,
		"promptTokens": promptTokens,
		"completionTokens": completionTokens,
	})
}

// ToolStart builds a tool/tool_start event.
func ToolStart(executionID, toolName, toolCallID string, input any) Event {
	return New(DomainTool, TypeToolStart, executionID, map[string]any{
		"toolName": toolName,
		"toolCallId": toolCallID,
		"input": input,
	})
}

// ToolProgress builds a tool/progress event.
func ToolProgress(executionID, toolName, message string, percentage float64, current, total int) Event {
	return New(DomainTool, TypeProgress, executionID, map[string]any{
		"toolName": toolName,
		"message": message,
		"percentage": percentage,
		"current": current,
		"total": total,
	})
}

// ToolResult builds a tool/result event.
func ToolResult(executionID, toolName, toolCallID string, result any, durationMs int64) Event {
	return New(DomainTool, TypeResult, executionID, map[string]any{
		"toolName": toolName,
		"toolCallId": toolCallID,
		"result": result,
		"durationMs": durationMs,
	})
}

// AuditTrace builds an audit/trace event.
func AuditTrace(executionID, level, component, message string) Event {
	return New(DomainAudit, TypeTrace, executionID, map[string]any{
		"level": level,
		"component": component,
		"message": message,
	})
}

// InteractionSuspend builds an interaction/suspend event.
func InteractionSuspend(executionID, reason, resumeToken string, timeoutMs int64) Event {
	return New(DomainInteraction, TypeSuspend, executionID, map[string]any{
		"reason": reason,
		"resumeToken": resumeToken,
		"timeoutMs": timeoutMs,
	})
}

// InteractionResume builds an interaction/resume event.
func InteractionResume(executionID, resumeToken string, userData any) Event {
	return New(DomainInteraction, TypeResume, executionID, map[string]any{
		"resumeToken": resumeToken,
		"userData": userData,
	})
}

// SystemHeartbeat builds a system/heartbeat event with no clientId/sessionId.
func SystemHeartbeat(executionID string) Event {
	return New(DomainSystem, TypeHeartbeat, executionID, map[string]any{
		"timestamp": time.Now().Format(time.RFC3339),
	})
}
