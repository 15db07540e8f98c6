// Package format provides archflowctl's CLI output formatting:
// TTY-aware colored status lines and a status: ∈ {completed, failed,
// suspended, stopped, running} to lipgloss style mapping, grounded on
// the internal/commands/shared/styles.go.
package format

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

var (
	statusOK = lipgloss.NewStyle().Foreground(lipgloss.Color("42")) // green
	statusWarn = lipgloss.NewStyle().Foreground(lipgloss.Color("214")) // orange
	statusError = lipgloss.NewStyle().Foreground(lipgloss.Color("196")) // red
	statusInfo = lipgloss.NewStyle().Foreground(lipgloss.Color("39")) // blue
	muted = lipgloss.NewStyle().Foreground(lipgloss.Color("245")) // gray
	bold = lipgloss.NewStyle().Bold(true)
)

const (
	symbolOK = "✓"
	symbolWarn = "⚠"
	symbolError = "✗"
	symbolInfo = "•"
)

// OK renders a success message with a green checkmark, plain text when
// color is disabled.
func OK(color bool, msg string) string {
	if !color {
		return symbolOK + " " + msg
	}
	return statusOK.Render(symbolOK) + " " + msg
}

// Warn renders a warning message with an orange symbol.
func Warn(color bool, msg string) string {
	if !color {
		return symbolWarn + " " + msg
	}
	return statusWarn.Render(symbolWarn) + " " + msg
}

// Error renders an error message with a red X.
func Error(color bool, msg string) string {
	if !color {
		return symbolError + " " + msg
	}
	return statusError.Render(symbolError) + " " + msg
}

// RunStatus renders a run's FlowStatus (completed, failed,
// suspended, stopped) with the symbol/color matching its severity.
func RunStatus(color bool, status string) string {
	switch status {
	case "completed":
		return OK(color, status)
	case "failed":
		return Error(color, status)
	case "suspended", "stopped", "paused":
		return Warn(color, status)
	case "running", "resuming":
		if !color {
			return symbolInfo + " " + status
		}
		return statusInfo.Render(symbolInfo) + " " + status
	default:
		if !color {
			return status
		}
		return muted.Render(status)
	}
}

// Label renders a dim "key:" label for key/value output lines.
func Label(color bool, label string) string {
	if !color {
		return label
	}
	return muted.Render(label)
}

// Bold renders emphasized text.
func Bold(color bool, text string) string {
	if !color {
		return text
	}
	return bold.Render(text)
}

// KeyValue formats a "label: value" line, label dimmed when color is
// enabled.
func KeyValue(color bool, label, value string) string {
	return fmt.Sprintf("%s %s", Label(color, label+":"), value)
}
