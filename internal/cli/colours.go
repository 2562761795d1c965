package cli

import (
	"github.com/fatih/color"

	"github.com/spiralogic/oraclevoice/internal/speech/queue"
)

// Color scheme for the CLI
var (
	Title   = color.New(color.FgCyan, color.Bold)
	Label   = color.New(color.FgMagenta)
	Error   = color.New(color.FgRed, color.Bold)
	Success = color.New(color.FgGreen)
	Info    = color.New(color.FgBlue)
	Warning = color.New(color.FgYellow)
	Faint   = color.New(color.Faint)
)

func statusColour(s queue.Status) *color.Color {
	switch s {
	case queue.StatusCompleted:
		return Success
	case queue.StatusFailed:
		return Error
	case queue.StatusProcessing:
		return Info
	default:
		return Warning
	}
}
