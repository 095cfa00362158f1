package helpers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
)

// CliError is a command failure with a stable code.
type CliError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (e *CliError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewCliError(code, message string, details ...string) *CliError {
	err := &CliError{Code: code, Message: message}
	if len(details) > 0 {
		err.Details = details[0]
	}
	return err
}

var (
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	detailStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")).Italic(true)
)

// FormatError renders err for the given output format.
func FormatError(err error, format OutputFormat) string {
	if err == nil {
		return ""
	}
	message, details := err.Error(), ""
	var cliErr *CliError
	if errors.As(err, &cliErr) {
		message, details = cliErr.Message, cliErr.Details
	}
	if format == FormatJSON || format == FormatYAML {
		b, mErr := json.Marshal(map[string]string{"error": message, "details": details})
		if mErr != nil {
			return `{"error": "failed to encode error", "details": ""}`
		}
		return string(b)
	}
	out := errorStyle.Render("error: " + message)
	if details != "" {
		out += "\n" + detailStyle.Render("details: "+details)
	}
	return out
}

// OutputError writes err to w in the given format.
func OutputError(w io.Writer, err error, format OutputFormat) {
	if err == nil {
		return
	}
	fmt.Fprintln(w, FormatError(err, format))
}
