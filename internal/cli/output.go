package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"diagnosis-runner/internal/domain"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // the execution ran and ended in ERROR
	ExitCommandError = 2 // bad arguments, missing records, unreachable stores
)

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// GetExitCode returns the exit code carried by err, or ExitFailure.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// exitCodeFor reports ExitFailure once an execution record exists, since the
// record then ends in ERROR, and a command error otherwise.
func exitCodeFor(executionID string) int {
	if executionID != "" {
		return ExitFailure
	}
	return ExitCommandError
}

type runView struct {
	ExecutionID string `json:"executionId"`
	DiseaseName string `json:"diseaseName"`
	Status      string `json:"status"`
	Error       string `json:"error,omitempty"`
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func writeRunText(w io.Writer, v runView) error {
	_, err := fmt.Fprintf(w, "execution %s\ndisease    %s\nstatus     %s\n", v.ExecutionID, v.DiseaseName, v.Status)
	if err == nil && v.Error != "" {
		_, err = fmt.Fprintf(w, "error      %s\n", v.Error)
	}
	return err
}

func writeDetailText(w io.Writer, d domain.ExecutionDetail) error {
	var b strings.Builder
	e := d.Execution
	fmt.Fprintf(&b, "execution %s (%s)\n", e.ID, e.Status)
	fmt.Fprintf(&b, "disease    %s [%s]\n", e.DiseaseName, e.DiseaseID)
	fmt.Fprintf(&b, "started    %s\n", e.StartTime.Format("2006-01-02 15:04:05"))
	if e.EndTime != nil {
		fmt.Fprintf(&b, "finished   %s (%s)\n", e.EndTime.Format("2006-01-02 15:04:05"), e.EndTime.Sub(e.StartTime).Round(time.Millisecond))
	}
	if e.ErrorMessage != "" {
		fmt.Fprintf(&b, "error      %s\n", e.ErrorMessage)
	}

	b.WriteString("\nsteps\n")
	for _, s := range d.Steps {
		fmt.Fprintf(&b, "  %d. %-18s %s", s.Order, s.Name, s.Status)
		if s.ErrorMessage != "" {
			fmt.Fprintf(&b, "  %s", s.ErrorMessage)
		}
		b.WriteString("\n")
	}

	b.WriteString("\ndialog\n")
	for _, t := range d.Turns {
		fmt.Fprintf(&b, "  [%d] %-7s %s\n", t.Round, t.Role, t.Message)
	}

	if analysis, ok := e.Result["analysis"]; ok {
		raw, err := json.Marshal(analysis)
		if err == nil {
			fmt.Fprintf(&b, "\nanalysis   %s\n", raw)
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}
