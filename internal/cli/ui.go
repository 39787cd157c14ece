package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/matzehuels/lockcheck/pkg/scan"
)

// =============================================================================
// Color Palette
// =============================================================================

var (
	colorCyan   = lipgloss.Color("36")  // Teal - primary actions
	colorGreen  = lipgloss.Color("35")  // Green - success
	colorYellow = lipgloss.Color("220") // Amber - warnings
	colorRed    = lipgloss.Color("167") // Soft red - errors
	colorBlue   = lipgloss.Color("75")  // Light blue - commands
	colorWhite  = lipgloss.Color("255") // Bright white - values
	colorGray   = lipgloss.Color("245") // Gray - secondary text
	colorDim    = lipgloss.Color("240") // Dim gray - muted text
)

// =============================================================================
// Public Styles
// =============================================================================

var (
	// StyleTitle for main headings.
	StyleTitle = lipgloss.NewStyle().Bold(true).Foreground(colorCyan)

	// StyleDim for secondary/muted text.
	StyleDim = lipgloss.NewStyle().Foreground(colorDim)

	// StyleValue for data values.
	StyleValue = lipgloss.NewStyle().Foreground(colorWhite)

	// StyleSuccess for success messages.
	StyleSuccess = lipgloss.NewStyle().Foreground(colorGreen)

	// StyleWarning for warning messages.
	StyleWarning = lipgloss.NewStyle().Foreground(colorYellow)

	// StyleError for failures.
	StyleError = lipgloss.NewStyle().Foreground(colorRed)
)

// =============================================================================
// Internal Styles
// =============================================================================

var (
	styleIconSuccess = lipgloss.NewStyle().Foreground(colorGreen)
	styleIconError   = lipgloss.NewStyle().Foreground(colorRed)
	styleIconWarning = lipgloss.NewStyle().Foreground(colorYellow)
	styleIconInfo    = lipgloss.NewStyle().Foreground(colorGray)
	styleIconSpinner = lipgloss.NewStyle().Foreground(colorCyan)

	styleCommand = lipgloss.NewStyle().Foreground(colorBlue)
	styleHeader  = lipgloss.NewStyle().Foreground(colorGray).Bold(true)
)

// =============================================================================
// Icons
// =============================================================================

const (
	iconSuccess = "✓"
	iconError   = "✗"
	iconWarning = "!"
	iconInfo    = "›"
)

// =============================================================================
// Status Output
// =============================================================================

// printSuccess prints a success message.
func printSuccess(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Println(styleIconSuccess.Render(iconSuccess) + " " + msg)
}

// printWarning prints a warning message.
func printWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Println(styleIconWarning.Render(iconWarning) + " " + StyleWarning.Render(msg))
}

// printInfo prints an info/status message.
func printInfo(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Println(styleIconInfo.Render(iconInfo) + " " + msg)
}

// printDetail prints a detail line (indented).
func printDetail(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Println("  " + StyleDim.Render(msg))
}

// printNextStep prints a suggested next command.
func printNextStep(description, cmd string) {
	fmt.Println(StyleDim.Render(description+":") + " " + styleCommand.Render(cmd))
}

// =============================================================================
// Key-Value Output
// =============================================================================

// writeKeyValue writes a labeled value.
func writeKeyValue(w io.Writer, key, value string) {
	keyStyle := lipgloss.NewStyle().Foreground(colorGray).Width(12)
	fmt.Fprintln(w, keyStyle.Render(key)+" "+StyleValue.Render(value))
}

// =============================================================================
// Scan Reports
// =============================================================================

// statusStyle colors a scan outcome status.
func statusStyle(s scan.Status) lipgloss.Style {
	switch s {
	case scan.StatusUnsatisfied:
		return StyleWarning
	case scan.StatusSatisfied:
		return StyleSuccess
	case scan.StatusError:
		return StyleError
	default:
		return StyleDim
	}
}

// writeScanReport renders a report as a table. Only unsatisfied and failed
// lockfiles are listed unless all is set.
func writeScanReport(w io.Writer, r *scan.Report, all bool) error {
	fmt.Fprintln(w, StyleTitle.Render(fmt.Sprintf("%s %s", r.Package, r.Range)))

	var (
		rows     [][]string
		statuses []scan.Status
	)
	for _, o := range r.Outcomes {
		if !all && o.Status != scan.StatusUnsatisfied && o.Status != scan.StatusError {
			continue
		}
		version, detail := "", ""
		if o.Dependency != nil {
			version = o.Dependency.Version
			detail = o.Dependency.Path
		}
		if o.Status == scan.StatusError {
			detail = o.Error
		}
		rows = append(rows, []string{string(o.Status), o.Lockfile, version, detail})
		statuses = append(statuses, o.Status)
	}

	if len(rows) > 0 {
		t := table.New().
			Border(lipgloss.RoundedBorder()).
			BorderStyle(lipgloss.NewStyle().Foreground(colorDim)).
			Headers("Status", "Lockfile", "Version", "Detail").
			Rows(rows...).
			StyleFunc(func(row, col int) lipgloss.Style {
				if row == table.HeaderRow {
					return styleHeader
				}
				if col == 0 && row >= 0 && row < len(statuses) {
					return statusStyle(statuses[row])
				}
				return lipgloss.NewStyle()
			})
		fmt.Fprintln(w, t.Render())
	}

	counts := r.Counts()
	parts := []string{
		fmt.Sprintf("%d candidates", r.Candidates),
		StyleWarning.Render(fmt.Sprintf("%d unsatisfied", counts[scan.StatusUnsatisfied])),
		fmt.Sprintf("%d satisfied", counts[scan.StatusSatisfied]),
		fmt.Sprintf("%d not installed", counts[scan.StatusNotFound]),
	}
	if n := counts[scan.StatusError]; n > 0 {
		parts = append(parts, StyleError.Render(fmt.Sprintf("%d errors", n)))
	}
	fmt.Fprintln(w, "  "+strings.Join(parts, StyleDim.Render(" · ")))
	return nil
}
