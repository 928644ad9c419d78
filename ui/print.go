package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/CK6170/Intellispec-go/acquisition"
	"github.com/CK6170/Intellispec-go/models"
)

var (
	green  = color.New(color.FgHiGreen)
	yellow = color.New(color.FgHiYellow)
	red    = color.New(color.FgRed)
	cyan   = color.New(color.FgHiCyan)
	blue   = color.New(color.FgBlue)
	purple = color.New(color.FgHiMagenta)
)

// Greenf prints a light green message.
func Greenf(w io.Writer, format string, a ...interface{}) {
	_, _ = green.Fprintf(w, format, a...)
}

// Warningf prints a bright yellow warning.
func Warningf(w io.Writer, format string, a ...interface{}) {
	_, _ = yellow.Fprintf(w, format, a...)
}

// Errorf prints a red error.
func Errorf(w io.Writer, format string, a ...interface{}) {
	_, _ = red.Fprintf(w, format, a...)
}

// ClearScreen clears the terminal screen.
func ClearScreen(w io.Writer) {
	fmt.Fprint(w, "\033[2J\033[1;1H")
}

// phaseColor picks the live line colour: purple while calibrating, cyan while
// measuring, blue when idle.
func phaseColor(p models.Phase) *color.Color {
	switch p {
	case models.Calibrating:
		return purple
	case models.Measuring:
		return cyan
	case models.Idle:
		return blue
	default:
		return red
	}
}

// LiveLine renders the one-line readout used by the console.
func LiveLine(st acquisition.Status) string {
	snap := st.Snapshot
	sb := &strings.Builder{}
	fmt.Fprintf(sb, "[%-12s] ", strings.ToUpper(st.Phase.String()))
	fmt.Fprintf(sb, "Voltage %.3f V  ", snap.Voltage)
	if st.BlankVoltage == nil {
		sb.WriteString("Absorbance  --.--- A  Transmittance --.- %")
	} else {
		fmt.Fprintf(sb, "Absorbance %.3f A  Transmittance %.1f %%", snap.Absorbance, snap.Transmittance)
	}
	if snap.Samples > 1 {
		fmt.Fprintf(sb, "  (n=%d mean %.3f sd %.4f)", snap.Samples, snap.MeanVoltage, snap.StdDevVoltage)
	}
	if st.Port != "" {
		fmt.Fprintf(sb, "  %s", st.Port)
	}
	return sb.String()
}

// PrintLiveLine repaints the live line in place (carriage return).
func PrintLiveLine(w io.Writer, st acquisition.Status) {
	_, _ = phaseColor(st.Phase).Fprintf(w, "\r%s                    ", LiveLine(st))
}
