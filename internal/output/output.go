// Package output provides consistent CLI output for searchidx.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// Output formats accepted by ResolveFormat.
const (
	FormatAuto = "auto"
	FormatText = "text"
	FormatJSON = "json"
)

const (
	ansiReset = "\x1b[0m"
	ansiBold  = "\x1b[1m"
	ansiDim   = "\x1b[2m"
	ansiRed   = "\x1b[31m"
	ansiGreen = "\x1b[32m"
)

// Writer provides formatted output for the CLI.
type Writer struct {
	out      io.Writer
	useColor bool
}

// New creates a Writer. Color is used only when out is a terminal and
// NO_COLOR is unset.
func New(out io.Writer) *Writer {
	return &Writer{
		out:      out,
		useColor: IsTTY(out) && !DetectNoColor(),
	}
}

// IsTTY checks if w is a terminal.
func IsTTY(w io.Writer) bool {
	if w == nil {
		return false
	}
	if f, ok := w.(*os.File); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return false
}

// DetectNoColor checks if the NO_COLOR environment variable is set.
func DetectNoColor() bool {
	_, exists := os.LookupEnv("NO_COLOR")
	return exists
}

// ResolveFormat turns a --format value into text or json. auto (or empty)
// picks text for terminals and json for pipes.
func ResolveFormat(format string, w io.Writer) (string, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatAuto:
		if IsTTY(w) {
			return FormatText, nil
		}
		return FormatJSON, nil
	case FormatText:
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unknown format %q (want auto, text or json)", format)
	}
}

func (w *Writer) paint(code, s string) string {
	if !w.useColor {
		return s
	}
	return code + s + ansiReset
}

// Status prints a status message with an icon.
// Errors from writing are intentionally ignored for console output.
func (w *Writer) Status(icon, msg string) {
	if icon != "" {
		_, _ = fmt.Fprintf(w.out, "%s %s\n", icon, msg)
	} else {
		_, _ = fmt.Fprintf(w.out, "   %s\n", msg)
	}
}

// Statusf prints a formatted status message with an icon.
func (w *Writer) Statusf(icon, format string, args ...any) {
	w.Status(icon, fmt.Sprintf(format, args...))
}

// Success prints a success message with checkmark.
func (w *Writer) Success(msg string) {
	w.Status(w.paint(ansiGreen, "✅"), msg)
}

// Successf prints a formatted success message.
func (w *Writer) Successf(format string, args ...any) {
	w.Success(fmt.Sprintf(format, args...))
}

// Warning prints a warning message.
func (w *Writer) Warning(msg string) {
	w.Status("⚠️ ", msg)
}

// Warningf prints a formatted warning message.
func (w *Writer) Warningf(format string, args ...any) {
	w.Warning(fmt.Sprintf(format, args...))
}

// Error prints an error message.
func (w *Writer) Error(msg string) {
	w.Status(w.paint(ansiRed, "❌"), msg)
}

// Errorf prints a formatted error message.
func (w *Writer) Errorf(format string, args ...any) {
	w.Error(fmt.Sprintf(format, args...))
}

// Heading prints a bold line followed by a blank line.
func (w *Writer) Heading(msg string) {
	_, _ = fmt.Fprintln(w.out, w.paint(ansiBold, msg))
	_, _ = fmt.Fprintln(w.out)
}

// Passage prints one ranked passage: rank, score, source and a snippet of
// at most maxRunes runes.
func (w *Writer) Passage(rank int, score float64, url, text string, maxRunes int) {
	_, _ = fmt.Fprintf(w.out, "%d. %s %s\n", rank, w.paint(ansiBold, url), w.paint(ansiDim, fmt.Sprintf("(%.4f)", score)))
	_, _ = fmt.Fprintf(w.out, "   %s\n\n", Snippet(text, maxRunes))
}

// Newline prints an empty line.
func (w *Writer) Newline() {
	_, _ = fmt.Fprintln(w.out)
}

// Snippet shortens text to maxRunes runes, ending in "..." when cut.
// maxRunes <= 0 returns text unchanged.
func Snippet(text string, maxRunes int) string {
	if maxRunes <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= maxRunes {
		return text
	}
	return strings.TrimSpace(string(runes[:maxRunes])) + "..."
}
