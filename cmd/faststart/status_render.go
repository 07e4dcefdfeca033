package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"faststart/internal/registry"
)

// statusKind selects the tag and color of a status line.
type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

const (
	statusLabelWidth = 20
	statusIndent     = "  "
)

var statusPalette = map[statusKind]struct{ tag, color string }{
	statusInfo:  {"INFO", ansiBlue},
	statusOK:    {"OK", ansiGreen},
	statusWarn:  {"WARN", ansiYellow},
	statusError: {"ERROR", ansiRed},
}

func (k statusKind) tag() string {
	if p, ok := statusPalette[k]; ok {
		return p.tag
	}
	return statusPalette[statusInfo].tag
}

func (k statusKind) paint(text string, colorize bool) string {
	p, ok := statusPalette[k]
	if !colorize || !ok {
		return text
	}
	return p.color + text + ansiReset
}

// renderStatusLine prints "  Label:  [TAG] message" with the label padded so
// values line up across a section.
func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	value := "[" + kind.tag() + "]"
	if message != "" {
		value += " " + message
	}
	line := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", value)
	return kind.paint(line, colorize)
}

// entryStatusKind maps a file status onto the status line palette.
func entryStatusKind(status string) statusKind {
	switch registry.Status(status) {
	case registry.StatusOptimized:
		return statusOK
	case registry.StatusUnoptimized:
		return statusWarn
	case registry.StatusError:
		return statusError
	default:
		return statusInfo
	}
}

func colorizeText(text string, kind statusKind, colorize bool) string {
	return kind.paint(text, colorize)
}

func renderSectionHeader(title string, colorize bool) []string {
	line := "== " + strings.TrimSpace(title) + " =="
	return []string{
		statusInfo.paint(line, colorize),
		statusInfo.paint(strings.Repeat("-", len(line)), colorize),
	}
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
