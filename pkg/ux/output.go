// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux provides terminal output styling for the review CLI.
package ux

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Color palette - deep ocean teals
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7") // highlights, success
	ColorTealPrimary = lipgloss.Color("#20B9B4") // main brand color
	ColorTealDeep    = lipgloss.Color("#16858E") // borders, accents
	ColorSlate       = lipgloss.Color("#2C4A54") // muted text

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles provides pre-configured lipgloss styles
var Styles = struct {
	Title     lipgloss.Style
	Subtitle  lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style

	Box      lipgloss.Style
	ErrorBox lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Subtitle:  lipgloss.NewStyle().Foreground(ColorTealPrimary),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorSlate),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorTealBright).Bold(true),

	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),
	ErrorBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorError).
		Padding(0, 1),
}

// Icon provides themed status icons
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconPending Icon = "○"
	IconArrow   Icon = "→"
	IconBullet  Icon = "•"
)

// Render returns the icon with appropriate styling
func (i Icon) Render() string {
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	case IconPending:
		return Styles.Muted.Render(string(i))
	default:
		return string(i)
	}
}

// Level defines the richness of CLI output.
type Level string

const (
	// LevelFull enables colors, icons and boxes.
	LevelFull Level = "full"

	// LevelMinimal uses icons and basic formatting only.
	LevelMinimal Level = "minimal"

	// LevelMachine outputs plain text suitable for scripting.
	LevelMachine Level = "machine"
)

// ParseLevel converts a string to a Level. Unknown values map to full.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "minimal", "min", "m":
		return LevelMinimal
	case "machine", "quiet", "q", "plain":
		return LevelMachine
	default:
		return LevelFull
	}
}

// DetectLevel picks the output level for f. REVIEW_OUTPUT overrides the
// detection; anything that is not a terminal gets LevelMachine.
func DetectLevel(f *os.File) Level {
	if env := os.Getenv("REVIEW_OUTPUT"); env != "" {
		return ParseLevel(env)
	}
	if f == nil {
		return LevelMachine
	}
	if !isatty.IsTerminal(f.Fd()) && !isatty.IsCygwinTerminal(f.Fd()) {
		return LevelMachine
	}
	return LevelFull
}

// Printer writes styled messages at a fixed level.
//
// Thread Safety: Safe for concurrent use; writes are serialized.
type Printer struct {
	mu    sync.Mutex
	w     io.Writer
	level Level
}

// NewPrinter creates a printer writing to w.
func NewPrinter(w io.Writer, level Level) *Printer {
	return &Printer{w: w, level: level}
}

// Stdout returns a printer for os.Stdout at the detected level.
func Stdout() *Printer {
	return NewPrinter(os.Stdout, DetectLevel(os.Stdout))
}

// Level returns the printer's output level.
func (p *Printer) Level() Level {
	return p.level
}

func (p *Printer) println(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, s)
}

// Title prints a styled title. Machine output omits it.
func (p *Printer) Title(text string) {
	if p.level == LevelMachine {
		return
	}
	p.println(Styles.Title.Render(text))
}

func (p *Printer) status(icon Icon, prefix string, style lipgloss.Style, text string) {
	switch p.level {
	case LevelMachine:
		p.println(prefix + text)
	case LevelMinimal:
		p.println(fmt.Sprintf("%s %s", icon, text))
	default:
		p.println(fmt.Sprintf("%s %s", icon.Render(), style.Render(text)))
	}
}

// Success prints a success message with a checkmark.
func (p *Printer) Success(text string) { p.status(IconSuccess, "OK: ", Styles.Success, text) }

// Warning prints a warning message.
func (p *Printer) Warning(text string) { p.status(IconWarning, "WARN: ", Styles.Warning, text) }

// Error prints an error message.
func (p *Printer) Error(text string) { p.status(IconError, "ERROR: ", Styles.Error, text) }

// Info prints an informational message.
func (p *Printer) Info(text string) {
	if p.level == LevelMachine {
		p.println(text)
		return
	}
	p.println(fmt.Sprintf("%s %s", Styles.Muted.Render("│"), text))
}

// KeyValue prints an aligned key/value line.
func (p *Printer) KeyValue(key, value string) {
	if p.level == LevelMachine {
		p.println(fmt.Sprintf("%s=%s", strings.ToLower(strings.ReplaceAll(key, " ", "_")), value))
		return
	}
	p.println(fmt.Sprintf("  %s %s", Styles.Muted.Render(fmt.Sprintf("%-14s", key+":")), value))
}

// Box prints text in a rounded box.
func (p *Printer) Box(title, content string) {
	if p.level != LevelFull {
		if title != "" {
			p.println(title)
		}
		p.println(content)
		return
	}
	body := content
	if title != "" {
		body = Styles.Title.Render(title) + "\n" + content
	}
	p.println(Styles.Box.Render(body))
}
