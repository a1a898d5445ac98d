// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux provides terminal output styling for the htn CLI.
package ux

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Aleutian color palette
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7")
	ColorTealPrimary = lipgloss.Color("#20B9B4")
	ColorTealDeep    = lipgloss.Color("#16858E")
	ColorSlate       = lipgloss.Color("#2C4A54")

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Level controls how rich the output is.
type Level string

const (
	// LevelFull uses colors, icons and boxes.
	LevelFull Level = "full"

	// LevelMinimal uses icons only.
	LevelMinimal Level = "minimal"

	// LevelMachine prints plain prefixed lines for scripts.
	LevelMachine Level = "machine"
)

// ParseLevel maps a flag or HTN_OUTPUT value to a Level. Unknown values
// mean LevelFull.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "minimal":
		return LevelMinimal
	case "machine", "plain":
		return LevelMachine
	default:
		return LevelFull
	}
}

// DetectLevel picks the level for f: HTN_OUTPUT wins, otherwise a
// non-terminal gets LevelMachine.
func DetectLevel(f *os.File) Level {
	if v := os.Getenv("HTN_OUTPUT"); v != "" {
		return ParseLevel(v)
	}
	if !IsTerminal(f) {
		return LevelMachine
	}
	return LevelFull
}

// IsTerminal reports whether f is a terminal.
func IsTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Icon is a status glyph.
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconPending Icon = "○"
	IconArrow   Icon = "→"
	IconBullet  Icon = "•"
)

// Styles are the pre-configured styles of one Printer.
type Styles struct {
	Title     lipgloss.Style
	Subtitle  lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style
	Box       lipgloss.Style
	ErrorBox  lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) Styles {
	return Styles{
		Title:     r.NewStyle().Bold(true).Foreground(ColorTealBright),
		Subtitle:  r.NewStyle().Foreground(ColorTealPrimary),
		Bold:      r.NewStyle().Bold(true),
		Muted:     r.NewStyle().Foreground(ColorSlate),
		Success:   r.NewStyle().Foreground(ColorSuccess),
		Warning:   r.NewStyle().Foreground(ColorWarning),
		Error:     r.NewStyle().Foreground(ColorError),
		Highlight: r.NewStyle().Foreground(ColorTealBright).Bold(true),
		Box: r.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorTealDeep).
			Padding(0, 1),
		ErrorBox: r.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorError).
			Padding(0, 1),
	}
}

// Printer writes styled output to one writer. Color support is detected
// for that writer, so a buffer or pipe gets no escape codes.
type Printer struct {
	w      io.Writer
	level  Level
	Styles Styles
}

// NewPrinter returns a printer for w at level.
func NewPrinter(w io.Writer, level Level) *Printer {
	return &Printer{w: w, level: level, Styles: newStyles(lipgloss.NewRenderer(w))}
}

// Level returns the printer's level.
func (p *Printer) Level() Level { return p.level }

// Machine reports whether output is for scripts.
func (p *Printer) Machine() bool { return p.level == LevelMachine }

// Writer returns the underlying writer.
func (p *Printer) Writer() io.Writer { return p.w }

func (p *Printer) icon(i Icon) string {
	switch i {
	case IconSuccess:
		return p.Styles.Success.Render(string(i))
	case IconWarning:
		return p.Styles.Warning.Render(string(i))
	case IconError:
		return p.Styles.Error.Render(string(i))
	case IconPending:
		return p.Styles.Muted.Render(string(i))
	default:
		return string(i)
	}
}

// Title prints a styled title. Machine output skips it.
func (p *Printer) Title(text string) {
	if p.Machine() {
		return
	}
	fmt.Fprintln(p.w, p.Styles.Title.Render(text))
}

// Success prints a success line.
func (p *Printer) Success(text string) {
	p.status("OK", IconSuccess, p.Styles.Success, text)
}

// Warning prints a warning line.
func (p *Printer) Warning(text string) {
	p.status("WARN", IconWarning, p.Styles.Warning, text)
}

// Error prints an error line.
func (p *Printer) Error(text string) {
	p.status("ERROR", IconError, p.Styles.Error, text)
}

func (p *Printer) status(prefix string, i Icon, style lipgloss.Style, text string) {
	switch p.level {
	case LevelMachine:
		fmt.Fprintf(p.w, "%s: %s\n", prefix, text)
	case LevelMinimal:
		fmt.Fprintf(p.w, "%s %s\n", i, text)
	default:
		fmt.Fprintf(p.w, "%s %s\n", p.icon(i), style.Render(text))
	}
}

// Info prints an informational line.
func (p *Printer) Info(text string) {
	if p.Machine() {
		fmt.Fprintln(p.w, text)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", p.Styles.Muted.Render("│"), text)
}

// Muted prints secondary text. Machine output skips it.
func (p *Printer) Muted(text string) {
	if p.Machine() {
		return
	}
	fmt.Fprintln(p.w, p.Styles.Muted.Render(text))
}

// Item prints one numbered list entry.
func (p *Printer) Item(n int, text string) {
	if p.Machine() {
		fmt.Fprintf(p.w, "%d\t%s\n", n, text)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", p.Styles.Subtitle.Render(fmt.Sprintf("%3d.", n)), text)
}

// KeyValue prints aligned "key: value" pairs.
func (p *Printer) KeyValue(pairs ...[2]string) {
	width := 0
	for _, kv := range pairs {
		width = max(width, len(kv[0]))
	}
	for _, kv := range pairs {
		if p.Machine() {
			fmt.Fprintf(p.w, "%s=%s\n", kv[0], kv[1])
			continue
		}
		key := p.Styles.Muted.Render(fmt.Sprintf("%-*s", width, kv[0]))
		fmt.Fprintf(p.w, "%s  %s\n", key, kv[1])
	}
}

// Box prints content in a rounded box under title.
func (p *Printer) Box(title, content string) {
	if p.level != LevelFull {
		fmt.Fprintf(p.w, "%s: %s\n", title, content)
		return
	}
	fmt.Fprintln(p.w, p.Styles.Box.Render(p.Styles.Title.Render(title)+"\n"+content))
}

// ErrorBox prints content in an error-styled box under title.
func (p *Printer) ErrorBox(title, content string) {
	if p.level != LevelFull {
		fmt.Fprintf(p.w, "ERROR %s: %s\n", title, content)
		return
	}
	fmt.Fprintln(p.w, p.Styles.ErrorBox.Render(p.Styles.Error.Bold(true).Render(title)+"\n"+content))
}
