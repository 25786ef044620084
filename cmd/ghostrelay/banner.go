package main

import (
	"io"
	"strconv"

	"github.com/fatih/color"

	"github.com/luciancaetano/ghostrelay/internal/config"
)

var (
	titleColor = color.New(color.FgCyan, color.Bold)
	labelColor = color.New(color.FgWhite)
	onColor    = color.New(color.FgGreen)
	offColor   = color.New(color.FgRed)
	valueColor = color.New(color.FgYellow)
)

// printBanner prints the effective configuration at startup
func printBanner(w io.Writer, o config.Options) {
	titleColor.Fprintf(w, "ghostrelay v%s listening on port %d\n", version, o.Port)

	row := func(label string, c *color.Color, value string) {
		labelColor.Fprintf(w, "  %-14s", label)
		c.Fprintln(w, value)
	}

	row("Mirror", toggleColor(o.Mirror), toggle(o.Mirror))
	row("Max players", valueColor, strconv.Itoa(o.MaxPlayers))
	if o.MaxRate == 0 {
		row("Max byte rate", offColor, "unlimited")
	} else {
		row("Max byte rate", valueColor, strconv.FormatUint(uint64(o.MaxRate), 10))
	}
	row("Debug logging", toggleColor(o.Debug), toggle(o.Debug))
	if o.WSPort != 0 {
		row("WebSocket", valueColor, "port "+strconv.Itoa(int(o.WSPort)))
	}
}

func toggle(b bool) string {
	if b {
		return "enabled"
	}
	return "disabled"
}

func toggleColor(b bool) *color.Color {
	if b {
		return onColor
	}
	return offColor
}
