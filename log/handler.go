// Copyright 2024 The go-oslo Authors
// This file is part of the go-oslo library.
//
// The go-oslo library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-oslo library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-oslo library. If not, see <http://www.gnu.org/licenses/>.

package log

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
	"golang.org/x/exp/slog"
)

// nowFunc is swapped out in tests that need deterministic record times.
var nowFunc = time.Now

const termTimeFormat = "01-02|15:04:05.000"

// TerminalStringer is implemented by types that want a custom compact
// representation on the console, distinct from their String method.
type TerminalStringer interface {
	TerminalString() string
}

// TerminalHandler formats records for human readability on a terminal,
// colorizing the level when the writer is a tty.
type TerminalHandler struct {
	mu       sync.Mutex
	wr       io.Writer
	lvl      slog.Level
	useColor bool
	attrs    []slog.Attr
}

// NewTerminalHandler returns a handler which writes terminal-friendly output
// to wr at lvl and above. Color is enabled when wr is a terminal.
func NewTerminalHandler(wr io.Writer, lvl slog.Level) *TerminalHandler {
	useColor := false
	if f, ok := wr.(*os.File); ok {
		useColor = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &TerminalHandler{wr: wr, lvl: lvl, useColor: useColor}
}

func (h *TerminalHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.lvl
}

func (h *TerminalHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	color := ""
	switch r.Level {
	case LevelCrit:
		color = "\x1b[35m"
	case slog.LevelError:
		color = "\x1b[31m"
	case slog.LevelWarn:
		color = "\x1b[33m"
	case slog.LevelInfo:
		color = "\x1b[32m"
	case slog.LevelDebug:
		color = "\x1b[36m"
	case LevelTrace:
		color = "\x1b[34m"
	}
	lvl := levelString(r.Level)
	if h.useColor && color != "" {
		fmt.Fprintf(h.wr, "%s%s\x1b[0m[%s] %-40s", color, lvl, r.Time.Format(termTimeFormat), r.Message)
	} else {
		fmt.Fprintf(h.wr, "%s[%s] %-40s", lvl, r.Time.Format(termTimeFormat), r.Message)
	}
	for _, attr := range h.attrs {
		writeAttr(h.wr, attr)
	}
	r.Attrs(func(attr slog.Attr) bool {
		writeAttr(h.wr, attr)
		return true
	})
	fmt.Fprintln(h.wr)
	return nil
}

func writeAttr(wr io.Writer, attr slog.Attr) {
	val := attr.Value.Any()
	if ts, ok := val.(TerminalStringer); ok {
		fmt.Fprintf(wr, " %s=%s", attr.Key, ts.TerminalString())
		return
	}
	fmt.Fprintf(wr, " %s=%v", attr.Key, attr.Value)
}

func (h *TerminalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &TerminalHandler{wr: h.wr, lvl: h.lvl, useColor: h.useColor, attrs: merged}
}

func (h *TerminalHandler) WithGroup(name string) slog.Handler {
	// Groups are not used by the node's key-value call sites.
	return h
}

func levelString(l slog.Level) string {
	switch {
	case l >= LevelCrit:
		return "CRIT "
	case l >= slog.LevelError:
		return "ERROR"
	case l >= slog.LevelWarn:
		return "WARN "
	case l >= slog.LevelInfo:
		return "INFO "
	case l >= slog.LevelDebug:
		return "DEBUG"
	default:
		return "TRACE"
	}
}

// DiscardHandler reports success for all writes without doing anything.
type DiscardHandler struct{}

func (DiscardHandler) Enabled(context.Context, slog.Level) bool   { return false }
func (DiscardHandler) Handle(context.Context, slog.Record) error  { return nil }
func (d DiscardHandler) WithAttrs(attrs []slog.Attr) slog.Handler { return d }
func (d DiscardHandler) WithGroup(name string) slog.Handler       { return d }
