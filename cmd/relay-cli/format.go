package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/dgca/mini-app-debugger/internal/protocol"
)

var (
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	sessionStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	methodStyle  = lipgloss.NewStyle().Bold(true)
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))

	levelStyles = map[protocol.LogLevel]lipgloss.Style{
		protocol.LevelLog:   lipgloss.NewStyle(),
		protocol.LevelInfo:  lipgloss.NewStyle().Foreground(lipgloss.Color("4")),
		protocol.LevelWarn:  lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
		protocol.LevelError: lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
		protocol.LevelDebug: lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
	}
)

// formatFrame renders one outbound relay frame as a terminal line.
// Unknown frame types are printed verbatim.
func formatFrame(data []byte) (string, error) {
	var f protocol.Envelope
	if err := json.Unmarshal(data, &f); err != nil {
		return "", fmt.Errorf("invalid frame: %w", err)
	}

	switch f.Type {
	case protocol.TypeClientList:
		var sessions []protocol.Session
		if err := json.Unmarshal(f.Data, &sessions); err != nil {
			return "", fmt.Errorf("invalid client list: %w", err)
		}
		if len(sessions) == 0 {
			return dimStyle.Render("no producers connected"), nil
		}
		lines := make([]string, 0, len(sessions))
		for _, s := range sessions {
			lines = append(lines, formatSession("connected", s))
		}
		return strings.Join(lines, "\n"), nil

	case protocol.TypeClientConnected, protocol.TypeClientDisconnected:
		var s protocol.Session
		if err := json.Unmarshal(f.Data, &s); err != nil {
			return "", fmt.Errorf("invalid session: %w", err)
		}
		verb := "connected"
		if f.Type == protocol.TypeClientDisconnected {
			verb = "disconnected"
		}
		return formatSession(verb, s), nil

	case protocol.TypeConsoleLog:
		var e protocol.LogEntry
		if err := json.Unmarshal(f.Data, &e); err != nil {
			return "", fmt.Errorf("invalid log entry: %w", err)
		}
		return formatLog(f.SessionID, e), nil

	case protocol.TypeNetworkRequest:
		var e protocol.NetworkEntry
		if err := json.Unmarshal(f.Data, &e); err != nil {
			return "", fmt.Errorf("invalid network entry: %w", err)
		}
		return formatNetwork(f.SessionID, e), nil

	default:
		return string(data), nil
	}
}

func formatSession(verb string, s protocol.Session) string {
	name := s.SessionID
	if s.AppName != "" {
		name = s.AppName + " (" + s.SessionID + ")"
	}
	return dimStyle.Render("-- "+verb+": ") + sessionStyle.Render(name) + dimStyle.Render(" "+s.Origin)
}

func formatLog(sessionID string, e protocol.LogEntry) string {
	style, ok := levelStyles[e.Level]
	if !ok {
		style = lipgloss.NewStyle()
	}

	var b strings.Builder
	b.WriteString(dimStyle.Render(clock(e.Timestamp)))
	b.WriteString(" ")
	b.WriteString(sessionStyle.Render(short(sessionID)))
	b.WriteString(" ")
	b.WriteString(style.Render(fmt.Sprintf("%-5s", strings.ToUpper(string(e.Level)))))
	b.WriteString(" ")
	b.WriteString(e.Message)
	for _, arg := range e.Args {
		b.WriteString(" ")
		b.Write(arg)
	}
	if e.Source != nil && e.Source.File != "" {
		b.WriteString(dimStyle.Render(fmt.Sprintf(" (%s:%d)", e.Source.File, e.Source.Line)))
	}
	return b.String()
}

func formatNetwork(sessionID string, e protocol.NetworkEntry) string {
	status := e.Status()
	statusStyle := okStyle
	if e.Error != "" || (e.Response != nil && e.Response.Status >= 400) {
		statusStyle = failStyle
	}

	line := dimStyle.Render(clock(e.Timestamp)) + " " +
		sessionStyle.Render(short(sessionID)) + " " +
		methodStyle.Render(e.Method) + " " + e.URL + " " +
		statusStyle.Render(status)
	if e.Duration != nil {
		line += dimStyle.Render(fmt.Sprintf(" %.0fms", *e.Duration))
	}
	if e.Error != "" {
		line += " " + failStyle.Render(e.Error)
	}
	return line
}

func clock(ms int64) string {
	return time.UnixMilli(ms).Format("15:04:05.000")
}

// short trims generated session ids for display.
func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
