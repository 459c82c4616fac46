// Package main provides a terminal client for the debug relay: it can tail
// the relay as an observer or stream stdin lines into it as a producer.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/spf13/pflag"

	"github.com/dgca/mini-app-debugger/internal/protocol"
)

const defaultAddr = "ws://localhost:3002/ws"

const usage = `usage: relay-cli <command> [flags]

commands:
  observe   print every event the relay fans out
  produce   send each stdin line as a console log entry
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var err error
	switch os.Args[1] {
	case "observe":
		err = observe(ctx, os.Args[2:], os.Stdout)
	case "produce":
		err = produce(ctx, os.Args[2:], os.Stdin)
	case "-h", "--help", "help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "relay-cli: %v\n", err)
		os.Exit(1)
	}
}

// endpointURL appends params to the relay address.
func endpointURL(addr string, params url.Values) (string, error) {
	u, err := url.Parse(addr)
	if err != nil {
		return "", fmt.Errorf("invalid address %q: %w", addr, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("invalid address %q: scheme must be ws or wss", addr)
	}
	q := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			if v != "" {
				q.Set(k, v)
			}
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// dial connects and closes the connection when ctx ends.
func dial(ctx context.Context, endpoint string, header http.Header) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, header)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	go func() {
		<-ctx.Done()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		conn.Close()
	}()
	return conn, nil
}

func observe(ctx context.Context, args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("observe", pflag.ContinueOnError)
	addr := fs.StringP("addr", "a", defaultAddr, "relay WebSocket address")
	session := fs.StringP("session", "s", "", "only print events of this session")
	raw := fs.Bool("raw", false, "print frames as received")
	if err := fs.Parse(args); err != nil {
		return err
	}

	endpoint, err := endpointURL(*addr, url.Values{"type": {"observer"}})
	if err != nil {
		return err
	}
	conn, err := dial(ctx, endpoint, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		if !matchesSession(data, *session) {
			continue
		}
		if *raw {
			fmt.Fprintln(out, string(data))
			continue
		}
		line, err := formatFrame(data)
		if err != nil {
			fmt.Fprintf(os.Stderr, "skipping frame: %v\n", err)
			continue
		}
		fmt.Fprintln(out, line)
	}
}

// matchesSession reports whether an event frame belongs to session. Frames
// without a session id always match.
func matchesSession(data []byte, session string) bool {
	if session == "" {
		return true
	}
	var f struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(data, &f); err != nil || f.SessionID == "" {
		return true
	}
	return f.SessionID == session
}

// logEnvelope is a producer console_log message.
type logEnvelope struct {
	Type string            `json:"type"`
	Data protocol.LogEntry `json:"data"`
}

func newLogEnvelope(level protocol.LogLevel, message string, now time.Time) logEnvelope {
	return logEnvelope{
		Type: protocol.TypeConsoleLog,
		Data: protocol.LogEntry{
			ID:        uuid.New().String(),
			Timestamp: now.UnixMilli(),
			Level:     level,
			Message:   message,
			Args:      []json.RawMessage{},
		},
	}
}

func produce(ctx context.Context, args []string, in io.Reader) error {
	fs := pflag.NewFlagSet("produce", pflag.ContinueOnError)
	addr := fs.StringP("addr", "a", defaultAddr, "relay WebSocket address")
	session := fs.StringP("session", "s", "", "session id (default: assigned by the relay)")
	appName := fs.String("app", "relay-cli", "app name shown to observers")
	origin := fs.String("origin", "", "Origin header to present")
	level := fs.StringP("level", "l", string(protocol.LevelLog), "console level: log, info, warn, error, debug")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !protocol.LogLevel(*level).Valid() {
		return fmt.Errorf("invalid level %q", *level)
	}

	endpoint, err := endpointURL(*addr, url.Values{
		"type":      {"producer"},
		"sessionId": {*session},
		"appName":   {*appName},
	})
	if err != nil {
		return err
	}
	header := http.Header{}
	if *origin != "" {
		header.Set("Origin", *origin)
	}
	conn, err := dial(ctx, endpoint, header)
	if err != nil {
		return err
	}
	defer conn.Close()

	// Keep reading so control frames are answered.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	lines, scanErr := scanLines(in)
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				if err := <-scanErr; err != nil {
					return err
				}
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
				return nil
			}
			if err := conn.WriteJSON(newLogEnvelope(protocol.LogLevel(*level), line, time.Now())); err != nil {
				return fmt.Errorf("write: %w", err)
			}
		}
	}
}

// scanLines streams the non-empty lines of r. The error channel receives
// the scanner result once lines is closed.
func scanLines(r io.Reader) (<-chan string, <-chan error) {
	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			line := strings.TrimRight(scanner.Text(), "\r")
			if line != "" {
				lines <- line
			}
		}
		errc <- scanner.Err()
	}()
	return lines, errc
}
