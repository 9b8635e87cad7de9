package client

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fenggwsx/RoomChat/internal/auth"
	"github.com/fenggwsx/RoomChat/internal/config"
	"github.com/fenggwsx/RoomChat/internal/protocol"
)

// App implements the bubbletea tea.Model interface for the terminal client.
type App struct {
	cfg      config.ClientConfig
	session  *Session
	identity identity

	input      textinput.Model
	viewport   viewport.Model
	helper     help.Model
	helpView   string
	width      int
	height     int

	view         viewKind
	room         string
	rooms        map[string]*roomState
	pipeHistory  []pipeEntry
	pending      map[string]pendingRequest
	logLine      logLine
	statusOnline bool
	serverURL    string
	commands     []commandSpec
	styles       styleSet
}

type identity struct {
	userID string
	role   protocol.Role
}

type roomState struct {
	history []string
	online  map[string]struct{}
}

type pendingRequest struct {
	event protocol.EventName
	room  string
}

type viewKind int

const (
	viewChat viewKind = iota
	viewHelp
	viewPipe
)

func (v viewKind) String() string {
	switch v {
	case viewHelp:
		return "help"
	case viewPipe:
		return "pipe"
	default:
		return "chat"
	}
}

type logLevel int

const (
	logLevelInfo logLevel = iota
	logLevelError
)

type logLine struct {
	label string
	body  string
	level logLevel
}

type pipeDirection string

const (
	pipeDirectionIn  pipeDirection = "IN"
	pipeDirectionOut pipeDirection = "OUT"
)

type pipeEntry struct {
	timestamp time.Time
	direction pipeDirection
	event     string
	body      string
}

type styleSet struct {
	title         lipgloss.Style
	view          lipgloss.Style
	statusOnline  lipgloss.Style
	statusOffline lipgloss.Style
	label         lipgloss.Style
	value         lipgloss.Style
	logLabel      lipgloss.Style
	logBody       lipgloss.Style
	logLabelError lipgloss.Style
	logBodyError  lipgloss.Style
	help          lipgloss.Style
	room          lipgloss.Style
	activeRoom    lipgloss.Style
}

type connectResultMsg struct {
	URL     string
	Session *Session
	Err     error
}

type envelopeMsg struct {
	Session  *Session
	Envelope protocol.Envelope
}

type sessionClosedMsg struct {
	Session *Session
}

type sendResultMsg struct {
	ID      string
	Event   protocol.EventName
	Room    string
	Frame   []byte
	Err     error
	Session *Session
}

const (
	connectTimeout = 5 * time.Second
	sendTimeout    = 5 * time.Second
	maxPipeEntries = 200
)

// NewApp returns a Bubble Tea model pre-populated with defaults.
func NewApp(cfg config.ClientConfig) *App {
	input := textinput.New()
	input.Prompt = "> "
	input.Placeholder = "Type a message or /help"
	input.CharLimit = 4096
	input.Focus()

	app := &App{
		cfg:       cfg,
		input:     input,
		viewport:  viewport.New(0, 0),
		helper:    help.New(),
		view:      viewChat,
		room:      "-",
		rooms:     make(map[string]*roomState),
		pending:   make(map[string]pendingRequest),
		serverURL: cfg.ServerURL,
		commands:  buildCommands(cfg.CommandPrefix),
		styles:    buildStyles(),
	}
	app.identity = peekIdentity(cfg.Token)
	app.logf("Use %sconnect to reach %s", string(cfg.CommandPrefix), cfg.ServerURL)
	app.updateViewportContent()
	return app
}

func peekIdentity(token string) identity {
	if token == "" {
		return identity{}
	}
	claims, err := auth.PeekClaims(token)
	if err != nil {
		return identity{}
	}
	return identity{userID: claims.UserID, role: claims.Role}
}

// Init is part of the tea.Model interface.
func (a *App) Init() tea.Cmd {
	return textinput.Blink
}

// Update handles user input and internal events.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch m := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = m.Width
		a.height = m.Height
		a.updateHelp()
		a.layout()
		a.updateViewportContent()
		return a, nil
	case tea.KeyMsg:
		switch m.Type {
		case tea.KeyCtrlC:
			return a, a.quit()
		case tea.KeyTab:
			a.handleTabCompletion()
			a.updateHelp()
			a.layout()
			return a, nil
		case tea.KeyEnter:
			value := strings.TrimSpace(a.input.Value())
			a.input.Reset()
			a.updateHelp()
			a.layout()
			if value == "" {
				return a, nil
			}
			return a, a.handleSubmit(value)
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			a.viewport, cmd = a.viewport.Update(m)
			return a, cmd
		}
	case connectResultMsg:
		return a, a.handleConnectResult(m)
	case envelopeMsg:
		if m.Session != a.session || a.session == nil {
			return a, nil
		}
		a.handleSessionEnvelope(m.Envelope)
		return a, listenForMessages(a.session)
	case sessionClosedMsg:
		if m.Session == a.session && a.session != nil {
			a.session = nil
			a.statusOnline = false
			a.resetRooms()
			a.logErrorf("Connection closed")
		}
		return a, nil
	case sendResultMsg:
		a.handleSendResult(m)
		return a, nil
	}

	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	cmds = append(cmds, cmd)
	a.updateHelp()
	a.layout()
	return a, tea.Batch(cmds...)
}

func (a *App) handleConnectResult(msg connectResultMsg) tea.Cmd {
	if msg.Err != nil {
		a.logErrorf("Connection to %s failed: %v", msg.URL, msg.Err)
		return nil
	}
	if a.session != nil {
		_ = a.session.Close()
	}
	a.session = msg.Session
	a.serverURL = msg.URL
	a.statusOnline = true
	a.pending = make(map[string]pendingRequest)
	a.resetRooms()
	a.logf("Connected to %s", msg.URL)
	return listenForMessages(a.session)
}

func (a *App) handleSendResult(msg sendResultMsg) {
	if msg.Err != nil {
		a.logErrorf("Failed to send %s: %v", msg.Event, msg.Err)
		return
	}
	if msg.Session == a.session {
		a.pending[msg.ID] = pendingRequest{event: msg.Event, room: msg.Room}
	}
	a.appendPipeEntry(pipeDirectionOut, string(msg.Event), msg.Frame)
}

func (a *App) quit() tea.Cmd {
	if a.session != nil {
		_ = a.session.Close()
		a.session = nil
	}
	return tea.Quit
}

func (a *App) roomState(room string) *roomState {
	state, ok := a.rooms[room]
	if !ok {
		state = &roomState{online: make(map[string]struct{})}
		a.rooms[room] = state
	}
	return state
}

// resetRooms forgets memberships, which the server drops with the connection.
func (a *App) resetRooms() {
	a.rooms = make(map[string]*roomState)
	a.room = "-"
	a.updateViewportContent()
}

func (a *App) hasActiveRoom() bool {
	room := strings.TrimSpace(a.room)
	return room != "" && room != "-"
}

func (a *App) logf(format string, args ...any) {
	a.logLine = logLine{label: "INFO", body: fmt.Sprintf(format, args...), level: logLevelInfo}
}

func (a *App) logErrorf(format string, args ...any) {
	a.logLine = logLine{label: "ERROR", body: fmt.Sprintf(format, args...), level: logLevelError}
}

func listenForMessages(session *Session) tea.Cmd {
	if session == nil {
		return nil
	}
	ch := session.Messages()
	return func() tea.Msg {
		env, ok := <-ch
		if !ok {
			return sessionClosedMsg{Session: session}
		}
		return envelopeMsg{Session: session, Envelope: env}
	}
}
