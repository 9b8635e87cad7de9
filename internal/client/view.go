package client

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/lipgloss"
	figure "github.com/common-nighthawk/go-figure"
	"github.com/mattn/go-runewidth"
)

const minWrapWidth = 10

var homeContent = buildHomeContent()

func (a *App) View() string {
	sections := []string{a.viewport.View()}
	if a.helpView != "" {
		sections = append(sections, a.styles.help.Render(a.helpView))
	}
	sections = append(sections, a.input.View(), a.logLineView(), a.statusLine())
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (a *App) updateViewportContent() {
	switch a.view {
	case viewHelp:
		a.viewport.SetContent(a.helpContent())
		return
	case viewPipe:
		a.viewport.SetContent(a.pipeContent())
	default:
		a.viewport.SetContent(a.chatContent())
	}
	a.viewport.GotoBottom()
}

func (a *App) contentWidth() int {
	if a.viewport.Width > 0 {
		return a.viewport.Width
	}
	return a.width
}

func (a *App) chatContent() string {
	if !a.hasActiveRoom() {
		return homeContent
	}
	tabs := a.roomTabs()
	history := a.roomState(a.room).history
	if len(history) == 0 {
		return tabs + "\n\nNo messages in " + a.room + " yet. Type and press Enter to send."
	}
	return tabs + "\n\n" + strings.Join(wrapLines(history, a.contentWidth()), "\n")
}

// roomTabs renders the joined rooms with the active one highlighted.
func (a *App) roomTabs() string {
	rooms := a.joinedRooms()
	tabs := make([]string, 0, len(rooms))
	for _, room := range rooms {
		label := fmt.Sprintf(" %s (%d) ", room, len(a.rooms[room].online))
		if room == a.room {
			tabs = append(tabs, a.styles.activeRoom.Render(label))
			continue
		}
		tabs = append(tabs, a.styles.room.Render(label))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, tabs...)
}

func (a *App) pipeContent() string {
	if len(a.pipeHistory) == 0 {
		return "No websocket frames captured yet."
	}
	width := a.contentWidth()
	rows := make([]string, 0, len(a.pipeHistory))
	for _, entry := range a.pipeHistory {
		arrow := "<-"
		if entry.direction == pipeDirectionOut {
			arrow = "->"
		}
		head := fmt.Sprintf("%s %s %-11s ", entry.timestamp.Format("15:04:05.000"), arrow, entry.event)
		body := entry.body
		if width > 0 {
			body = runewidth.Truncate(body, max(width-runewidth.StringWidth(head), minWrapWidth), "…")
		}
		rows = append(rows, a.styles.label.Render(head)+body)
	}
	return strings.Join(rows, "\n")
}

func (a *App) helpContent() string {
	rows := []string{a.styles.title.Render("RoomChat commands"), ""}
	for _, c := range a.commands {
		rows = append(rows, fmt.Sprintf("%-18s %s", c.usage, c.description))
	}
	rows = append(rows, "", "Anything else is sent to the active room.")
	return strings.Join(rows, "\n")
}

// layout sizes the input and gives the viewport whatever height is left.
func (a *App) layout() {
	width := a.width
	if width <= 0 {
		width = 60
	}
	a.input.Width = max(width-lipgloss.Width(a.input.Prompt)-1, minWrapWidth)
	if a.height == 0 {
		return
	}
	const chrome = 3
	reserved := chrome
	if a.helpView != "" {
		reserved += lipgloss.Height(a.helpView)
	}
	a.viewport.Width = a.width
	a.viewport.Height = max(a.height-reserved, 3)
}

// updateHelp shows the commands matching the word being typed.
func (a *App) updateHelp() {
	a.helpView = ""
	value := a.input.Value()
	if !strings.HasPrefix(value, string(a.cfg.CommandPrefix)) {
		return
	}
	word, _, _ := strings.Cut(value, " ")
	keys := commandKeyMap{}
	for _, c := range a.commands {
		if strings.HasPrefix(c.trigger, strings.ToLower(word)) {
			keys = append(keys, key.NewBinding(key.WithKeys(c.trigger), key.WithHelp(c.usage, c.description)))
		}
	}
	if len(keys) == 0 {
		return
	}
	a.helper.Width = a.width
	a.helpView = strings.TrimRight(a.helper.View(keys), "\n")
}

func (a *App) statusLine() string {
	state, stateStyle := "OFFLINE", a.styles.statusOffline
	if a.statusOnline {
		state, stateStyle = "ONLINE", a.styles.statusOnline
	}
	field := func(label, value string) string {
		return a.styles.label.Render(label+":") + " " + a.styles.value.Render(value)
	}
	return strings.Join([]string{
		a.styles.title.Render("RoomChat"),
		a.styles.view.Render(strings.ToUpper(a.view.String())),
		stateStyle.Render(state),
		field("Server", a.serverURL),
		field("User", a.userLabel()),
		field("Room", a.room),
	}, " | ")
}

func (a *App) userLabel() string {
	if a.identity.userID == "" {
		return "-"
	}
	return a.identity.userID + "/" + string(a.identity.role)
}

func (a *App) logLineView() string {
	label, body := a.styles.logLabel, a.styles.logBody
	if a.logLine.level == logLevelError {
		label, body = a.styles.logLabelError, a.styles.logBodyError
	}
	return label.Render(a.logLine.label) + " " + body.Render(a.logLine.body)
}

func (a *App) appendPipeEntry(direction pipeDirection, event string, body []byte) {
	a.pipeHistory = append(a.pipeHistory, pipeEntry{
		timestamp: time.Now(),
		direction: direction,
		event:     event,
		body:      string(body),
	})
	if over := len(a.pipeHistory) - maxPipeEntries; over > 0 {
		a.pipeHistory = a.pipeHistory[over:]
	}
	if a.view == viewPipe {
		a.updateViewportContent()
	}
}

func buildStyles() styleSet {
	base := lipgloss.NewStyle()
	return styleSet{
		title:         base.Foreground(lipgloss.Color("10")).Bold(true),
		view:          base.Foreground(lipgloss.Color("14")).Bold(true),
		statusOnline:  base.Foreground(lipgloss.Color("10")).Bold(true),
		statusOffline: base.Foreground(lipgloss.Color("9")).Bold(true),
		label:         base.Foreground(lipgloss.Color("8")),
		value:         base.Foreground(lipgloss.Color("15")),
		logLabel:      base.Foreground(lipgloss.Color("11")).Bold(true),
		logBody:       base.Foreground(lipgloss.Color("7")),
		logLabelError: base.Foreground(lipgloss.Color("9")).Bold(true),
		logBodyError:  base.Foreground(lipgloss.Color("9")),
		help:          base.Foreground(lipgloss.Color("12")),
		room:          base.Foreground(lipgloss.Color("7")).Background(lipgloss.Color("236")),
		activeRoom:    base.Foreground(lipgloss.Color("0")).Background(lipgloss.Color("10")).Bold(true),
	}
}

func buildHomeContent() string {
	art := strings.TrimRight(figure.NewColorFigure("ROOM CHAT", "3-d", "green", true).String(), "\n")
	return art + "\n\n" + strings.Join([]string{
		"/connect          dial the server with ROOMCHAT_TOKEN",
		"/join <room>      enter a room, repeat for more rooms",
		"/room <room>      switch the active room (tab completes)",
		"/who              list who is online in the active room",
		"/pipe             inspect raw websocket frames",
		"/help             browse every command",
	}, "\n")
}

// wrapLines word-wraps every line to width terminal cells.
func wrapLines(lines []string, width int) []string {
	if width <= 0 {
		return lines
	}
	width = max(width, minWrapWidth)
	wrapped := make([]string, 0, len(lines))
	for _, line := range lines {
		wrapped = append(wrapped, wrapLine(line, width)...)
	}
	return wrapped
}

// wrapLine breaks line between words. Words wider than a row are split.
func wrapLine(line string, width int) []string {
	var (
		rows     []string
		row      strings.Builder
		rowWidth int
	)
	flush := func() {
		rows = append(rows, row.String())
		row.Reset()
		rowWidth = 0
	}
	for _, word := range strings.Fields(line) {
		for runewidth.StringWidth(word) > width {
			if rowWidth > 0 {
				flush()
			}
			head := runewidth.Truncate(word, width, "")
			rows = append(rows, head)
			word = word[len(head):]
		}
		if word == "" {
			continue
		}
		w := runewidth.StringWidth(word)
		if rowWidth > 0 && rowWidth+1+w > width {
			flush()
		}
		if rowWidth > 0 {
			row.WriteByte(' ')
			rowWidth++
		}
		row.WriteString(word)
		rowWidth += w
	}
	if rowWidth > 0 || len(rows) == 0 {
		flush()
	}
	return rows
}

type commandKeyMap []key.Binding

func (k commandKeyMap) ShortHelp() []key.Binding { return k }

func (k commandKeyMap) FullHelp() [][]key.Binding { return [][]key.Binding{k} }
