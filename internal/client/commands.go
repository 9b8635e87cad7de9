package client

import (
	"context"
	"sort"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/samber/lo"

	"github.com/fenggwsx/RoomChat/internal/protocol"
)

func (a *App) handleSubmit(value string) tea.Cmd {
	if strings.HasPrefix(value, string(a.cfg.CommandPrefix)) {
		return a.executeCommand(value)
	}

	return a.sendChatMessage(value)
}

func (a *App) executeCommand(raw string) tea.Cmd {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return nil
	}

	name := strings.TrimPrefix(fields[0], string(a.cfg.CommandPrefix))
	usage := func(args string) {
		a.logErrorf("Usage: %s%s %s", string(a.cfg.CommandPrefix), name, args)
	}
	var cmds []tea.Cmd

	switch name {
	case "chat":
		a.view = viewChat
		a.logf("Switched to CHAT view")
	case "help":
		a.view = viewHelp
		a.logf("Switched to HELP view")
	case "pipe":
		if len(fields) > 1 && strings.EqualFold(fields[1], "clear") {
			a.pipeHistory = nil
			a.logf("Cleared pipe history")
			break
		}
		a.view = viewPipe
		a.logf("Switched to PIPE view")
	case "connect":
		target := a.serverURL
		if len(fields) > 1 {
			target = fields[1]
		}
		if target == "" {
			a.logErrorf("Provide a server URL to connect")
			break
		}
		cmds = append(cmds, a.connectToServer(target))
	case "join":
		if len(fields) < 2 {
			usage("<room>")
			break
		}
		if !a.requireSession() {
			break
		}
		room := fields[1]
		if _, ok := a.rooms[room]; ok {
			a.room = room
			a.logf("Already in room %s", room)
			break
		}
		a.logf("Joining room %s ...", room)
		cmds = append(cmds, a.send(protocol.JoinRoom{
			RoomID:   room,
			UserID:   a.identity.userID,
			UserRole: a.identity.role,
		}, room))
	case "leave":
		if !a.requireSession() {
			break
		}
		target := strings.TrimSpace(a.room)
		if len(fields) > 1 {
			target = fields[1]
		}
		if target == "" || target == "-" {
			a.logErrorf("No active room to leave")
			break
		}
		a.logf("Leaving room %s ...", target)
		cmds = append(cmds, a.send(protocol.LeaveRoom{RoomID: target}, target))
	case "room":
		if len(fields) < 2 {
			a.logf("Joined rooms: %s", strings.Join(a.joinedRooms(), ", "))
			break
		}
		room := fields[1]
		if _, ok := a.rooms[room]; !ok {
			a.logErrorf("Not in room %s", room)
			break
		}
		a.room = room
		a.view = viewChat
		a.logf("Active room is %s", room)
	case "who":
		if !a.hasActiveRoom() {
			a.logErrorf("Join a room first")
			break
		}
		users := lo.Keys(a.roomState(a.room).online)
		sort.Strings(users)
		if len(users) == 0 {
			a.logf("Nobody else is online in %s", a.room)
			break
		}
		a.logf("Online in %s: %s", a.room, strings.Join(users, ", "))
	case "quit":
		a.logf("Exiting client")
		a.statusOnline = false
		cmds = append(cmds, a.quit())
	default:
		a.logErrorf("Command %s not implemented", fields[0])
	}

	a.updateViewportContent()
	return tea.Batch(cmds...)
}

func (a *App) requireSession() bool {
	if a.session == nil {
		a.logErrorf("Not connected. Use %sconnect first.", string(a.cfg.CommandPrefix))
		return false
	}
	if a.identity.userID == "" {
		a.logErrorf("No identity. Set ROOMCHAT_TOKEN to a signed token.")
		return false
	}
	return true
}

func (a *App) joinedRooms() []string {
	rooms := lo.Keys(a.rooms)
	sort.Strings(rooms)
	return rooms
}

func (a *App) sendChatMessage(body string) tea.Cmd {
	if !a.requireSession() {
		return nil
	}
	if !a.hasActiveRoom() {
		a.logErrorf("Join a room before sending messages")
		return nil
	}
	return a.send(protocol.ChatMessage{
		RoomID:      a.room,
		SenderID:    a.identity.userID,
		SenderModel: a.identity.role,
		Message:     body,
	}, a.room)
}

func (a *App) connectToServer(url string) tea.Cmd {
	cfg := a.cfg
	cfg.ServerURL = url
	a.logf("Connecting to %s ...", url)
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()
		session := NewSession(cfg)
		if err := session.Connect(ctx); err != nil {
			return connectResultMsg{URL: url, Err: err}
		}
		return connectResultMsg{URL: url, Session: session}
	}
}

// send writes payload on the current session and tracks it for ack and
// error correlation.
func (a *App) send(payload protocol.Inbound, room string) tea.Cmd {
	session := a.session
	event := payload.EventName()
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		id, frame, err := session.Send(ctx, payload)
		return sendResultMsg{ID: id, Event: event, Room: room, Frame: frame, Err: err, Session: session}
	}
}
