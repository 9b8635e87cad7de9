package client

import (
	"fmt"
	"strings"
	"time"

	"github.com/fenggwsx/RoomChat/internal/protocol"
)

const maxRoomHistory = 500

func (a *App) handleSessionEnvelope(env protocol.Envelope) {
	a.appendPipeEntry(pipeDirectionIn, string(env.Event), env.Data)
	switch env.Event {
	case protocol.EventAck:
		a.handleAck(env)
	case protocol.EventError:
		a.handleError(env)
	case protocol.EventMessage:
		a.handleMessage(env)
	case protocol.EventUserStatus:
		a.handleUserStatus(env)
	default:
		a.logErrorf("Received %s event", string(env.Event))
	}
	a.updateViewportContent()
}

func (a *App) handleAck(env protocol.Envelope) {
	var ack protocol.AckPayload
	if err := env.Bind(&ack); err != nil {
		a.logErrorf("Failed to decode ack: %v", err)
		return
	}
	delete(a.pending, ack.ReferenceID)

	switch ack.Event {
	case protocol.EventJoinRoom:
		a.roomState(ack.RoomID)
		a.room = ack.RoomID
		a.view = viewChat
		a.logf("Joined room %s", ack.RoomID)
	case protocol.EventLeaveRoom:
		delete(a.rooms, ack.RoomID)
		if a.room == ack.RoomID {
			a.room = "-"
			if rooms := a.joinedRooms(); len(rooms) > 0 {
				a.room = rooms[0]
			}
		}
		a.logf("Left room %s", ack.RoomID)
	default:
		a.logf("Command %s acknowledged", ack.Event)
	}
}

func (a *App) handleError(env protocol.Envelope) {
	var payload protocol.ErrorPayload
	if err := env.Bind(&payload); err != nil {
		a.logErrorf("Failed to decode error: %v", err)
		return
	}
	reason := strings.TrimSpace(payload.Reason)
	if reason == "" {
		reason = payload.Code
	}

	pending, ok := a.pending[payload.ReferenceID]
	if !ok {
		a.logErrorf("Server error %s: %s", payload.Code, reason)
		return
	}
	delete(a.pending, payload.ReferenceID)
	switch pending.event {
	case protocol.EventJoinRoom:
		a.logErrorf("Join %s failed: %s", pending.room, reason)
	case protocol.EventLeaveRoom:
		a.logErrorf("Leave %s failed: %s", pending.room, reason)
	case protocol.EventChatMessage:
		a.logErrorf("Message to %s failed: %s", pending.room, reason)
	default:
		a.logErrorf("Command %s failed: %s", pending.event, reason)
	}
}

func (a *App) handleMessage(env protocol.Envelope) {
	var msg protocol.MessagePayload
	if err := env.Bind(&msg); err != nil {
		a.logErrorf("Failed to decode message: %v", err)
		return
	}
	stamp := msg.Timestamp.Local().Format(time.TimeOnly)
	a.appendRoomLine(msg.RoomID, fmt.Sprintf("%s %s (%s): %s", stamp, msg.SenderID, msg.SenderModel, msg.Message))
}

func (a *App) handleUserStatus(env protocol.Envelope) {
	var status protocol.UserStatusPayload
	if err := env.Bind(&status); err != nil {
		a.logErrorf("Failed to decode status: %v", err)
		return
	}
	// Status frames carry no room, so they apply to every joined room.
	for room, state := range a.rooms {
		switch status.Status {
		case protocol.StatusOnline:
			if _, seen := state.online[status.UserID]; seen {
				continue
			}
			state.online[status.UserID] = struct{}{}
		case protocol.StatusOffline:
			if _, seen := state.online[status.UserID]; !seen {
				continue
			}
			delete(state.online, status.UserID)
		default:
			continue
		}
		a.appendRoomLine(room, fmt.Sprintf("* %s is %s", status.UserID, status.Status))
	}
}

func (a *App) appendRoomLine(room, line string) {
	state := a.roomState(room)
	state.history = append(state.history, line)
	if len(state.history) > maxRoomHistory {
		state.history = state.history[len(state.history)-maxRoomHistory:]
	}
}
