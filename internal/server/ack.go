package server

import (
	"github.com/fenggwsx/RoomChat/internal/chat"
	"github.com/fenggwsx/RoomChat/internal/protocol"
)

func (s *session) sendAck(referenceID string, event protocol.EventName, roomID string) {
	frame, err := protocol.Encode(protocol.EventAck, protocol.AckPayload{
		ReferenceID: referenceID,
		Event:       event,
		RoomID:      roomID,
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("encode ack")
		return
	}
	if !s.Enqueue(frame) {
		s.logger.Debug().Str("event", string(event)).Msg("ack dropped")
	}
}

func (s *session) sendError(referenceID string, err error) {
	frame, encErr := errorFrame(referenceID, err)
	if encErr != nil {
		s.logger.Error().Err(encErr).Msg("encode error event")
		return
	}
	if !s.Enqueue(frame) {
		s.logger.Debug().Str("code", chat.Code(err)).Msg("error event dropped")
	}
}

func errorFrame(referenceID string, err error) ([]byte, error) {
	return protocol.Encode(protocol.EventError, protocol.ErrorPayload{
		ReferenceID: referenceID,
		Code:        chat.Code(err),
		Reason:      err.Error(),
	})
}
