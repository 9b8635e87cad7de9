package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	// ErrInvalidPayload wraps every decoding or schema failure.
	ErrInvalidPayload = errors.New("invalid payload")
	// ErrUnknownEvent is returned for event names without a client schema.
	ErrUnknownEvent = errors.New("unknown event")
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Request is a decoded and validated client event.
type Request struct {
	ID      string
	Event   EventName
	Payload Inbound
}

// DecodeRequest parses one websocket frame into its typed variant and
// validates it against that variant's schema. The returned Request carries
// the client reference id even when validation fails, so the caller can
// address its error reply.
func DecodeRequest(raw []byte) (Request, error) {
	env, err := DecodeEnvelope(raw)
	if err != nil {
		return Request{}, err
	}
	req := Request{ID: env.ID, Event: env.Event}

	var payload Inbound
	switch env.Event {
	case EventJoinRoom:
		var p JoinRoom
		err = bind(env.Data, &p)
		payload = p
	case EventLeaveRoom:
		var p LeaveRoom
		err = bind(env.Data, &p)
		payload = p
	case EventChatMessage:
		var p ChatMessage
		err = bind(env.Data, &p)
		payload = p
	default:
		return req, fmt.Errorf("%w: %w %q", ErrInvalidPayload, ErrUnknownEvent, env.Event)
	}
	if err != nil {
		return req, err
	}
	req.Payload = payload
	return req, nil
}

// DecodeEnvelope parses the outer frame without interpreting its data.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return env, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if env.Event == "" {
		return env, fmt.Errorf("%w: event required", ErrInvalidPayload)
	}
	return env, nil
}

// Bind decodes the envelope data into v.
func (e Envelope) Bind(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%w: %s data empty", ErrInvalidPayload, e.Event)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

// Encode renders a server event into a websocket frame.
func Encode(event EventName, payload any) ([]byte, error) {
	env := Envelope{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		env.Data = data
	}
	return json.Marshal(env)
}

// EncodeRequest renders a client event, used by the terminal client.
func EncodeRequest(id string, payload Inbound) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: payload.EventName(), ID: id, Data: data})
}

func bind(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: data required", ErrInvalidPayload)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidPayload, describe(err))
	}
	return nil
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
