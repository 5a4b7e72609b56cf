package storerpc

import (
	"bytes"
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"github.com/dreamware/usercluster/internal/storage"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// MessageType tags each envelope sent over the channel.
type MessageType string

const (
	TypeRequest  MessageType = "request"
	TypeResponse MessageType = "response"
	// TypeOnline is sent once by a worker when its HTTP listener is bound.
	TypeOnline MessageType = "online"
)

// Action names a store operation on the wire.
type Action string

const (
	ActionList    Action = "getAllUsers"
	ActionGetByID Action = "getUserById"
	ActionCreate  Action = "createUser"
	ActionUpdate  Action = "updateUser"
	ActionDelete  Action = "deleteUser"
)

// Message is the envelope of every frame on the channel.
// Requests use Action, Arguments and CorrelationID; responses use
// CorrelationID, Result and Error; online messages carry only the type.
type Message struct {
	Type          MessageType         `json:"type"`
	Action        Action              `json:"action,omitempty"`
	Arguments     jsoniter.RawMessage `json:"arguments,omitempty"`
	CorrelationID string              `json:"correlationId,omitempty"`
	Result        jsoniter.RawMessage `json:"result,omitempty"`
	Error         *string             `json:"error,omitempty"`
}

// response is the wire form of a TypeResponse message. Both result and error
// are always present; the one not in use is null.
type response struct {
	Type          MessageType         `json:"type"`
	CorrelationID string              `json:"correlationId"`
	Result        jsoniter.RawMessage `json:"result"`
	Error         *string             `json:"error"`
}

var jsonNull = jsoniter.RawMessage("null")

// wireFrame returns the value encoded for msg on the channel.
func wireFrame(msg Message) any {
	if msg.Type != TypeResponse {
		return msg
	}
	result := msg.Result
	if isNull(result) {
		result = jsonNull
	}
	return response{Type: msg.Type, CorrelationID: msg.CorrelationID, Result: result, Error: msg.Error}
}

// isNull reports whether raw holds no value. A decoded null result may come
// back as an empty slice.
func isNull(raw jsoniter.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, jsonNull)
}

// Operation is one of the store operations a worker may ask the owner to run.
// The set is closed: List, GetByID, Create, Update and Delete.
type Operation interface {
	Action() Action
	isOperation()
}

type List struct{}

type GetByID struct {
	ID string `json:"id"`
}

type Create struct {
	User storage.User `json:"user"`
}

type Update struct {
	ID    string            `json:"id"`
	Patch storage.UserPatch `json:"patch"`
}

type Delete struct {
	ID string `json:"id"`
}

func (List) Action() Action    { return ActionList }
func (GetByID) Action() Action { return ActionGetByID }
func (Create) Action() Action  { return ActionCreate }
func (Update) Action() Action  { return ActionUpdate }
func (Delete) Action() Action  { return ActionDelete }

func (List) isOperation()    {}
func (GetByID) isOperation() {}
func (Create) isOperation()  {}
func (Update) isOperation()  {}
func (Delete) isOperation()  {}

// UnknownActionError is returned when a request names an action outside the closed set.
type UnknownActionError struct {
	Action Action
}

func (e UnknownActionError) Error() string {
	return fmt.Sprintf("Unknown action: %s", e.Action)
}

// newRequest encodes op into a request envelope.
func newRequest(correlationID string, op Operation) (Message, error) {
	args, err := json.Marshal(op)
	if err != nil {
		return Message{}, fmt.Errorf("cannot encode %s arguments: %w", op.Action(), err)
	}
	return Message{
		Type:          TypeRequest,
		Action:        op.Action(),
		Arguments:     args,
		CorrelationID: correlationID,
	}, nil
}

// decodeOperation turns a request envelope back into its typed operation.
func decodeOperation(msg Message) (Operation, error) {
	switch msg.Action {
	case ActionList:
		return decodeArguments[List](msg)
	case ActionGetByID:
		return decodeArguments[GetByID](msg)
	case ActionCreate:
		return decodeArguments[Create](msg)
	case ActionUpdate:
		return decodeArguments[Update](msg)
	case ActionDelete:
		return decodeArguments[Delete](msg)
	default:
		return nil, UnknownActionError{Action: msg.Action}
	}
}

func decodeArguments[T Operation](msg Message) (Operation, error) {
	var op T
	if len(msg.Arguments) > 0 {
		if err := json.Unmarshal(msg.Arguments, &op); err != nil {
			return nil, fmt.Errorf("invalid %s arguments: %w", msg.Action, err)
		}
	}
	return op, nil
}
