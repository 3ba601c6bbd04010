// Provide basic message functionality.

package messages

import (
	"encoding/json"
	"github.com/lefinal/flipmatch/errors"
)

// MessageType is the type of message and serves for using the correct parsing
// method.
type MessageType string

// MessageContainer is a container for all messages that are sent and received.
// It holds some meta information as well as the actual payload.
type MessageContainer struct {
	// MessageType is the type of the message.
	MessageType MessageType `json:"message_type"`
	// Content is the actual message content.
	Content json.RawMessage `json:"content,omitempty"`
}

// All general message types.
const (
	// MessageTypeError is used for error messages. The content is being set to the
	// detailed error.
	MessageTypeError MessageType = "error"
)

// MessageError is used with MessageTypeError for errors that need to be sent to
// clients.
type MessageError struct {
	// Code is the error code from errors.Error.
	Code string `json:"code"`
	// Kind is the error kind from errors.Error.
	Kind string `json:"kind,omitempty"`
	// Message is the human-readable message.
	Message string `json:"message"`
	// Details are error details from errors.Error.
	Details map[string]interface{} `json:"details,omitempty"`
}

// MessageErrorFromError creates a MessageError from the given error. Details
// are only exposed if errors.BlameUser holds.
func MessageErrorFromError(err error) MessageError {
	e, _ := errors.Cast(err)
	if !errors.BlameUser(err) {
		return MessageError{
			Code:    string(e.Code),
			Message: "internal server error",
		}
	}
	return MessageError{
		Code:    string(e.Code),
		Kind:    string(e.Kind),
		Message: e.Error(),
		Details: e.Details,
	}
}

// Encode marshals the given content into a MessageContainer with the given
// MessageType and returns the raw JSON.
func Encode(messageType MessageType, content interface{}) ([]byte, error) {
	container := MessageContainer{MessageType: messageType}
	if content != nil {
		contentRaw, err := json.Marshal(content)
		if err != nil {
			return nil, errors.NewJSONError(err, "marshal message content", false)
		}
		container.Content = contentRaw
	}
	raw, err := json.Marshal(container)
	if err != nil {
		return nil, errors.NewJSONError(err, "marshal message container", false)
	}
	return raw, nil
}

// Decode parses the given raw message into a MessageContainer.
func Decode(raw []byte) (MessageContainer, error) {
	var container MessageContainer
	err := json.Unmarshal(raw, &container)
	if err != nil {
		return MessageContainer{}, errors.NewJSONError(err, "unmarshal message container", true)
	}
	if container.MessageType == "" {
		return MessageContainer{}, errors.Error{
			Code:    errors.ErrProtocolViolation,
			Kind:    errors.KindUnknownMessageType,
			Message: "missing message type",
		}
	}
	return container, nil
}

// DecodeContent parses the content of the given MessageContainer into the
// given target.
func DecodeContent(container MessageContainer, target interface{}) error {
	if len(container.Content) == 0 {
		return errors.Error{
			Code:    errors.ErrBadRequest,
			Kind:    errors.KindDecodeJSON,
			Message: "missing message content",
			Details: errors.Details{"message_type": container.MessageType},
		}
	}
	err := json.Unmarshal(container.Content, target)
	if err != nil {
		return errors.Wrap(errors.NewJSONError(err, "unmarshal message content", true), "decode content",
			errors.Details{"message_type": container.MessageType})
	}
	return nil
}
