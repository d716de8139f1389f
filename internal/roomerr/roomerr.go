// Package roomerr defines the categorized error type surfaced at every
// component boundary in the room coordination engine, per the error
// handling design: validation and capacity/state errors reported inline,
// transient provider/tool errors reported via dedicated events, fatal
// internal errors tearing down the room.
package roomerr

import "fmt"

// Category groups error codes by how the caller should react.
type Category string

const (
	CategoryValidation Category = "validation"
	CategoryCapacity   Category = "capacity"
	CategoryProvider   Category = "provider"
	CategoryTool       Category = "tool"
	CategoryProtocol   Category = "protocol"
	CategoryFatal      Category = "fatal"
)

// Code is one of the machine-readable error codes in the wire protocol.
type Code string

const (
	CodeRoomNotFound  Code = "ROOM_NOT_FOUND"
	CodeRoomClosed    Code = "ROOM_CLOSED"
	CodeRoomFull      Code = "ROOM_FULL"
	CodeInvalidName   Code = "INVALID_NAME"
	CodeInvalidInput  Code = "INVALID_INPUT"
	CodeNotInRoom     Code = "NOT_IN_ROOM"
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeRateLimited   Code = "RATE_LIMITED"
	CodeProviderError Code = "PROVIDER_ERROR"
	CodeToolTimeout   Code = "TOOL_TIMEOUT"
)

var codeCategory = map[Code]Category{
	CodeRoomNotFound:  CategoryCapacity,
	CodeRoomClosed:    CategoryCapacity,
	CodeRoomFull:      CategoryCapacity,
	CodeInvalidName:   CategoryValidation,
	CodeInvalidInput:  CategoryValidation,
	CodeNotInRoom:     CategoryCapacity,
	CodeUnauthorized:  CategoryValidation,
	CodeRateLimited:   CategoryCapacity,
	CodeProviderError: CategoryProvider,
	CodeToolTimeout:   CategoryTool,
}

// Error is the categorized error type returned across component boundaries.
// Users see Message; operators see Category and the wrapped Cause in logs.
type Error struct {
	Code     Code
	Message  string
	Category Category
	Cause    error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error for code, deriving its category from the code table.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message, Category: codeCategory[code]}
}

// Wrap builds an Error for code that carries an underlying cause, visible to
// operators in logs but never included in the user-facing Message.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Category: codeCategory[code], Cause: cause}
}

// RoomNotFound, RoomClosed, RoomFull, InvalidName, InvalidInput, NotInRoom,
// Unauthorized, RateLimited, ProviderError, and ToolTimeout are convenience
// constructors for the most common inline errors.

func RoomNotFound(roomID string) *Error {
	return New(CodeRoomNotFound, fmt.Sprintf("room %q does not exist", roomID))
}

func RoomClosed(roomID string) *Error {
	return New(CodeRoomClosed, fmt.Sprintf("room %q is closed", roomID))
}

func RoomFull(roomID string) *Error {
	return New(CodeRoomFull, fmt.Sprintf("room %q is at capacity", roomID))
}

func InvalidName(reason string) *Error {
	return New(CodeInvalidName, reason)
}

func InvalidInput(reason string) *Error {
	return New(CodeInvalidInput, reason)
}

func NotInRoom(peerID string) *Error {
	return New(CodeNotInRoom, fmt.Sprintf("peer %q is not in the room", peerID))
}

func Unauthorized(reason string) *Error {
	return New(CodeUnauthorized, reason)
}

func RateLimited(reason string) *Error {
	return New(CodeRateLimited, reason)
}

func ProviderError(cause error) *Error {
	return Wrap(CodeProviderError, "voice provider session error", cause)
}

func ToolTimeout(tool string) *Error {
	return New(CodeToolTimeout, fmt.Sprintf("%s timed out", tool))
}
