package bitrix

import (
	"errors"
	"fmt"
)

// ErrNetwork marks transport-level failures talking to the portal.
var ErrNetwork = errors.New("bitrix network error")

// ErrTimeout marks calls that exceeded their deadline. Timed-out calls
// are never retried.
var ErrTimeout = errors.New("bitrix request timeout")

// APIError is an error payload returned by the Bitrix24 REST API.
type APIError struct {
	Code        string `json:"error"`
	Description string `json:"error_description"`
}

func (e *APIError) IsZero() bool {
	return e.Code == "" && e.Description == ""
}

func (e *APIError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("bitrix api error: %s (%s)", e.Code, e.Description)
	}
	return fmt.Sprintf("bitrix api error: %s", e.Code)
}

// UserMessage returns the text surfaced to the end user. The vendor
// description is preferred over the machine code.
func (e *APIError) UserMessage() string {
	if e.Description != "" {
		return e.Description
	}
	if e.Code != "" {
		return e.Code
	}
	return "unknown Bitrix24 error"
}
