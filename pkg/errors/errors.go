package errors

import (
	"encoding/json"
	"errors"
)

// Error is an error meant to be shown to whoever runs the bot. The
// Type says whose fault it is:
//  - something went wrong talking to GitHub or a registry, so it may
//    work if tried again
//  - something that was asked for does not exist
//  - the configuration needs changing before this can work
type Error struct {
	Type Type
	// a message that can be printed out for the user
	Help string `json:"help"`
	// the underlying error, for logging
	Err error
}

func (e *Error) Error() string {
	return e.Err.Error()
}

// Cause lets github.com/pkg/errors.Cause see through to the
// underlying error.
func (e *Error) Cause() error {
	return e.Err
}

type Type string

const (
	// The request was reasonable, but a remote service failed
	Server Type = "server"
	// The thing named, whatever it is, doesn't exist
	Missing Type = "missing"
	// The configuration or arguments must change before this can work
	User Type = "user"
)

func IsMissing(err error) bool {
	if err, ok := err.(*Error); ok && err.Type == Missing {
		return true
	}
	return false
}

func IsUser(err error) bool {
	if err, ok := err.(*Error); ok && err.Type == User {
		return true
	}
	return false
}

func (e *Error) MarshalJSON() ([]byte, error) {
	var errMsg string
	if e.Err != nil {
		errMsg = e.Err.Error()
	}
	jsonable := &struct {
		Type string `json:"type"`
		Help string `json:"help"`
		Err  string `json:"error,omitempty"`
	}{
		Type: string(e.Type),
		Help: e.Help,
		Err:  errMsg,
	}
	return json.Marshal(jsonable)
}

func (e *Error) UnmarshalJSON(data []byte) error {
	jsonable := &struct {
		Type string `json:"type"`
		Help string `json:"help"`
		Err  string `json:"error,omitempty"`
	}{}
	if err := json.Unmarshal(data, &jsonable); err != nil {
		return err
	}
	e.Type = Type(jsonable.Type)
	e.Help = jsonable.Help
	if jsonable.Err != "" {
		e.Err = errors.New(jsonable.Err)
	}
	return nil
}

// CoverAllError turns any error into one that can be shown to the
// user, when there is nothing more specific to say.
func CoverAllError(err error) *Error {
	return &Error{
		Type: User,
		Err:  err,
		Help: `Error: ` + err.Error() + `

We don't have a specific help message for the error above.

It would help us remedy this if you log an issue at

    https://github.com/fluxcd/tagbot/issues

saying what you were doing when you saw this, and quoting the message
at the top.
`,
	}
}
