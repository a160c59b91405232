package funlua

import (
	"fmt"
	"strings"
)

// BudgetMessage is the error raised when a run exceeds its instruction
// budget.
const BudgetMessage = "Out of allotted instructions!"

// Error is a failed load, call or run. Message is the error object
// converted to a string.
type Error struct {
	Status  Status
	Message string

	// sentinels match on a message fragment.
	match string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Status.String()
	}
	return e.Message
}

// Is matches the sentinel errors by status and, for the more specific
// ones, by message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Message != "" {
		return false
	}
	return t.Status == e.Status && strings.Contains(e.Message, t.match)
}

var (
	ErrRuntime       = &Error{Status: StatusErrRun}
	ErrSyntax        = &Error{Status: StatusErrSyntax}
	ErrMemory        = &Error{Status: StatusErrMem}
	ErrHandler       = &Error{Status: StatusErrErr}
	ErrStackOverflow = &Error{Status: StatusErrRun, match: "stack overflow"}
	ErrBudget        = &Error{Status: StatusErrRun, match: BudgetMessage}
)

// StatusError pops the error object left by a failed operation and
// returns it as an *Error. It returns nil for StatusOK and StatusYield
// without touching the stack.
func StatusError(L *State, status Status) error {
	if status == StatusOK || status == StatusYield {
		return nil
	}
	msg, ok := L.ToString(-1)
	if !ok {
		msg = fmt.Sprintf("(error object is a %s value)", L.TypeName(L.Type(-1)))
	}
	L.Pop(1)
	return &Error{Status: status, Message: msg}
}
