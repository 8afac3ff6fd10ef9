package exchange

import "fmt"

// OpError is an expected application failure: bad ids, missing funds,
// self-referential operations. Its message is the exact "Error:"-prefixed
// string sent back to the client; the connection stays open and no ledger
// entry is written. Anything that is not an OpError escapes the dispatcher
// as a real error.
type OpError struct {
	Message string
}

func (e *OpError) Error() string {
	return e.Message
}

func opErrorf(format string, args ...any) error {
	return &OpError{Message: "Error: " + fmt.Sprintf(format, args...)}
}
