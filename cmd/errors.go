package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/nextlevelbuilder/allow2/pkg/protocol"
)

// describeError turns library errors into one-line hints for the terminal.
func describeError(err error) string {
	var se *protocol.ServerError
	switch {
	case errors.Is(err, protocol.ErrNotPaired):
		return "this device is not paired (run: allow2 pair)"
	case errors.Is(err, protocol.ErrAlreadyPaired):
		return "this device is already paired (run: allow2 unpair first)"
	case errors.Is(err, protocol.ErrMissingChildID):
		return "no child given and the device is not bound to one"
	case errors.Is(err, protocol.ErrNotAuthorised):
		return "the server rejected the credentials"
	case errors.Is(err, protocol.ErrNoConnection):
		return fmt.Sprintf("could not reach Allow2: %v", err)
	case errors.Is(err, protocol.ErrInvalidResponse):
		return fmt.Sprintf("unexpected reply from Allow2: %v", err)
	case errors.As(err, &se):
		return "Allow2 says: " + se.Message
	}
	return err.Error()
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "Error:", describeError(err))
	os.Exit(1)
}
