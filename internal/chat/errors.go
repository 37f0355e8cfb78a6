package chat

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound: the referenced chat, message or user does not exist.
	ErrNotFound = errors.New("not found")
	// ErrForbidden: authenticated but not allowed to act on the target.
	ErrForbidden = errors.New("forbidden")
	// ErrGateway: the persistence gateway failed; nothing was applied or published.
	ErrGateway = errors.New("persistence unavailable")
	ErrInvalid  = errors.New("invalid argument")
	ErrConflict = errors.New("conflict")
)

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

func forbiddenf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrForbidden, fmt.Sprintf(format, args...))
}

// gatewayErr keeps ErrNotFound and ErrConflict as is and tags everything else
// as a gateway failure.
func gatewayErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", ErrGateway, op, err)
}
