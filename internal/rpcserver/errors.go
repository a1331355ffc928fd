package rpcserver

import (
	"fmt"

	"alfred-ai/internal/domain"
)

// errMissingCollaborator reports a handler's missing optional dependency.
func errMissingCollaborator(name string) error {
	return domain.NewDomainError("rpcserver", domain.ErrMissingAppConfig, name+" not configured")
}

// errInvalidParams wraps a params-unmarshal failure for the wire's
// invalid-params code.
func errInvalidParams(err error) error {
	return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
}
