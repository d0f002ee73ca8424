// Package services holds shared error classification for the external
// collaborators (watchlist source, acquisition backends, notifier).
package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConnectivity marks upstream-unreachable failures. Fatal during
	// startup, tick-skipping during steady state.
	ErrConnectivity = errors.New("connectivity error")
	// ErrIncomplete marks responses that returned without error but could
	// not be fully determined; callers must not act destructively on them.
	ErrIncomplete = errors.New("incomplete result")
	// ErrConfiguration marks missing or invalid collaborator configuration.
	ErrConfiguration = errors.New("configuration error")
	// ErrTransient marks recoverable failures retried by the next pass.
	ErrTransient = errors.New("transient failure")
)

// Wrap builds an error message that includes collaborator context while
// tagging it with the provided marker for later classification. The marker
// should be one of the exported sentinel errors above.
func Wrap(marker error, service, operation, message string, err error) error {
	detail := buildDetail(service, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// IsFatalStartup reports whether an error must abort workflow startup rather
// than degrade to the next scheduled pass.
func IsFatalStartup(err error) bool {
	return errors.Is(err, ErrConnectivity) || errors.Is(err, ErrConfiguration)
}

func buildDetail(service, operation, message string) string {
	parts := make([]string, 0, 3)
	if service = strings.TrimSpace(service); service != "" {
		parts = append(parts, service)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
