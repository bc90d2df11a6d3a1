package app

import "fmt"

// DomainError is a policy or validation failure that already knows its HTTP
// shape: authorization denials, lifecycle violations, malformed ids. Handlers
// pass it straight through to the error envelope.
type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}
