package contract

import "errors"

var (
	ErrValidation     = errors.New("validation failed")
	ErrDuplicateName  = errors.New("duplicate tool name")
	ErrUnknownName    = errors.New("unknown tool name")
	ErrEmptyCatalogue = errors.New("tool catalogue is empty")
	ErrLLMUnavailable = errors.New("llm completion unavailable")
	ErrParseFailed    = errors.New("could not parse llm response")
	ErrCancelled      = errors.New("operation cancelled")
)

// RegistryError wraps ErrDuplicateName/ErrUnknownName with the offending
// tool name.
type RegistryError struct {
	Kind error
	Name string
}

func (e *RegistryError) Error() string { return e.Kind.Error() + ": " + e.Name }

func (e *RegistryError) Unwrap() error { return e.Kind }

// PlannerError wraps ErrLLMUnavailable/ErrParseFailed/ErrEmptyCatalogue.
type PlannerError struct {
	Kind error
	Msg  string
}

func (e *PlannerError) Error() string {
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return e.Kind.Error() + ": " + e.Msg
}

func (e *PlannerError) Unwrap() error { return e.Kind }
