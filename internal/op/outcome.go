package op

import (
	"encoding/json"
	"fmt"

	operrors "github.com/systmms/opbulk/internal/errors"
)

// OutcomeKind classifies how an op invocation ended.
type OutcomeKind int

const (
	// Success carries the decoded output, or a nil Value for empty output.
	Success OutcomeKind = iota
	// Transient failures (rate limits) may be retried.
	Transient
	// AuthRequired is never retried and escalates out of batches.
	AuthRequired
	// Fatal failures are not retried.
	Fatal
)

func (k OutcomeKind) String() string {
	switch k {
	case Success:
		return "success"
	case Transient:
		return "transient"
	case AuthRequired:
		return "auth_required"
	case Fatal:
		return "fatal"
	default:
		return fmt.Sprintf("OutcomeKind(%d)", int(k))
	}
}

// Outcome is the classified result of running a Command.
type Outcome struct {
	Kind OutcomeKind
	// Value is the raw JSON printed by op. Nil when op printed nothing.
	Value json.RawMessage
	// Err is set for every non-Success kind.
	Err error
	// Attempts counts invocations, including retries.
	Attempts int
}

// Succeeded builds a Success outcome.
func Succeeded(value json.RawMessage) Outcome {
	return Outcome{Kind: Success, Value: value, Attempts: 1}
}

// Failed builds a failure outcome of the given kind.
func Failed(kind OutcomeKind, err error) Outcome {
	return Outcome{Kind: kind, Err: err, Attempts: 1}
}

// OK reports whether the outcome is a Success.
func (o Outcome) OK() bool {
	return o.Kind == Success
}

// Result returns Value for a Success and Err otherwise.
func (o Outcome) Result() (json.RawMessage, error) {
	if o.Kind == Success {
		return o.Value, nil
	}
	if o.Err == nil {
		return nil, fmt.Errorf("%w: %s outcome without error", operrors.ErrCommandFailed, o.Kind)
	}
	return nil, o.Err
}

// Decode unmarshals Value into v. Empty output leaves v untouched.
func (o Outcome) Decode(v any) error {
	raw, err := o.Result()
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %w", operrors.ErrParse, err)
	}
	return nil
}
