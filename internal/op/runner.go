//go:generate mockgen -source runner.go -destination ./mocks/runner_mock.go -package mocks Runner
package op

import "context"

// Runner executes a Command and returns its classified Outcome.
// Implementations must be safe for concurrent use.
type Runner interface {
	Run(ctx context.Context, cmd Command) Outcome
}
