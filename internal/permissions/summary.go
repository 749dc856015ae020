package permissions

import (
	"fmt"
	"time"

	"github.com/systmms/opbulk/internal/onepassword"
)

// Principal kinds.
const (
	PrincipalGroup = "group"
	PrincipalUser  = "user"
)

// Failure is one target whose permission change did not happen.
type Failure struct {
	VaultID string
	Target  string
	Err     error
}

func (f Failure) Error() string {
	if f.Target == "" {
		return fmt.Sprintf("vault %s: %v", f.VaultID, f.Err)
	}
	return fmt.Sprintf("vault %s, %s: %v", f.VaultID, f.Target, f.Err)
}

// Summary accounts for a best-effort batch of permission changes.
// Targets == Succeeded + Failed + Skipped once the batch has returned.
type Summary struct {
	Action    onepassword.Action
	Principal string
	Targets   int
	Succeeded int
	Failed    int
	Skipped   int
	Chunks    int
	Elapsed   time.Duration
	Failures  []Failure
}

// Add folds other into s.
func (s *Summary) Add(other Summary) {
	if s.Action == "" {
		s.Action = other.Action
	}
	if s.Principal == "" {
		s.Principal = other.Principal
	}
	s.Targets += other.Targets
	s.Succeeded += other.Succeeded
	s.Failed += other.Failed
	s.Skipped += other.Skipped
	s.Chunks += other.Chunks
	s.Elapsed += other.Elapsed
	s.Failures = append(s.Failures, other.Failures...)
}

func (s *Summary) fail(vaultID, target string, err error) {
	s.Failed++
	s.Failures = append(s.Failures, Failure{VaultID: vaultID, Target: target, Err: err})
}

func (s Summary) String() string {
	return fmt.Sprintf("%s %s permissions: %d targets, %d succeeded, %d failed, %d skipped across %d chunks in %.2fs",
		s.Action, s.Principal, s.Targets, s.Succeeded, s.Failed, s.Skipped, s.Chunks, s.Elapsed.Seconds())
}
