package op

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	operrors "github.com/systmms/opbulk/internal/errors"
)

// Version is a major.minor.patch CLI version.
type Version struct {
	Major int
	Minor int
	Patch int
}

// MinimumVersion is the oldest op release opbulk supports.
var MinimumVersion = Version{Major: 2, Minor: 25, Patch: 0}

// ParseVersion parses exactly three dot-separated non-negative integers.
// Surrounding whitespace is ignored.
func ParseVersion(s string) (Version, error) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) != 3 {
		return Version{}, fmt.Errorf("%w: invalid version format: %q", operrors.ErrUnsupportedVersion, s)
	}

	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || p == "" || strings.HasPrefix(p, "+") {
			return Version{}, fmt.Errorf("%w: invalid version format: %q", operrors.ErrUnsupportedVersion, s)
		}
		nums[i] = n
	}
	return Version{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}

// Compare returns -1, 0 or 1 ordering v against other lexicographically.
func (v Version) Compare(other Version) int {
	for _, d := range [3][2]int{{v.Major, other.Major}, {v.Minor, other.Minor}, {v.Patch, other.Patch}} {
		switch {
		case d[0] < d[1]:
			return -1
		case d[0] > d[1]:
			return 1
		}
	}
	return 0
}

// AtLeast reports whether v >= min.
func (v Version) AtLeast(min Version) bool {
	return v.Compare(min) >= 0
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Version runs "op --version" and parses the result.
func (c *Client) Version(ctx context.Context) (Version, error) {
	stdout, stderr, err := c.executor.Execute(ctx, nil, c.binary, "--version")
	if err != nil {
		out := c.classifyFailure(ctx, NewCommand("--version").WithFormat(""), stderr, err)
		return Version{}, out.Err
	}
	return ParseVersion(string(stdout))
}

// CheckVersion fails with ErrUnsupportedVersion unless the installed CLI is at
// least min. It must run before any other command.
func (c *Client) CheckVersion(ctx context.Context, min Version) (Version, error) {
	v, err := c.Version(ctx)
	if err != nil {
		return Version{}, err
	}
	if !v.AtLeast(min) {
		return v, fmt.Errorf("%w: 1Password CLI version %s is below minimum required %s",
			operrors.ErrUnsupportedVersion, v, min)
	}
	c.logger.Debug("1Password CLI version %s", v)
	return v, nil
}
