package manifest

import (
	"context"
	"os/exec"
	"strings"
	"time"
)

// RevisionProbe resolves the source-control revision of the running tool.
// It reports false when no revision is available and never fails.
type RevisionProbe func(ctx context.Context) (string, bool)

// GitRevision asks git for the HEAD commit of the working directory.
func GitRevision(ctx context.Context) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, "git", "rev-parse", "HEAD").Output()
	if err != nil {
		return "", false
	}
	rev := strings.TrimSpace(string(out))
	return rev, rev != ""
}

// NoRevision is a probe that never resolves a revision.
func NoRevision(context.Context) (string, bool) {
	return "", false
}
