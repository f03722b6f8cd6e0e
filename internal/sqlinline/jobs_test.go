package sqlinline

import (
	"strings"
	"testing"
)

// The cleanup statements run unattended, so their predicates are pinned here:
// a widened where-clause silently killing the wrong jobs would otherwise only
// show up in production.

func TestStuckQueuedCleanupSparesPromptDependents(t *testing.T) {
	if !strings.Contains(QFailStuckQueuedJobs, "prompt_status is distinct from 'generating'") {
		t.Error("stuck-queued cleanup must spare jobs requeued to wait for their prompt")
	}
	if !strings.Contains(QFailStuckQueuedJobs, "status = 'queued'") {
		t.Error("stuck-queued cleanup must only touch queued jobs")
	}
}

func TestOrphanCleanupOnlyTouchesActiveStates(t *testing.T) {
	if !strings.Contains(QFailJobsMissingProviderID, "status in ('running', 'saving')") {
		t.Error("orphan cleanup must be limited to running and saving jobs")
	}
}
