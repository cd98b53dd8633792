package constants

import (
	"testing"
)

func TestQueueDefaultsAreSane(t *testing.T) {
	if DefaultMaxAttempts < 1 {
		t.Errorf("DefaultMaxAttempts = %d, must allow at least one attempt", DefaultMaxAttempts)
	}
	if DefaultRetryBase <= 0 || DefaultRetryMax < DefaultRetryBase {
		t.Errorf("retry window %v..%v is inverted", DefaultRetryBase, DefaultRetryMax)
	}
	if DefaultLeaseTTL <= DefaultPollInterval {
		t.Errorf("lease ttl %v must outlast the poll interval %v", DefaultLeaseTTL, DefaultPollInterval)
	}
}

func TestFeedDefaultsAreSane(t *testing.T) {
	if DefaultFeedBatch < 1 {
		t.Errorf("DefaultFeedBatch = %d, want at least 1", DefaultFeedBatch)
	}
	if DefaultStaleDownload <= DefaultSyncInterval {
		t.Errorf("stale threshold %v must outlast a reconcile interval %v", DefaultStaleDownload, DefaultSyncInterval)
	}
	if DefaultMatchThreshold <= 0 || DefaultMatchThreshold > 1 {
		t.Errorf("DefaultMatchThreshold = %v, want within (0, 1]", DefaultMatchThreshold)
	}
}
