package transfer

import (
	"context"
	"fmt"
	"sync"
)

// MockClient is an in-memory daemon for controller tests. Transfers are
// advanced explicitly via SetStatus.
type MockClient struct {
	mu        sync.Mutex
	statuses  map[string]*Status
	nextRef   int
	Submitted []Query

	SubmitErr error
	StatusErr error
	CancelErr error
}

func NewMockClient() *MockClient {
	return &MockClient{
		statuses: make(map[string]*Status),
	}
}

func (m *MockClient) Submit(ctx context.Context, q Query) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SubmitErr != nil {
		return "", m.SubmitErr
	}

	m.nextRef++
	ref := fmt.Sprintf("mock-%d", m.nextRef)
	m.Submitted = append(m.Submitted, q)
	m.statuses[ref] = &Status{Ref: ref, State: StateQueued}
	return ref, nil
}

func (m *MockClient) Status(ctx context.Context, ref string) (*Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.StatusErr != nil {
		return nil, m.StatusErr
	}

	status, ok := m.statuses[ref]
	if !ok {
		return nil, ErrUnknownRef
	}
	copied := *status
	return &copied, nil
}

func (m *MockClient) Cancel(ctx context.Context, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.CancelErr != nil {
		return m.CancelErr
	}
	if _, ok := m.statuses[ref]; !ok {
		return ErrUnknownRef
	}
	delete(m.statuses, ref)
	return nil
}

func (m *MockClient) ListActive(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var refs []string
	for ref, status := range m.statuses {
		if status.State == StateQueued || status.State == StateActive {
			refs = append(refs, ref)
		}
	}
	return refs, nil
}

// SetStatus scripts the daemon-side progress of a transfer.
func (m *MockClient) SetStatus(ref string, status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	status.Ref = ref
	m.statuses[ref] = &status
}

// Forget drops a transfer as if the daemon restarted.
func (m *MockClient) Forget(ref string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.statuses, ref)
}

var _ Client = (*MockClient)(nil)
