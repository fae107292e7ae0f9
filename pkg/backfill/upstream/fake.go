package upstream

import (
	"context"
	"sync"
)

// NoopFetcher returns an empty payload for every request. Useful as a
// constructor placeholder in tests that never exercise fetch behavior.
type NoopFetcher struct{}

func (NoopFetcher) Fetch(context.Context, string, string) (map[string]any, error) {
	return map[string]any{}, nil
}

// NoopComputer returns an empty payload for every request.
type NoopComputer struct{}

func (NoopComputer) Compute(context.Context, string, string, map[string]any) (map[string]any, error) {
	return map[string]any{}, nil
}

// FakeFetcher is a scriptable test double: Responses maps "date/entityID"
// to a payload, Errors maps it to an error, and RateLimitUntil lets a test inject a
// fixed number of 429s before a unit starts succeeding (S2 in the test
// scenarios this subsystem is built against).
type FakeFetcher struct {
	mu sync.Mutex

	Responses      map[string]map[string]any
	Errors         map[string]error
	RateLimitUntil map[string]int // unit key -> number of ErrRateLimited responses before success

	calls map[string]int
}

// NewFakeFetcher creates an empty FakeFetcher ready for test setup.
func NewFakeFetcher() *FakeFetcher {
	return &FakeFetcher{
		Responses:      make(map[string]map[string]any),
		Errors:         make(map[string]error),
		RateLimitUntil: make(map[string]int),
		calls:          make(map[string]int),
	}
}

func (f *FakeFetcher) key(date, entityID string) string {
	return date + "/" + entityID
}

func (f *FakeFetcher) Fetch(_ context.Context, date, entityID string) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := f.key(date, entityID)
	f.calls[key]++

	if limit, ok := f.RateLimitUntil[key]; ok && f.calls[key] <= limit {
		return nil, ErrRateLimited
	}
	if err, ok := f.Errors[key]; ok {
		return nil, err
	}
	if payload, ok := f.Responses[key]; ok {
		return payload, nil
	}
	return map[string]any{}, nil
}

// CallCount reports how many times Fetch was invoked for (date, entityID),
// letting a test assert a unit was retried the expected number of times.
func (f *FakeFetcher) CallCount(date, entityID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[f.key(date, entityID)]
}

// FakeComputer is a scriptable test double for Computer.
type FakeComputer struct {
	Responses map[string]map[string]any
}

// NewFakeComputer creates an empty FakeComputer ready for test setup.
func NewFakeComputer() *FakeComputer {
	return &FakeComputer{Responses: make(map[string]map[string]any)}
}

func (f *FakeComputer) Compute(_ context.Context, snapshotID, entityID string, _ map[string]any) (map[string]any, error) {
	if payload, ok := f.Responses[snapshotID+"/"+entityID]; ok {
		return payload, nil
	}
	return map[string]any{}, nil
}
