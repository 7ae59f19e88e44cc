package workflow

import (
	"sync"
	"testing"
)

// These tests are DB-free. They pin the delivery contract the consumer relies
// on: duplicate Pub/Sub deliveries collapse to one processing call (durable
// idempotency keys) and events for the same property never interleave inside
// a handler (the per-property posting lock).
//
// Integration coverage against real MySQL and a Pub/Sub emulator lives
// outside this package.

type fakeDispatcher struct {
	muByProperty map[string]*sync.Mutex
	mu           sync.Mutex
	handled      map[string]bool
	calls        int
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{
		muByProperty: map[string]*sync.Mutex{},
		handled:      map[string]bool{},
	}
}

func (d *fakeDispatcher) dispatch(propertyId, refType, messageId string, fn func()) {
	// Stand-in for AcquirePropertyPostingLock.
	d.mu.Lock()
	pm := d.muByProperty[propertyId]
	if pm == nil {
		pm = &sync.Mutex{}
		d.muByProperty[propertyId] = pm
	}
	d.mu.Unlock()

	pm.Lock()
	defer pm.Unlock()

	// Stand-in for BeginIdempotency.
	key := refType + "|" + messageId
	d.mu.Lock()
	if d.handled[key] {
		d.mu.Unlock()
		return
	}
	d.handled[key] = true
	d.mu.Unlock()

	fn()

	d.mu.Lock()
	d.calls++
	d.mu.Unlock()
}

func TestDispatch_DuplicateDeliveryProcessedOnce(t *testing.T) {
	d := newFakeDispatcher()

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.dispatch("prop-1", "IS", "msg-1", func() {})
		}()
	}
	wg.Wait()

	if d.calls != 1 {
		t.Fatalf("expected exactly 1 processing call, got %d", d.calls)
	}
}

func TestDispatch_PerPropertySerializationIsDeterministic(t *testing.T) {
	for run := 0; run < 100; run++ {
		d := newFakeDispatcher()
		var wg sync.WaitGroup

		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				d.dispatch("prop-1", "IS", "msg-1", func() {})
				d.dispatch("prop-1", "DI", "msg-2", func() {})
				d.dispatch("prop-1", "IS", "msg-1", func() {}) // redelivery
			}()
		}
		wg.Wait()

		if d.calls != 2 {
			t.Fatalf("run=%d expected 2 unique calls, got %d", run, d.calls)
		}
	}
}
