package pipeline

import (
	"errors"
	"sync"
	"time"

	"github.com/satriahrh/interpreter/domain"
)

type countingObserver struct {
	mu         sync.Mutex
	retries    map[string]int
	degraded   map[string]int
	reconnects int
	calls      map[string]int
	timeouts   map[string]int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{
		retries:  make(map[string]int),
		degraded: make(map[string]int),
		calls:    make(map[string]int),
		timeouts: make(map[string]int),
	}
}

func (o *countingObserver) CallFinished(stage, _ string, _ time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls[stage]++
	if errors.Is(err, domain.ErrCollaboratorTimeout) {
		o.timeouts[stage]++
	}
}

func (o *countingObserver) Retried(stage, _ string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.retries[stage]++
}

func (o *countingObserver) Degraded(stage string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.degraded[stage]++
}

func (o *countingObserver) Reconnected(string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reconnects++
}
