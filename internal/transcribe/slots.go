package transcribe

import (
	"context"
	"errors"
	"time"
)

var (
	ErrBulkheadFull    = errors.New("all inference slots are busy")
	ErrBulkheadTimeout = errors.New("timed out waiting for an inference slot")
)

// slots bounds concurrent engine calls. With one slot it is a mutex with a
// bounded wait.
type slots struct {
	sem     chan struct{}
	maxWait time.Duration
}

func newSlots(maxConcurrent int, maxWait time.Duration) *slots {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &slots{
		sem:     make(chan struct{}, maxConcurrent),
		maxWait: maxWait,
	}
}

// acquire returns a release func once a slot is held. A zero maxWait fails
// immediately when every slot is taken.
func (s *slots) acquire(ctx context.Context) (func(), error) {
	select {
	case s.sem <- struct{}{}:
		return s.release, nil
	default:
	}

	if s.maxWait <= 0 {
		return nil, ErrBulkheadFull
	}

	timer := time.NewTimer(s.maxWait)
	defer timer.Stop()

	select {
	case s.sem <- struct{}{}:
		return s.release, nil
	case <-timer.C:
		return nil, ErrBulkheadTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *slots) release() {
	<-s.sem
}

func (s *slots) inUse() int {
	return len(s.sem)
}

func (s *slots) capacity() int {
	return cap(s.sem)
}
