package handlers

// Slots bounds concurrent renders. Acquisition never blocks: a full
// pool answers 429 immediately so the requester can retry elsewhere.
type Slots struct {
	sem chan struct{}
}

func NewSlots(n int) *Slots {
	if n <= 0 {
		n = 2
	}
	return &Slots{sem: make(chan struct{}, n)}
}

// TryAcquire claims a slot if one is free.
func (s *Slots) TryAcquire() bool {
	select {
	case s.sem <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release returns a slot. Must be called exactly once per successful
// TryAcquire, including when the request context is canceled.
func (s *Slots) Release() {
	select {
	case <-s.sem:
	default:
	}
}

// Free reports the number of available slots.
func (s *Slots) Free() int {
	return cap(s.sem) - len(s.sem)
}

// Capacity reports the pool size.
func (s *Slots) Capacity() int {
	return cap(s.sem)
}
