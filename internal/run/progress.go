package run

import "sync"

// Progress counts completed work units against a total computed up front, so
// callers can render an exact bar instead of an estimate. Step is safe to
// call from pool workers.
type Progress struct {
	mu       sync.Mutex
	done     int
	total    int
	onChange func(done, total int)
}

// NewProgress builds a tracker over the given unit total. onChange, when
// set, fires after every completed unit.
func NewProgress(total int, onChange func(done, total int)) *Progress {
	return &Progress{total: total, onChange: onChange}
}

// Step records one completed unit. The count never exceeds the total.
func (p *Progress) Step() {
	p.mu.Lock()
	if p.done < p.total {
		p.done++
	}
	done, total := p.done, p.total
	cb := p.onChange
	p.mu.Unlock()

	if cb != nil {
		cb(done, total)
	}
}

// Snapshot returns the current done and total unit counts.
func (p *Progress) Snapshot() (done, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done, p.total
}
