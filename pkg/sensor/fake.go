package sensor

import (
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// FakeSource emits random but valid lines at a fixed interval, in the same
// format as the board. It is used when no hardware is attached.
type FakeSource struct {
	interval time.Duration
	rnd      *rand.Rand
	now      func() time.Time
	last     time.Time
	closed   bool
	mu       sync.Mutex
}

func NewFakeSource(interval time.Duration, seed int64) *FakeSource {
	return &FakeSource{interval: interval, rnd: rand.New(rand.NewSource(seed)), now: time.Now}
}

func (f *FakeSource) Poll() ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, false, fmt.Errorf("fake source closed")
	}
	now := f.now()
	if !f.last.IsZero() && now.Sub(f.last) < f.interval {
		return nil, false, nil
	}
	f.last = now
	temp := 20 + f.rnd.Float64()*5
	humi := 50 + f.rnd.Float64()*10
	lumi := 400 + f.rnd.Intn(500)
	return []byte(fmt.Sprintf("temp:%.1f,humi:%.1f,lumi:%d\r", temp, humi, lumi)), true, nil
}

func (f *FakeSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
