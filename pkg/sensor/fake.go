package sensor

import (
	"math/rand"
	"sync"
	"time"
)

// FakeSensor simulates a photodiode whose voltage drifts as a bounded
// random walk between 0 and maxVolts.
type FakeSensor struct {
	mu       sync.Mutex
	rnd      *rand.Rand
	maxVolts float64
	value    float64
}

func NewFakeSensor(seed int64, maxVolts float64) Sensor {
	if maxVolts <= 0 {
		maxVolts = 3.3
	}
	rnd := rand.New(rand.NewSource(seed))
	return &FakeSensor{rnd: rnd, maxVolts: maxVolts, value: rnd.Float64() * maxVolts}
}

func (f *FakeSensor) Read() (Reading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	step := (f.rnd.Float64()*2 - 1) * f.maxVolts * 0.02
	f.value = clamp(f.value+step, 0, f.maxVolts)
	raw := int16(f.value / f.maxVolts * 32767)
	return Reading{Raw: raw, Value: f.value, Timestamp: time.Now()}, nil
}

func (f *FakeSensor) Close() error { return nil }
