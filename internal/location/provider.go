// Package location adapts the device location source to a channel of
// coordinate samples. The actual acquisition mechanism lives outside
// this module; callers plug in any SampleFunc.
package location

import (
	"context"
	"time"
)

// Sample is one device coordinate reading.
type Sample struct {
	Latitude  float64
	Longitude float64
}

// SampleFunc produces the current device coordinates.
type SampleFunc func(ctx context.Context) (Sample, error)

// Provider yields periodic coordinate samples.
type Provider interface {
	Samples(ctx context.Context) <-chan Sample
}

// TickerProvider polls a SampleFunc on a fixed interval. Failed reads
// are skipped; the next tick tries again.
type TickerProvider struct {
	Interval time.Duration
	Read     SampleFunc
}

// Samples starts the polling loop. The channel closes when ctx is
// cancelled.
func (p *TickerProvider) Samples(ctx context.Context) <-chan Sample {
	out := make(chan Sample)
	go func() {
		defer close(out)
		ticker := time.NewTicker(p.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			sample, err := p.Read(ctx)
			if err != nil {
				continue
			}
			select {
			case out <- sample:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Static returns a provider that always reports the same coordinates.
// Useful for tests and desktop runs without a location source.
func Static(lat, lng float64, interval time.Duration) *TickerProvider {
	return &TickerProvider{
		Interval: interval,
		Read: func(context.Context) (Sample, error) {
			return Sample{Latitude: lat, Longitude: lng}, nil
		},
	}
}
