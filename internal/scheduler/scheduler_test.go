package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestScheduler_NextTick(t *testing.T) {
	base := time.Date(2024, 5, 1, 10, 17, 0, 0, time.UTC)

	tests := []struct {
		name  string
		align bool
		now   time.Time
		want  time.Time
	}{
		{name: "aligned", align: true, now: base, want: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
		{name: "on boundary", align: true, now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), want: time.Date(2024, 5, 1, 18, 0, 0, 0, time.UTC)},
		{name: "unaligned", align: false, now: base, want: base.Add(6 * time.Hour)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(Options{Interval: 6 * time.Hour, AlignToStart: tt.align}, zerolog.Nop())
			if got := s.nextTick(tt.now); !got.Equal(tt.want) {
				t.Errorf("nextTick(%v) = %v, want %v", tt.now, got, tt.want)
			}
		})
	}
}

func TestScheduler_RunRepeatsUntilCancelled(t *testing.T) {
	s := New(Options{Interval: 5 * time.Millisecond, RunOnStart: true}, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ticks := 0
	err := s.Run(ctx, func(ctx context.Context, at time.Time) error {
		ticks++
		if ticks == 3 {
			cancel()
		}
		// failures do not stop the loop
		return errors.New("source unavailable")
	})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run err = %v, want context.Canceled", err)
	}
	if ticks != 3 {
		t.Errorf("ticks = %d, want 3", ticks)
	}
}

func TestScheduler_StartupDelayHonoursCancel(t *testing.T) {
	s := New(Options{Interval: time.Hour, StartupDelay: time.Hour, RunOnStart: true}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := s.Run(ctx, func(context.Context, time.Time) error {
		called = true
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run err = %v, want context.Canceled", err)
	}
	if called {
		t.Error("tick ran despite cancelled context")
	}
}

func TestNew_PanicsOnZeroInterval(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	New(Options{}, zerolog.Nop())
}
