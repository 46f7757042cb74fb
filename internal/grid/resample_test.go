package grid

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"bg-algo-checker/internal/models"
)

var fiveMin = models.Millis(models.SampleInterval)

func series(values ...float64) []models.RawSample {
	out := make([]models.RawSample, len(values))
	for i, v := range values {
		out[i] = models.RawSample{Value: v, Timestamp: int64(i) * fiveMin, SessionID: 1}
	}
	return out
}

func TestResample_NoGapsIsIdentity(t *testing.T) {
	in := series(100, 101, 103, 99, 98, 105, 110, 108, 107, 111, 112, 115)

	tests := []struct {
		anchor int
		n      int
	}{
		{11, 11},
		{10, 11},
		{11, 5},
		{4, 5},
		{0, 1},
	}
	for _, tt := range tests {
		got, err := Resample(in, tt.anchor, tt.n)
		if err != nil {
			t.Fatalf("Resample(%d, %d): %v", tt.anchor, tt.n, err)
		}
		want := in[tt.anchor-tt.n+1 : tt.anchor+1]
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("Resample(%d, %d) mismatch (-want +got):\n%s", tt.anchor, tt.n, diff)
		}
	}
}

func TestResample_AnchorOutOfRange(t *testing.T) {
	in := series(1, 2, 3)
	for _, anchor := range []int{3, 10, -1} {
		if _, err := Resample(in, anchor, 2); !errors.Is(err, ErrAnchorOutOfRange) {
			t.Errorf("anchor %d: expected ErrAnchorOutOfRange, got %v", anchor, err)
		}
	}
	if _, err := Resample(in, 1, 0); !errors.Is(err, ErrAnchorOutOfRange) {
		t.Errorf("n=0: expected ErrAnchorOutOfRange, got %v", err)
	}
}

func TestResample_InterpolatesInteriorGap(t *testing.T) {
	// readings at 0, 5 and 25 minutes: slots 10, 15, 20 are missing
	in := []models.RawSample{
		{Value: 100, Timestamp: 0},
		{Value: 110, Timestamp: 1 * fiveMin},
		{Value: 150, Timestamp: 5 * fiveMin},
	}
	got, err := Resample(in, 2, 6)
	if err != nil {
		t.Fatalf("Resample: %v", err)
	}
	if len(got) != 6 {
		t.Fatalf("expected 6 samples, got %d", len(got))
	}

	wantValues := []float64{100, 110, 120, 130, 140, 150}
	for i, want := range wantValues {
		if diff := got[i].Value - want; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("slot %d value = %f, want %f", i, got[i].Value, want)
		}
		if got[i].Timestamp != int64(i)*fiveMin {
			t.Errorf("slot %d timestamp = %d, want %d", i, got[i].Timestamp, int64(i)*fiveMin)
		}
	}
	for i := 2; i <= 4; i++ {
		if got[i].NoiseLevel != models.NoiseUnknown {
			t.Errorf("interpolated slot %d should carry unknown noise, got %d", i, got[i].NoiseLevel)
		}
	}
}

func TestResample_InterpolationStaysWithinBounds(t *testing.T) {
	in := []models.RawSample{
		{Value: 180, Timestamp: 0},
		{Value: 95, Timestamp: 4*fiveMin + 40_000},
		{Value: 97, Timestamp: 5 * fiveMin},
		{Value: 140, Timestamp: 9*fiveMin - 30_000},
	}
	got, err := Resample(in, 3, 10)
	if err != nil {
		t.Fatalf("Resample: %v", err)
	}

	realAt := map[int64]bool{}
	for _, s := range in {
		realAt[s.Timestamp] = true
	}
	var realIdx []int
	for i, s := range got {
		if realAt[s.Timestamp] {
			realIdx = append(realIdx, i)
		}
	}
	if len(realIdx) != len(in) {
		t.Fatalf("expected %d real samples in window, found %d", len(in), len(realIdx))
	}
	for j := 1; j < len(realIdx); j++ {
		checkBetween(t, got, realIdx[j-1], realIdx[j])
	}
}

func checkBetween(t *testing.T, got []models.RawSample, lo, hi int) {
	t.Helper()
	minV, maxV := got[lo].Value, got[hi].Value
	if minV > maxV {
		minV, maxV = maxV, minV
	}
	for i := lo + 1; i < hi; i++ {
		if got[i].Value < minV || got[i].Value > maxV {
			t.Errorf("slot %d value %f outside [%f, %f]", i, got[i].Value, minV, maxV)
		}
	}
}

func TestResample_BackfillsOldestSlots(t *testing.T) {
	in := series(120, 125, 130)
	got, err := Resample(in, 2, 6)
	if err != nil {
		t.Fatalf("Resample: %v", err)
	}
	if len(got) != 6 {
		t.Fatalf("expected 6 samples, got %d", len(got))
	}
	for i := 0; i < 3; i++ {
		if got[i].Value != 120 {
			t.Errorf("slot %d value = %f, want cloned 120", i, got[i].Value)
		}
		wantTS := -int64(3-i) * fiveMin
		if got[i].Timestamp != wantTS {
			t.Errorf("slot %d timestamp = %d, want %d", i, got[i].Timestamp, wantTS)
		}
	}
	if diff := cmp.Diff(in, got[3:]); diff != "" {
		t.Errorf("real tail mismatch (-want +got):\n%s", diff)
	}
}

func TestResample_SkipsNearDuplicates(t *testing.T) {
	in := []models.RawSample{
		{Value: 100, Timestamp: 0},
		{Value: 105, Timestamp: fiveMin},
		{Value: 999, Timestamp: 2*fiveMin - models.Millis(time.Minute)},
		{Value: 110, Timestamp: 2 * fiveMin},
	}
	got, err := Resample(in, 3, 3)
	if err != nil {
		t.Fatalf("Resample: %v", err)
	}
	for _, s := range got {
		if s.Value == 999 {
			t.Fatalf("duplicate reading leaked into window: %+v", got)
		}
	}
	want := []float64{100, 105, 110}
	for i, s := range got {
		if s.Value != want[i] {
			t.Errorf("slot %d value = %f, want %f", i, s.Value, want[i])
		}
	}
}

func TestResample_JitterSnapsToNearestSlot(t *testing.T) {
	jitter := models.Millis(time.Minute)
	in := []models.RawSample{
		{Value: 1, Timestamp: 0 + jitter},
		{Value: 2, Timestamp: fiveMin - jitter},
		{Value: 3, Timestamp: 2*fiveMin + jitter},
		{Value: 4, Timestamp: 3 * fiveMin},
	}
	got, err := Resample(in, 3, 4)
	if err != nil {
		t.Fatalf("Resample: %v", err)
	}
	for i, s := range got {
		if s.Value != float64(i+1) {
			t.Errorf("slot %d value = %f, want %d", i, s.Value, i+1)
		}
	}
}

func TestResample_DoesNotMutateInput(t *testing.T) {
	in := []models.RawSample{
		{Value: 100, Timestamp: 0},
		{Value: 150, Timestamp: 4 * fiveMin},
	}
	before := append([]models.RawSample(nil), in...)
	if _, err := Resample(in, 1, 8); err != nil {
		t.Fatalf("Resample: %v", err)
	}
	if diff := cmp.Diff(before, in); diff != "" {
		t.Errorf("input mutated (-before +after):\n%s", diff)
	}
}

func TestResample_AlwaysFullLength(t *testing.T) {
	in := []models.RawSample{
		{Value: 100, Timestamp: 0},
		{Value: 101, Timestamp: 17 * fiveMin},
		{Value: 102, Timestamp: 18*fiveMin + 1000},
		{Value: 103, Timestamp: 30 * fiveMin},
	}
	for anchor := range in {
		for _, n := range []int{1, 2, 11, 40} {
			got, err := Resample(in, anchor, n)
			if err != nil {
				t.Fatalf("Resample(%d, %d): %v", anchor, n, err)
			}
			if len(got) != n {
				t.Fatalf("Resample(%d, %d) len = %d", anchor, n, len(got))
			}
			if got[n-1] != in[anchor] {
				t.Errorf("Resample(%d, %d) does not end at anchor", anchor, n)
			}
			for i := 1; i < n; i++ {
				if got[i].Timestamp <= got[i-1].Timestamp {
					t.Errorf("Resample(%d, %d) not ordered at %d", anchor, n, i)
				}
			}
		}
	}
}
