package memory

import (
	"math"
	"testing"
	"time"
)

func TestDecayScore_NoElapsedTime(t *testing.T) {
	now := time.Now()
	got := decayScore(now, 5, now, 0.98)
	if math.Abs(got-1.0) > 1e-9 {
		t.Errorf("decayScore with zero elapsed time = %v, want 1.0", got)
	}
}

func TestDecayScore_DecreasesOverTime(t *testing.T) {
	now := time.Now()
	recent := decayScore(now.Add(-1*time.Hour), 1, now, 0.98)
	older := decayScore(now.Add(-100*time.Hour), 1, now, 0.98)
	if !(recent > older) {
		t.Errorf("expected recent decay %v > older decay %v", recent, older)
	}
	if recent > 1.0 || older < 0 {
		t.Errorf("decay score out of expected [0,1] range: recent=%v older=%v", recent, older)
	}
}

func TestDecayScore_HigherAccessCountSlowsDecay(t *testing.T) {
	now := time.Now()
	lastAccessed := now.Add(-50 * time.Hour)
	rarely := decayScore(lastAccessed, 1, now, 0.98)
	often := decayScore(lastAccessed, 100, now, 0.98)
	if !(often > rarely) {
		t.Errorf("expected frequently-accessed item to decay slower: often=%v rarely=%v", often, rarely)
	}
}

func TestDecayScore_FutureTimestampClampedToZeroElapsed(t *testing.T) {
	now := time.Now()
	got := decayScore(now.Add(time.Hour), 1, now, 0.98)
	if math.Abs(got-1.0) > 1e-9 {
		t.Errorf("decayScore with future lastAccessedAt = %v, want 1.0 (clamped)", got)
	}
}

func TestRecencyBoost_ClosestToQueryTimeScoresHighest(t *testing.T) {
	qt := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	near := recencyBoost(qt.Add(-time.Hour), &qt, 24)
	far := recencyBoost(qt.Add(-500*time.Hour), &qt, 24)
	if !(near > far) {
		t.Errorf("expected near event to score higher: near=%v far=%v", near, far)
	}
}

func TestRecencyBoost_DefaultsToNowWithoutQueryTime(t *testing.T) {
	got := recencyBoost(time.Now(), nil, 24)
	if math.Abs(got-1.0) > 1e-6 {
		t.Errorf("recencyBoost of now with no query time = %v, want ~1.0", got)
	}
}

func TestDecayExp_Monotonic(t *testing.T) {
	a := decayExp(1, 10)
	b := decayExp(10, 10)
	c := decayExp(100, 10)
	if !(a > b && b > c) {
		t.Errorf("expected decayExp to be strictly decreasing in hours: a=%v b=%v c=%v", a, b, c)
	}
}
