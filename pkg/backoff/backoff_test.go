package backoff

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDelay_Scenario(t *testing.T) {
	s := NewSchedule(1000*time.Millisecond, 30000*time.Millisecond)

	want := []time.Duration{
		1000 * time.Millisecond,
		2000 * time.Millisecond,
		4000 * time.Millisecond,
		8000 * time.Millisecond,
		16000 * time.Millisecond,
	}
	for k, w := range want {
		assert.Equal(t, w, s.Delay(k), "attempt %d", k)
	}

	assert.Equal(t, 30000*time.Millisecond, s.Delay(5))
	assert.Equal(t, 30000*time.Millisecond, s.Delay(6))
}

func TestDelay_MatchesFormulaAndIsNonDecreasing(t *testing.T) {
	base := 250 * time.Millisecond
	max := 45 * time.Second

	prev := time.Duration(0)
	for k := 0; k < 80; k++ {
		got := Delay(k, base, max)

		expected := max
		if k < 30 {
			if v := base * time.Duration(int64(1)<<uint(k)); v < max {
				expected = v
			}
		}
		assert.Equal(t, expected, got, "attempt %d", k)
		assert.GreaterOrEqual(t, got, prev, "attempt %d", k)
		prev = got
	}
}

func TestDelay_LargeAttemptDoesNotOverflow(t *testing.T) {
	assert.Equal(t, 30*time.Second, Delay(1<<20, time.Second, 30*time.Second))
}

func TestDelay_NonPositiveBase(t *testing.T) {
	assert.Equal(t, time.Duration(0), Delay(1<<40, 0, 30*time.Second))
	assert.Equal(t, time.Duration(0), Delay(3, -time.Second, 30*time.Second))
}

func TestDelay_NegativeAttempt(t *testing.T) {
	assert.Equal(t, time.Second, Delay(-3, time.Second, 30*time.Second))
}

func TestNewSchedule_Defaults(t *testing.T) {
	s := NewSchedule(0, 0)
	assert.Equal(t, DefaultBaseDelay, s.Base)
	assert.Equal(t, DefaultMaxDelay, s.Max)

	s = NewSchedule(5*time.Second, time.Second)
	assert.Equal(t, 5*time.Second, s.Max, "max is raised to base")
}

func TestJittered_Bounds(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	d := 8 * time.Second

	for i := 0; i < 1000; i++ {
		j := Jittered(d, rng)
		assert.GreaterOrEqual(t, j, d/2)
		assert.LessOrEqual(t, j, d)
	}

	assert.Equal(t, time.Millisecond, Jittered(time.Millisecond, rng))
}
