package ratelimit

import (
	"testing"
	"time"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newClock() *clock {
	return &clock{t: time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)}
}

func TestLimiter_AdmitsUpToLimit(t *testing.T) {
	c := newClock()
	l := New(3, time.Minute, WithClock(c.now))
	for i := 0; i < 3; i++ {
		if !l.Allow() {
			t.Fatalf("message %d should be admitted", i+1)
		}
	}
	if l.Allow() {
		t.Fatal("4th message should be rejected")
	}
}

func TestLimiter_WindowRolls(t *testing.T) {
	c := newClock()
	l := New(2, time.Minute, WithClock(c.now))
	l.Allow()
	l.Allow()
	if l.Allow() {
		t.Fatal("3rd message should be rejected")
	}

	c.t = c.t.Add(time.Minute)
	if l.Allow() {
		t.Fatal("window boundary is inclusive")
	}

	c.t = c.t.Add(time.Second)
	if !l.Allow() {
		t.Fatal("message in a new window should be admitted")
	}
	if !l.Allow() {
		t.Fatal("second message in the new window should be admitted")
	}
	if l.Allow() {
		t.Fatal("third message in the new window should be rejected")
	}
}

func TestLimiter_ZeroLimit(t *testing.T) {
	l := New(0, time.Minute)
	if l.Allow() {
		t.Fatal("zero limit admits nothing")
	}
}

func TestLimiter_RealClock(t *testing.T) {
	l := New(1, 20*time.Millisecond)
	if !l.Allow() {
		t.Fatal("first message should be admitted")
	}
	if l.Allow() {
		t.Fatal("second message should be rejected")
	}
	time.Sleep(30 * time.Millisecond)
	if !l.Allow() {
		t.Fatal("message after the window should be admitted")
	}
}
