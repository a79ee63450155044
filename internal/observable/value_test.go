package observable

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValue_SubscribeDeliversCurrent(t *testing.T) {
	v := New(1)
	ch, cancel := v.Subscribe()
	defer cancel()

	assert.Equal(t, 1, <-ch)
}

func TestValue_ConflatesUnreadValues(t *testing.T) {
	v := New(0)
	ch, cancel := v.Subscribe()
	defer cancel()

	v.Set(1)
	v.Set(2)
	v.Set(3)

	assert.Equal(t, 3, <-ch)
	select {
	case got := <-ch:
		t.Fatalf("unexpected extra value %d", got)
	default:
	}
}

func TestValue_Update(t *testing.T) {
	v := New([]string{"a"})
	got := v.Update(func(s []string) []string { return append(s, "b") })

	assert.Equal(t, []string{"a", "b"}, got)
	assert.Equal(t, []string{"a", "b"}, v.Get())
}

func TestValue_CancelClosesChannel(t *testing.T) {
	v := New("x")
	ch, cancel := v.Subscribe()
	<-ch
	cancel()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)

	v.Set("y") // no panic on closed subscriber
	assert.Equal(t, "y", v.Get())
}
