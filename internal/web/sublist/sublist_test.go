package sublist

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type mockSub struct {
	got    [][]byte
	closed bool
}

func (m *mockSub) Push(sender string, d []byte) bool {
	if m.closed {
		return true
	}
	m.got = append(m.got, d)
	return false
}

func TestSendReachesEverySubscriber(t *testing.T) {
	l := NewSublist()
	a, b := &mockSub{}, &mockSub{}
	l.Subscribe("a", a)
	l.Subscribe("b", b)
	assert.Equal(t, 2, l.Send("", []byte("x")))
	assert.Equal(t, [][]byte{[]byte("x")}, a.got)
	assert.Equal(t, [][]byte{[]byte("x")}, b.got)
}

func TestClosedSubscriberIsPruned(t *testing.T) {
	l := NewSublist()
	a, b := &mockSub{}, &mockSub{closed: true}
	l.Subscribe("a", a)
	l.Subscribe("b", b)
	assert.Equal(t, 1, l.Send("", []byte("x")))
	assert.Equal(t, 1, l.Len())
}

func TestUnsubscribe(t *testing.T) {
	l := NewSublist()
	a := &mockSub{}
	l.Subscribe("a", a)
	l.Unsubscribe("a")
	l.Unsubscribe("a")
	assert.Equal(t, 0, l.Send("", []byte("x")))
	assert.Empty(t, a.got)
}
