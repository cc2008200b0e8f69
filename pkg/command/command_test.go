package command

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armsix/armcan"
)

func TestMailboxOverwriteSemantics(t *testing.T) {
	m := NewMailbox()
	m.Write(Frame{ID: 1})
	m.Write(Frame{ID: 2})
	m.Write(Frame{ID: 3})

	f, ok := m.Take()
	require.True(t, ok)
	assert.EqualValues(t, 3, f.ID, "only the latest write must ever be observed")

	_, ok = m.Take()
	assert.False(t, ok, "mailbox clears on read")
}

func TestFIFOPreservesOrder(t *testing.T) {
	q := NewFIFO(10)
	for i := uint32(1); i <= 5; i++ {
		require.NoError(t, q.Send(Frame{ID: i}))
	}
	for i := uint32(1); i <= 5; i++ {
		f, err := q.Receive(time.Second)
		require.NoError(t, err)
		assert.Equal(t, i, f.ID)
	}
}

func TestFIFOOverflowReturnsQueueFull(t *testing.T) {
	q := NewFIFO(2)
	require.NoError(t, q.Send(Frame{ID: 1}))
	require.NoError(t, q.Send(Frame{ID: 2}))
	err := q.Send(Frame{ID: 3})
	assert.ErrorIs(t, err, armcan.ErrQueueFull)
}

func TestFIFOCloseUnblocksReceiver(t *testing.T) {
	q := NewFIFO(1)
	done := make(chan struct{})
	go func() {
		_, err := q.Receive(0)
		assert.ErrorIs(t, err, armcan.ErrAlreadyDisconnected)
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	q.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("receiver did not unblock on close")
	}
}

func TestFIFOReceiveTimeout(t *testing.T) {
	q := NewFIFO(1)
	_, err := q.Receive(10 * time.Millisecond)
	assert.ErrorIs(t, err, armcan.ErrTimeout)
}

func TestQueryTableFulfillsMatchingWaiter(t *testing.T) {
	qt := NewQueryTable()
	var wg sync.WaitGroup
	wg.Add(1)
	var got [8]byte
	var err error
	go func() {
		defer wg.Done()
		got, err = qt.Await(0x410, time.Second)
	}()
	time.Sleep(10 * time.Millisecond)
	qt.Fulfill(0x410, [8]byte{1, 2, 3})
	wg.Wait()
	require.NoError(t, err)
	assert.Equal(t, [8]byte{1, 2, 3}, got)
}

func TestQueryTableUnmatchedReplyDropped(t *testing.T) {
	qt := NewQueryTable()
	qt.Fulfill(0x999, [8]byte{9}) // no waiter registered, must not panic
	_, err := qt.Await(0x410, 20*time.Millisecond)
	assert.ErrorIs(t, err, armcan.ErrTimeout)
}
