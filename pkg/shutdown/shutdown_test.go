package shutdown

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestShutdown_FirstCallWins(t *testing.T) {
	m := NewManager()
	assert.False(t, m.IsShuttingDown())
	assert.True(t, m.Shutdown())
	assert.False(t, m.Shutdown(), "second call must report already shut down")
	assert.True(t, m.IsShuttingDown())
}

func TestWait_WakesEveryWaiter(t *testing.T) {
	m := NewManager()

	const waiters = 4
	var wg sync.WaitGroup
	wg.Add(waiters)
	for i := 0; i < waiters; i++ {
		go func() {
			defer wg.Done()
			<-m.Wait()
		}()
	}

	m.Shutdown()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("not every waiter woke after Shutdown")
	}
}

func TestWait_ObservableAfterShutdown(t *testing.T) {
	m := NewManager()
	m.Shutdown()

	select {
	case <-m.Wait():
	default:
		t.Fatal("Wait channel not closed after Shutdown")
	}
}
