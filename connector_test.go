package netreactor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relaycove/netreactor/addr"
)

func TestConnectorBackoffDoublesAndCaps(t *testing.T) {
	l := newTestLoop(t)
	serverAddr := addr.New(1, true, addr.FamilyV4)

	var c *connector
	ready := make(chan struct{})
	l.RunInLoop(func() {
		c = newConnector(l, serverAddr)
		c.wantConnect.Store(true)
		close(ready)
	})
	<-ready

	wantDelays := []time.Duration{
		1000 * time.Millisecond,
		2000 * time.Millisecond,
		4000 * time.Millisecond,
		8000 * time.Millisecond,
		16000 * time.Millisecond,
		30000 * time.Millisecond,
		30000 * time.Millisecond,
	}

	done := make(chan struct{})
	l.RunInLoop(func() {
		require.Equal(t, initRetryDelay, c.retryDelay)
		for _, want := range wantDelays {
			c.retry(-1)
			require.Equal(t, want, c.retryDelay)
		}
		close(done)
	})
	<-done
}

func TestConnectorStopAfterConnectingAbandonsWithoutRetry(t *testing.T) {
	l := newTestLoop(t)
	serverAddr := addr.New(1, true, addr.FamilyV4)

	var c *connector
	ready := make(chan struct{})
	l.RunInLoop(func() {
		c = newConnector(l, serverAddr)
		close(ready)
	})
	<-ready

	c.start()
	time.Sleep(20 * time.Millisecond)
	c.stop()
	time.Sleep(20 * time.Millisecond)

	done := make(chan struct{})
	l.RunInLoop(func() {
		require.Equal(t, ConnectorDisconnected, c.state)
		close(done)
	})
	<-done
}
