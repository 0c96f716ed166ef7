package gateway

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spidees/scum-server-automation/internal/domain"
)

type staticURLSource struct{ url string }

func (s staticURLSource) GatewayURL(ctx context.Context) (string, error) {
	return s.url, nil
}

func testSupervisorConfig() SupervisorConfig {
	return SupervisorConfig{
		Token:               "tok",
		Intents:             ComputeIntents(IntentGuildMessages, IntentDirectMessages),
		HandshakeTimeout:    2 * time.Second,
		RecoveryCooldown:    100 * time.Millisecond,
		MaxRecoveryAttempts: 3,
		CloseTimeout:        100 * time.Millisecond,
		SettleDelay:         10 * time.Millisecond,
		PresenceSettle:      10 * time.Millisecond,
	}
}

// ackingGateway serves full handshakes and acks every heartbeat. When
// dropFirst is set, the first connection is cut shortly after READY.
func ackingGateway(t *testing.T, dropFirst bool) string {
	var connCount int64
	return newFakeGateway(t, func(conn *websocket.Conn) {
		n := atomic.AddInt64(&connCount, 1)

		writeFrame(t, conn, `{"op":10,"d":{"heartbeat_interval":50}}`)
		readFrame(t, conn)
		writeFrame(t, conn, `{"op":11}`)
		readFrame(t, conn)
		writeFrame(t, conn, `{"op":0,"t":"READY","s":1,"d":{"session_id":"sess-1"}}`)

		if dropFirst && n == 1 {
			// Simulate the server side going away
			time.Sleep(50 * time.Millisecond)
			return
		}

		for {
			conn.SetReadDeadline(time.Now().Add(5 * time.Second))
			messageType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			ev, err := DecodeFrame(messageType, data)
			if err != nil {
				continue
			}
			if ev.Opcode == OpHeartbeat {
				writeFrame(t, conn, `{"op":11}`)
			}
		}
	})
}

// silentAckGateway serves full handshakes, but the first connection keeps
// its socket open and never acks another heartbeat after READY. Later
// connections ack everything.
func silentAckGateway(t *testing.T) string {
	var connCount int64
	return newFakeGateway(t, func(conn *websocket.Conn) {
		n := atomic.AddInt64(&connCount, 1)

		writeFrame(t, conn, `{"op":10,"d":{"heartbeat_interval":30}}`)
		readFrame(t, conn)
		writeFrame(t, conn, `{"op":11}`)
		readFrame(t, conn)
		writeFrame(t, conn, `{"op":0,"t":"READY","s":1,"d":{"session_id":"sess-1"}}`)

		for {
			conn.SetReadDeadline(time.Now().Add(5 * time.Second))
			messageType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if n == 1 {
				continue
			}
			ev, err := DecodeFrame(messageType, data)
			if err != nil {
				continue
			}
			if ev.Opcode == OpHeartbeat {
				writeFrame(t, conn, `{"op":11}`)
			}
		}
	})
}

func collectLifecycle(ch <-chan domain.LifecycleEvent) []string {
	var types []string
	for {
		select {
		case ev := <-ch:
			types = append(types, ev.Type)
		default:
			return types
		}
	}
}

func TestSupervisorStartConnects(t *testing.T) {
	url := ackingGateway(t, false)
	presence := NewPresenceUpdater(time.Hour, zerolog.Nop())
	sup := NewSupervisor(testSupervisorConfig(), staticURLSource{url}, presence, zerolog.Nop())

	require.NoError(t, sup.Start(context.Background()))
	defer sup.Stop()

	assert.Equal(t, StateReady, sup.SessionState())
	assert.Equal(t, Healthy, sup.CheckHealth(context.Background()))

	types := collectLifecycle(sup.Lifecycle())
	assert.Contains(t, types, domain.EventGatewayConnected)
}

func TestSupervisorRecoversFromDroppedConnection(t *testing.T) {
	url := ackingGateway(t, true)
	presence := NewPresenceUpdater(time.Hour, zerolog.Nop())
	sup := NewSupervisor(testSupervisorConfig(), staticURLSource{url}, presence, zerolog.Nop())

	require.NoError(t, sup.Start(context.Background()))
	defer sup.Stop()

	// The first connection drops ~50ms in; the loop must notice and
	// re-establish a fresh session.
	var sawDegraded, sawReconnected bool
	deadline := time.After(5 * time.Second)
	for !(sawDegraded && sawReconnected) {
		select {
		case ev := <-sup.Lifecycle():
			switch ev.Type {
			case domain.EventGatewayDegraded:
				sawDegraded = true
			case domain.EventGatewayReconnected:
				sawReconnected = true
			}
		case <-deadline:
			t.Fatalf("recovery did not complete (degraded=%v reconnected=%v)",
				sawDegraded, sawReconnected)
		}
	}

	require.Eventually(t, func() bool {
		return sup.SessionState() == StateReady
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, sup.AttemptCount())
}

func TestSupervisorRecoversFromZombieConnection(t *testing.T) {
	url := silentAckGateway(t)
	presence := NewPresenceUpdater(time.Hour, zerolog.Nop())
	sup := NewSupervisor(testSupervisorConfig(), staticURLSource{url}, presence, zerolog.Nop())

	require.NoError(t, sup.Start(context.Background()))
	defer sup.Stop()

	// The socket stays open while acks stop; only the heartbeat silence
	// clock can surface this failure.
	var degradedReason string
	var sawReconnected bool
	deadline := time.After(5 * time.Second)
	for !(degradedReason != "" && sawReconnected) {
		select {
		case ev := <-sup.Lifecycle():
			switch ev.Type {
			case domain.EventGatewayDegraded:
				if degradedReason == "" {
					degradedReason = ev.Reason
				}
			case domain.EventGatewayReconnected:
				sawReconnected = true
			}
		case <-deadline:
			t.Fatalf("zombie recovery did not complete (degraded=%q reconnected=%v)",
				degradedReason, sawReconnected)
		}
	}
	assert.Contains(t, degradedReason, "silence")

	require.Eventually(t, func() bool {
		return sup.SessionState() == StateReady
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, sup.AttemptCount())
}

func TestSupervisorRecoveryCooldown(t *testing.T) {
	presence := NewPresenceUpdater(time.Hour, zerolog.Nop())
	// Nothing listens here; every attempt fails fast
	sup := NewSupervisor(testSupervisorConfig(), staticURLSource{"ws://127.0.0.1:1"}, presence, zerolog.Nop())

	ctx := context.Background()
	assert.Equal(t, RecoveryFailed, sup.CheckHealth(ctx))
	assert.Equal(t, 1, sup.AttemptCount())

	// Back-to-back checks inside the window do not burn attempts
	assert.Equal(t, CooldownActive, sup.CheckHealth(ctx))
	assert.Equal(t, CooldownActive, sup.CheckHealth(ctx))
	assert.Equal(t, 1, sup.AttemptCount())
}

func TestSupervisorRecoveryExhaustion(t *testing.T) {
	presence := NewPresenceUpdater(time.Hour, zerolog.Nop())
	sup := NewSupervisor(testSupervisorConfig(), staticURLSource{"ws://127.0.0.1:1"}, presence, zerolog.Nop())

	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		result := sup.CheckHealth(ctx)
		if i < 3 {
			assert.Equal(t, RecoveryFailed, result)
		} else {
			// The final failed attempt reports exhaustion
			assert.Equal(t, RecoveryExhausted, result)
		}
		assert.Equal(t, i, sup.AttemptCount())
		time.Sleep(110 * time.Millisecond)
	}

	// Exhausted stays exhausted without further attempts
	assert.Equal(t, RecoveryExhausted, sup.CheckHealth(ctx))
	assert.Equal(t, RecoveryExhausted, sup.CheckHealth(ctx))
	assert.Equal(t, 3, sup.AttemptCount())

	// Exactly one exhaustion alert
	types := collectLifecycle(sup.Lifecycle())
	exhausted := 0
	for _, typ := range types {
		if typ == domain.EventRecoveryExhausted {
			exhausted++
		}
	}
	assert.Equal(t, 1, exhausted)

	// Operator reset allows recovery attempts again
	sup.ResetRecovery()
	assert.Equal(t, 0, sup.AttemptCount())
	assert.Equal(t, RecoveryFailed, sup.CheckHealth(ctx))
}

func TestSupervisorStopIdempotent(t *testing.T) {
	url := ackingGateway(t, false)
	presence := NewPresenceUpdater(time.Hour, zerolog.Nop())
	sup := NewSupervisor(testSupervisorConfig(), staticURLSource{url}, presence, zerolog.Nop())

	require.NoError(t, sup.Start(context.Background()))
	sup.Stop()
	sup.Stop()
	assert.Equal(t, StateDisconnected, sup.SessionState())
}

func TestHealthResultString(t *testing.T) {
	assert.Equal(t, "healthy", Healthy.String())
	assert.Equal(t, "cooldown_active", CooldownActive.String())
	assert.Equal(t, "recovery_failed", RecoveryFailed.String())
	assert.Equal(t, "recovery_succeeded", RecoverySucceeded.String())
	assert.Equal(t, "recovery_exhausted", RecoveryExhausted.String())
}
