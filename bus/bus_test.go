package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rangeValue struct{ MM uint16 }

func capTopic(kind, name string, rest ...any) Topic {
	return T("hal", "cap", "env", kind, name).Append(rest...)
}

func recv(t *testing.T, sub *Subscription) *Message {
	t.Helper()
	select {
	case m := <-sub.Channel():
		return m
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("no message on %s", sub.Topic())
		return nil
	}
}

func recvN(t *testing.T, sub *Subscription, n int) map[string]any {
	t.Helper()
	out := map[string]any{}
	for i := 0; i < n; i++ {
		m := recv(t, sub)
		out[m.Topic.String()] = m.Payload
	}
	return out
}

func silent(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case m := <-sub.Channel():
		t.Fatalf("unexpected message on %s: %+v", m.Topic, m.Payload)
	case <-time.After(30 * time.Millisecond):
	}
}

// -----------------------------------------------------------------------------
// Retained state
// -----------------------------------------------------------------------------

func TestConfigReachesServiceStartedLater(t *testing.T) {
	b := NewBus(4)
	cfg := b.NewConnection("config")
	cfg.Publish(cfg.NewMessage(T("config", "hal"), "devices", true))
	cfg.Publish(cfg.NewMessage(T("config", "heartbeat"), "2s", true))

	hal := b.NewConnection("hal")
	sub := hal.Subscribe(T("config", "hal"))
	m := recv(t, sub)
	assert.Equal(t, "devices", m.Payload)
	assert.True(t, m.Retained)
	silent(t, sub)

	cfg.Publish(cfg.NewMessage(T("config", "hal"), "devices v2", true))
	assert.Equal(t, "devices v2", recv(t, sub).Payload, "live update after retained replay")
}

func TestRetainedValuesByWildcard(t *testing.T) {
	b := NewBus(8)
	hal := b.NewConnection("hal")
	hal.Publish(hal.NewMessage(T("hal", "state"), "ready", true))
	hal.Publish(hal.NewMessage(capTopic("range", "tof_left", "info"), "vl53l0x", true))
	hal.Publish(hal.NewMessage(capTopic("range", "tof_left", "value"), rangeValue{500}, true))
	hal.Publish(hal.NewMessage(capTopic("range", "tof_right", "value"), rangeValue{1200}, true))
	hal.Publish(hal.NewMessage(capTopic("range", "tof_right", "event", "assign"), "0x19", false))

	c := b.NewConnection("ui")
	values := c.Subscribe(T("hal", "cap", "+", "range", "+", "value"))
	assert.Equal(t, map[string]any{
		"hal/cap/env/range/tof_left/value":  rangeValue{500},
		"hal/cap/env/range/tof_right/value": rangeValue{1200},
	}, recvN(t, values, 2))
	silent(t, values)

	left := c.Subscribe(T("hal", "cap", "env", "range", "tof_left", "#"))
	assert.Len(t, recvN(t, left, 2), 2, "info and value, events are not retained")
	silent(t, left)

	all := c.Subscribe(T("hal", "#"))
	assert.Len(t, recvN(t, all, 4), 4)
}

func TestNilRetainedRemovesCapability(t *testing.T) {
	b := NewBus(8)
	hal := b.NewConnection("hal")
	hal.Publish(hal.NewMessage(capTopic("range", "tof_left", "info"), "vl53l0x", true))
	hal.Publish(hal.NewMessage(capTopic("range", "tof_right", "info"), "vl53l0x", true))

	hal.Publish(hal.NewMessage(capTopic("range", "tof_left", "info"), nil, true))

	c := b.NewConnection("ui")
	infos := c.Subscribe(T("hal", "cap", "+", "+", "+", "info"))
	m := recv(t, infos)
	assert.Equal(t, "hal/cap/env/range/tof_right/info", m.Topic.String())
	silent(t, infos)
}

func TestWildcardNeedsExactDepth(t *testing.T) {
	b := NewBus(8)
	c := b.NewConnection("ui")
	s := c.Subscribe(T("hal", "cap", "+", "range", "+", "value"))

	c.Publish(c.NewMessage(T("hal", "cap", "env", "range", "value"), rangeValue{1}, false))
	c.Publish(c.NewMessage(capTopic("range", "tof_left", "value", "extra"), rangeValue{2}, false))
	c.Publish(c.NewMessage(capTopic("switch", "relay3", "value"), true, false))
	silent(t, s)
}

// -----------------------------------------------------------------------------
// Control request/reply
// -----------------------------------------------------------------------------

// serveControls answers every control verb the way the HAL does: one
// subscription on the control wildcard, one reply per request.
func serveControls(t *testing.T, b *Bus) {
	t.Helper()
	hal := b.NewConnection("hal")
	sub := hal.Subscribe(T("hal", "cap", "+", "+", "+", "control", "+"))
	t.Cleanup(func() { hal.Unsubscribe(sub) })
	go func() {
		for m := range sub.Channel() {
			hal.Reply(m, m.Topic.At(4).(string)+":"+m.Topic.At(6).(string), false)
		}
	}()
}

func TestControlRequestGetsReply(t *testing.T) {
	b := NewBus(8)
	serveControls(t, b)
	c := b.NewConnection("ui")

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	req := c.NewMessage(T("hal", "cap", "power", "switch", "relay3", "control", "set"), true, false)
	reply, err := c.RequestWait(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "relay3:set", reply.Payload)
	assert.Equal(t, req.ReplyTo, reply.Topic)

	reply, err = c.RequestWait(ctx, c.NewMessage(capTopic("range", "tof_left", "control", "read"), nil, false))
	require.NoError(t, err)
	assert.Equal(t, "tof_left:read", reply.Payload)
}

func TestConcurrentRequestsGetOwnReplies(t *testing.T) {
	b := NewBus(8)
	serveControls(t, b)

	names := []string{"tof_left", "tof_right", "tof_rear"}
	got := make(chan string, len(names))
	for _, n := range names {
		go func(n string) {
			c := b.NewConnection("ui-" + n)
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			reply, err := c.RequestWait(ctx, c.NewMessage(capTopic("range", n, "control", "read"), nil, false))
			if err != nil {
				got <- err.Error()
				return
			}
			got <- n + "=" + reply.Payload.(string)
		}(n)
	}
	var out []string
	for range names {
		out = append(out, <-got)
	}
	assert.ElementsMatch(t, []string{
		"tof_left=tof_left:read", "tof_right=tof_right:read", "tof_rear=tof_rear:read",
	}, out)
}

func TestRequestWithoutHALTimesOut(t *testing.T) {
	b := NewBus(4)
	c := b.NewConnection("ui")
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.RequestWait(ctx, c.NewMessage(capTopic("range", "tof_left", "control", "read"), nil, false))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestReplyWithoutReplyToIsDropped(t *testing.T) {
	b := NewBus(4)
	c := b.NewConnection("ui")
	all := c.Subscribe(T("#"))
	c.Reply(c.NewMessage(T("hal", "state"), "x", false), "ignored", false)
	silent(t, all)
}

// -----------------------------------------------------------------------------
// Delivery
// -----------------------------------------------------------------------------

func TestSlowReaderKeepsNewestValues(t *testing.T) {
	b := NewBus(2)
	c := b.NewConnection("ui")
	s := c.Subscribe(capTopic("range", "tof_left", "value"))

	for _, mm := range []uint16{100, 200, 300} {
		c.Publish(c.NewMessage(capTopic("range", "tof_left", "value"), rangeValue{mm}, false))
	}
	assert.Equal(t, rangeValue{200}, recv(t, s).Payload)
	assert.Equal(t, rangeValue{300}, recv(t, s).Payload)
}

func TestDisconnectClosesEverySubscription(t *testing.T) {
	b := NewBus(4)
	c := b.NewConnection("hb")
	s1 := c.Subscribe(T("config", "heartbeat"))
	s2 := c.Subscribe(T("hal", "state"))
	c.Disconnect()
	c.Unsubscribe(s1)

	c.Publish(c.NewMessage(T("hal", "state"), "ready", false))
	for _, s := range []*Subscription{s1, s2} {
		_, ok := <-s.Channel()
		assert.False(t, ok)
	}
}

func TestTopicAppendDoesNotAlias(t *testing.T) {
	base := T("hal", "cap", "env", "range", "tof_left")
	v := base.Append("value")
	st := base.Append("status")
	assert.Equal(t, "hal/cap/env/range/tof_left/value", v.String())
	assert.Equal(t, "hal/cap/env/range/tof_left/status", st.String())
	assert.Equal(t, 5, base.Len())
}

func TestTopicRejectsUncomparableToken(t *testing.T) {
	assert.Panics(t, func() { T("hal", []byte{1}) })
}
