package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcherDeliversInOrder(t *testing.T) {
	sink := NewChannelSink(16)
	d := NewDispatcher(sink, 16, false)
	defer d.Close()

	for i := 0; i < 3; i++ {
		d.Emit(context.Background(), Event{EventType: "login", Success: i%2 == 0})
	}

	for i := 0; i < 3; i++ {
		select {
		case event := <-sink.Events():
			assert.Equal(t, "login", event.EventType)
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	block := make(chan struct{})
	sink := sinkFunc(func(Event) { <-block })
	d := NewDispatcher(sink, 1, true)
	defer func() {
		close(block)
		d.Close()
	}()

	// Saturate the worker and the buffer, then overflow.
	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), Event{EventType: "login"})
	}
	assert.Greater(t, d.Dropped(), uint64(0))
}

func TestDispatcherDrainsOnClose(t *testing.T) {
	sink := NewChannelSink(16)
	d := NewDispatcher(sink, 16, true)

	d.Emit(context.Background(), Event{EventType: "logout"})
	d.Close()

	select {
	case event := <-sink.Events():
		assert.Equal(t, "logout", event.EventType)
	default:
		t.Fatal("buffered event lost on close")
	}

	// Emit after close is a silent no-op.
	d.Emit(context.Background(), Event{EventType: "late"})
}

func TestJSONWriterSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)
	sink.Emit(context.Background(), Event{EventType: "login", TenantID: "t1", UserID: "u1", Success: true})

	var decoded Event
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "login", decoded.EventType)
	assert.Equal(t, "t1", decoded.TenantID)
	assert.Equal(t, "u1", decoded.UserID)
	assert.True(t, decoded.Success)
}

type sinkFunc func(Event)

func (f sinkFunc) Emit(_ context.Context, event Event) { f(event) }
