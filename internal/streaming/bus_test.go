// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package streaming

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/pdiddy/deep-research/pkg/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func event(session string, typ types.EventType) types.EngineEvent {
	return types.NewEvent(session, typ, types.StatusPayload{Status: types.StatusPlanning})
}

func TestPublishAssignsSequence(t *testing.T) {
	b := NewBus(0, 0, nil)
	e1 := b.Publish(event("s1", types.EventStatus))
	e2 := b.Publish(event("s1", types.EventSessionCreated))
	other := b.Publish(event("s2", types.EventStatus))

	assert.Equal(t, uint64(1), e1.Seq)
	assert.Equal(t, uint64(2), e2.Seq)
	assert.Equal(t, uint64(1), other.Seq)
}

func TestHandlersRunInOrder(t *testing.T) {
	b := NewBus(0, 0, nil)
	var got []string
	unsubA := b.OnEvent("s1", func(e types.EngineEvent) { got = append(got, "a:"+string(e.Type)) })
	b.OnEvent("s1", func(e types.EngineEvent) { got = append(got, "b:"+string(e.Type)) })

	b.Publish(event("s1", types.EventStatus))
	unsubA()
	unsubA()
	b.Publish(event("s1", types.EventComplete))

	assert.Equal(t, []string{"a:status", "b:status", "b:complete"}, got)
	assert.Equal(t, 1, b.ListenerCount("s1"))
}

func TestHandlerPanicIsContained(t *testing.T) {
	b := NewBus(0, 0, nil)
	var called bool
	b.OnEvent("s1", func(types.EngineEvent) { panic("boom") })
	b.OnEvent("s1", func(types.EngineEvent) { called = true })

	require.NotPanics(t, func() { b.Publish(event("s1", types.EventStatus)) })
	assert.True(t, called)
}

func TestSubscribeDeliversInOrder(t *testing.T) {
	b := NewBus(0, 0, nil)
	ch, cancel := b.Subscribe("s1")
	defer cancel()

	typesOut := []types.EventType{types.EventStatus, types.EventSessionCreated, types.EventPerspectivesGenerated, types.EventTreeBuilt, types.EventComplete}
	for _, typ := range typesOut {
		b.Publish(event("s1", typ))
	}
	for i, typ := range typesOut {
		e := <-ch
		assert.Equal(t, typ, e.Type)
		assert.Equal(t, uint64(i+1), e.Seq)
	}
}

func TestConcurrentPublishersKeepSequenceOrder(t *testing.T) {
	b := NewBus(0, 1024, nil)
	ch, cancel := b.Subscribe("s1")
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				b.Publish(event("s1", types.EventProgress))
			}
		}()
	}
	wg.Wait()

	var last uint64
	for i := 0; i < 400; i++ {
		e := <-ch
		assert.Equal(t, last+1, e.Seq)
		last = e.Seq
	}
}

func TestLaggingSubscriberIsClosed(t *testing.T) {
	b := NewBus(0, 2, nil)
	ch, cancel := b.Subscribe("s1")
	defer cancel()

	for i := 0; i < 3; i++ {
		b.Publish(event("s1", types.EventProgress))
	}
	assert.Equal(t, 0, b.ListenerCount("s1"))

	n := 0
	for range ch {
		n++
	}
	assert.Equal(t, 2, n)
}

func TestReplayThenLive(t *testing.T) {
	b := NewBus(3, 0, nil)
	for i := 0; i < 5; i++ {
		b.Publish(event("s1", types.EventProgress))
	}
	hist, ch, cancel := b.Replay("s1")
	defer cancel()

	require.Len(t, hist, 3)
	assert.Equal(t, uint64(3), hist[0].Seq)
	assert.Equal(t, uint64(5), hist[2].Seq)

	b.Publish(event("s1", types.EventComplete))
	e := <-ch
	assert.Equal(t, uint64(6), e.Seq)
	assert.Len(t, b.History("s1"), 3)
}

func TestWaitListener(t *testing.T) {
	b := NewBus(0, 0, nil)

	ctx, cancelCtx := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancelCtx()
	assert.ErrorIs(t, b.WaitListener(ctx, "s1"), context.DeadlineExceeded)

	done := make(chan error, 1)
	go func() { done <- b.WaitListener(context.Background(), "s1") }()
	time.Sleep(10 * time.Millisecond)
	_, unsub := b.Subscribe("s1")
	defer unsub()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("WaitListener did not return after subscribe")
	}
}

func TestForgetClosesSubscribers(t *testing.T) {
	b := NewBus(0, 0, nil)
	ch, cancel := b.Subscribe("s1")
	b.Publish(event("s1", types.EventStatus))
	b.Forget("s1")
	cancel()

	<-ch
	_, open := <-ch
	assert.False(t, open)
	assert.Empty(t, b.History("s1"))
	assert.Equal(t, 0, b.ListenerCount("s1"))
	b.mu.Lock()
	assert.Empty(t, b.topics, "reads do not recreate a forgotten session")
	b.mu.Unlock()
}

func TestWriteSSE(t *testing.T) {
	b := NewBus(0, 0, nil)
	e := b.Publish(event("s1", types.EventStatus))

	var buf bytes.Buffer
	require.NoError(t, WriteSSE(&buf, e))
	out := buf.String()

	assert.True(t, strings.HasPrefix(out, "id: 1\nevent: status\ndata: {"))
	assert.True(t, strings.HasSuffix(out, "}\n\n"))
	assert.Contains(t, out, `"sessionId":"s1"`)
	assert.Contains(t, out, `"status":"planning"`)

	buf.Reset()
	require.NoError(t, WriteComment(&buf, "ping"))
	assert.Equal(t, ": ping\n\n", buf.String())
}
