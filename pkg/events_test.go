package store

// © 2025 ehcache3 authors. MIT License.

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRecordingDispatcher() (*eventDispatcher[string, string], *eventRecorder) {
    d := &eventDispatcher[string, string]{mode: FireSync}
    rec := &eventRecorder{}
    d.AddListener(rec.listener())
    return d, rec
}

func TestSinkOrderingWithinOperation(t *testing.T) {
    d, rec := newRecordingDispatcher()

    sink := d.EventSink()
    sink.Expired("k", "old")
    sink.Created("k", "new")
    d.Release(sink)

    events := rec.all()
    require.Len(t, events, 2)
    assert.Equal(t, EventExpired, events[0].Type)
    assert.Equal(t, EventCreated, events[1].Type)
}

func TestReleaseExactlyOnce(t *testing.T) {
    d, rec := newRecordingDispatcher()

    sink := d.EventSink()
    sink.Created("k", "v")
    d.Release(sink)
    d.Release(sink) // second release is inert

    assert.Len(t, rec.all(), 1)
}

func TestReleaseAfterFailureDiscards(t *testing.T) {
    d, rec := newRecordingDispatcher()
    var failures []error
    d.onFailure = func(err error) { failures = append(failures, err) }

    sink := d.EventSink()
    sink.Created("k", "v")
    sink.Updated("k", "v", "v2")
    cause := errors.New("backing map failure")
    d.ReleaseAfterFailure(sink, cause)

    assert.Empty(t, rec.all())
    require.Len(t, failures, 1)
    assert.Equal(t, cause, failures[0])

    // A sink released through the failure path never publishes.
    d.Release(sink)
    assert.Empty(t, rec.all())
}

func TestEmptySinkPublishesNothing(t *testing.T) {
    d, rec := newRecordingDispatcher()
    d.Release(d.EventSink())
    assert.Empty(t, rec.all())
}

func TestAsyncDispatchPreservesBatchOrder(t *testing.T) {
    d := &eventDispatcher[string, string]{mode: FireAsync}
    rec := &eventRecorder{}
    d.AddListener(rec.listener())

    for i := 0; i < 50; i++ {
        sink := d.EventSink()
        sink.Created("k", string(rune('a'+i%26)))
        sink.Removed("k", string(rune('a'+i%26)))
        d.Release(sink)
    }
    d.close()

    events := rec.all()
    require.Len(t, events, 100)
    for i := 0; i < 100; i += 2 {
        assert.Equal(t, EventCreated, events[i].Type)
        assert.Equal(t, EventRemoved, events[i+1].Type)
        assert.Equal(t, events[i].NewValue, events[i+1].OldValue)
    }
}
