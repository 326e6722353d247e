package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestHub_FanOut(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := NewHub(4, nil)
	all, cancelAll := h.Subscribe("")
	s1, cancelS1 := h.Subscribe("s1")
	defer cancelAll()
	defer cancelS1()

	ctx := context.Background()
	h.Notify(ctx, Event{Type: CheckStarted, SessionID: "s1"})
	h.Notify(ctx, Event{Type: CheckStarted, SessionID: "s2"})

	assert.Equal(t, "s1", (<-all).SessionID)
	assert.Equal(t, "s2", (<-all).SessionID)
	assert.Equal(t, "s1", (<-s1).SessionID)

	select {
	case e := <-s1:
		t.Fatalf("unexpected event for s1 subscriber: %+v", e)
	default:
	}
}

func TestHub_SlowSubscriberDrops(t *testing.T) {
	h := NewHub(1, nil)
	ch, cancel := h.Subscribe("")
	defer cancel()

	h.Notify(context.Background(), Event{Type: CheckStarted})
	h.Notify(context.Background(), Event{Type: CheckCompleted})

	assert.Equal(t, CheckStarted, (<-ch).Type)
	select {
	case e := <-ch:
		t.Fatalf("expected drop, got %+v", e)
	default:
	}
}

func TestHub_CancelClosesChannel(t *testing.T) {
	h := NewHub(0, nil)
	ch, cancel := h.Subscribe("")
	assert.Equal(t, 1, h.Subscribers())

	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, h.Subscribers())

	h.Notify(context.Background(), Event{Type: Error})
}

func TestHub_ConcurrentNotifyAndCancel(t *testing.T) {
	h := NewHub(2, nil)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		_, cancel := h.Subscribe("")
		wg.Add(2)
		go func() {
			defer wg.Done()
			h.Notify(context.Background(), Event{Type: CheckStarted})
		}()
		go func() {
			defer wg.Done()
			cancel()
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, h.Subscribers())
}

func TestMultiAndRecorder(t *testing.T) {
	a, b := &Recorder{}, &Recorder{}
	m := Multi{a, nil, b, Nop{}}

	m.Notify(context.Background(), Event{Type: ExecutionStarted, SessionID: "s1"})
	m.Notify(context.Background(), Event{Type: ExecutionCompleted, SessionID: "s1"})

	want := []EventType{ExecutionStarted, ExecutionCompleted}
	assert.Equal(t, want, a.Types())
	assert.Equal(t, want, b.Types())
	assert.Len(t, a.Events(), 2)
}

type fakePublisher struct {
	subjects []string
	payloads [][]byte
	err      error
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	f.subjects = append(f.subjects, subject)
	f.payloads = append(f.payloads, data)
	return f.err
}

func TestNATSPublisher_Notify(t *testing.T) {
	fp := &fakePublisher{}
	p := NewNATSPublisher(fp, nil)

	at := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	p.Notify(context.Background(), Event{Type: ExecutionCompleted, SessionID: "abc", PlanID: "plan-1", At: at})

	require.Len(t, fp.subjects, 1)
	assert.Equal(t, "opsassist.events.abc.execution_completed", fp.subjects[0])

	var got Event
	require.NoError(t, json.Unmarshal(fp.payloads[0], &got))
	assert.Equal(t, "plan-1", got.PlanID)
	assert.True(t, at.Equal(got.At))
}

func TestNATSPublisher_PublishErrorSwallowed(t *testing.T) {
	fp := &fakePublisher{err: errors.New("nats: connection closed")}
	p := NewNATSPublisher(fp, nil)
	p.Notify(context.Background(), Event{Type: Error, SessionID: "s"})
	assert.Len(t, fp.subjects, 1)
	assert.NoError(t, p.Close())
}

func TestSubject(t *testing.T) {
	tests := []struct {
		session string
		want    string
	}{
		{"s1", "opsassist.events.s1.check_started"},
		{"", "opsassist.events._.check_started"},
		{"a.b*c>d e", "opsassist.events.a_b_c_d_e.check_started"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Subject(Event{Type: CheckStarted, SessionID: tt.session}))
	}
}
