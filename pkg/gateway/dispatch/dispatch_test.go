package dispatch

import (
	"errors"
	"sync"
	"testing"

	"github.com/nats-io/nats.go"

	"github.com/vango-go/vai-agent/pkg/agent"
)

type fakeRooms struct {
	mu   sync.Mutex
	jobs map[string]agent.JobMetadata
	err  error
}

func (f *fakeRooms) Dispatch(room string, md agent.JobMetadata) (*agent.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.jobs == nil {
		f.jobs = make(map[string]agent.JobMetadata)
	}
	f.jobs[room] = md
	return agent.New(agent.Config{Room: room, Metadata: md}), nil
}

type statusCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func (s *statusCounter) Dispatch(source, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.counts == nil {
		s.counts = make(map[string]int)
	}
	s.counts[source+"/"+status]++
}

func TestProcess_DispatchesMetadata(t *testing.T) {
	rooms := &fakeRooms{}
	obs := &statusCounter{}
	c := New(Config{Subject: "vai.agent.dispatch", Rooms: rooms, Observer: obs})

	reply := c.process([]byte(`{"room":" call-7 ","metadata":{"id":"job-7","name":"Sam","url":"https://example.com/listing"}}`))
	if !reply.OK || reply.Room != "call-7" || reply.JobID != "job-7" {
		t.Fatalf("reply=%+v", reply)
	}
	md := rooms.jobs["call-7"]
	if md.Name != "Sam" || md.URL != "https://example.com/listing" {
		t.Fatalf("metadata=%+v", md)
	}
	if obs.counts["nats/accepted"] != 1 {
		t.Fatalf("counts=%v", obs.counts)
	}
}

func TestProcess_MissingMetadataUsesDefaults(t *testing.T) {
	rooms := &fakeRooms{}
	c := New(Config{Rooms: rooms})

	if reply := c.process([]byte(`{"room":"r1"}`)); !reply.OK {
		t.Fatalf("reply=%+v", reply)
	}
	if rooms.jobs["r1"].Name != agent.DefaultUserName {
		t.Fatalf("name=%q", rooms.jobs["r1"].Name)
	}
}

func TestProcess_Rejections(t *testing.T) {
	obs := &statusCounter{}
	c := New(Config{Rooms: &fakeRooms{err: errors.New("rooms: draining")}, Observer: obs})

	for _, body := range []string{
		`not json`,
		`{"metadata":{}}`,
		`{"room":"r1","metadata":"nope"}`,
		`{"room":"r1"}`,
	} {
		if reply := c.process([]byte(body)); reply.OK || reply.Error == "" {
			t.Fatalf("body %s: reply=%+v", body, reply)
		}
	}
	if obs.counts["nats/rejected"] != 4 {
		t.Fatalf("counts=%v", obs.counts)
	}
}

func TestHandle_WithoutReplySubject(t *testing.T) {
	rooms := &fakeRooms{}
	c := New(Config{Rooms: rooms})
	c.Handle(&nats.Msg{Subject: "vai.agent.dispatch", Data: []byte(`{"room":"r2"}`)})
	if _, ok := rooms.jobs["r2"]; !ok {
		t.Fatalf("job not dispatched")
	}
}
