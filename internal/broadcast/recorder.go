package broadcast

import "sync"

// Recorded is one captured publish.
type Recorded struct {
	Topic    string
	Username string // set for DeliverToUser publishes
	Payload  interface{}
}

// Recorder is an in-memory Gateway used by tests to assert on emitted events.
type Recorder struct {
	mu     sync.Mutex
	events []Recorded
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Broadcast(topic string, payload interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Recorded{Topic: topic, Payload: payload})
	return nil
}

func (r *Recorder) DeliverToUser(username string, payload interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Recorded{
		Topic:    UserErrorQueue(username),
		Username: username,
		Payload:  payload,
	})
	return nil
}

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []Recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Recorded, len(r.events))
	copy(out, r.events)
	return out
}

// ByTopic returns the captured publishes for one topic, in order.
func (r *Recorder) ByTopic(topic string) []Recorded {
	var out []Recorded
	for _, e := range r.Events() {
		if e.Topic == topic {
			out = append(out, e)
		}
	}
	return out
}

// Reset discards everything captured so far.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
