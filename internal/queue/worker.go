package queue

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"
)

// HandlerFunc processes one entity id popped from a queue. Errors are logged
// and the message is dropped; stages record their own failure state.
type HandlerFunc func(ctx context.Context, id string) error

type binding struct {
	queue   string
	idField string
	fn      HandlerFunc
}

// Worker runs one consumer loop per registered queue.
type Worker struct {
	broker   Broker
	bindings []binding
	idle     time.Duration
}

func NewWorker(broker Broker) *Worker {
	return &Worker{broker: broker, idle: 500 * time.Millisecond}
}

// Handle registers a queue consumer. idField names the JSON key carrying the
// entity id ("topic_id", "subtopic_id", or "case_id").
func (w *Worker) Handle(queue, idField string, fn HandlerFunc) {
	w.bindings = append(w.bindings, binding{queue: queue, idField: idField, fn: fn})
}

// Run blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, b := range w.bindings {
		wg.Add(1)
		go func(b binding) {
			defer wg.Done()
			w.consume(ctx, b)
		}(b)
	}
	log.Printf("[worker] consuming %d queue(s)", len(w.bindings))
	wg.Wait()
}

func (w *Worker) consume(ctx context.Context, b binding) {
	for {
		select {
		case <-ctx.Done():
			log.Printf("[worker] %s shutting down", b.queue)
			return
		default:
		}

		body, err := w.broker.Pop(ctx, b.queue)
		if err == ErrEmpty {
			select {
			case <-ctx.Done():
			case <-time.After(w.idle):
			}
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("[worker] %s pop error: %v", b.queue, err)
			select {
			case <-ctx.Done():
			case <-time.After(w.idle):
			}
			continue
		}

		id, ok := decodeID(body, b.idField)
		if !ok {
			log.Printf("[worker] %s: bad payload, expected {%q: ...}", b.queue, b.idField)
			continue
		}
		if err := b.fn(ctx, id); err != nil {
			log.Printf("[worker] %s handler error for %s: %v", b.queue, id, err)
		}
	}
}

func decodeID(body []byte, field string) (string, bool) {
	var payload map[string]string
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", false
	}
	id, ok := payload[field]
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// IDPayload builds the wire payload for an entity id message.
func IDPayload(field, id string) map[string]string {
	return map[string]string{field: id}
}
