package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// HumanDecision is what came back from the operator for one escalated
// challenge.
type HumanDecision string

const (
	DecisionSolved   HumanDecision = "solved"
	DecisionSkipped  HumanDecision = "skipped"
	DecisionTimedOut HumanDecision = "timed_out"
)

// HumanAssistant tracks escalations waiting on an operator. Each
// request parks on its own one-shot channel; whichever of the operator
// action and the timeout lands first wins, and later actions on the
// same request are rejected.
type HumanAssistant struct {
	mu      sync.Mutex
	pending map[string]chan HumanDecision
	timeout time.Duration
}

func NewHumanAssistant(timeout time.Duration) *HumanAssistant {
	return &HumanAssistant{
		pending: make(map[string]chan HumanDecision),
		timeout: timeout,
	}
}

// Timeout is how long Await gives the operator.
func (a *HumanAssistant) Timeout() time.Duration {
	return a.timeout
}

// PendingCount reports how many escalations are still waiting.
func (a *HumanAssistant) PendingCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// HumanRequest is one open escalation.
type HumanRequest struct {
	ID        string
	assistant *HumanAssistant
	decision  chan HumanDecision
}

// OpenRequest registers a new escalation and returns its handle.
func (a *HumanAssistant) OpenRequest() *HumanRequest {
	request := &HumanRequest{
		ID:        uuid.New().String(),
		assistant: a,
		decision:  make(chan HumanDecision, 1),
	}

	a.mu.Lock()
	a.pending[request.ID] = request.decision
	a.mu.Unlock()

	return request
}

// Resolve delivers the operator's decision. It returns false when the
// request already closed, so a second button press after the first, or
// after the timeout, does nothing.
func (a *HumanAssistant) Resolve(requestID string, decision HumanDecision) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	ch, open := a.pending[requestID]
	if !open {
		return false
	}
	delete(a.pending, requestID)
	ch <- decision
	return true
}

// Await blocks until the operator acts, the timeout passes, or the
// context ends. It never returns before one of those happens and never
// polls.
func (r *HumanRequest) Await(ctx context.Context) HumanDecision {
	timer := time.NewTimer(r.assistant.timeout)
	defer timer.Stop()

	select {
	case decision := <-r.decision:
		return decision
	case <-timer.C:
		return r.close()
	case <-ctx.Done():
		return r.close()
	}
}

// close ends the request from the waiter's side. If an operator
// decision slipped in concurrently it wins over the timeout.
func (r *HumanRequest) close() HumanDecision {
	r.assistant.mu.Lock()
	_, stillOpen := r.assistant.pending[r.ID]
	if stillOpen {
		delete(r.assistant.pending, r.ID)
	}
	r.assistant.mu.Unlock()

	if !stillOpen {
		return <-r.decision
	}
	return DecisionTimedOut
}
