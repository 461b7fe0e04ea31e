package protocol

import (
	"sync"

	"github.com/emrgen/docsync/internal/model"
)

// SubscriptionHandler receives the events of a live subscription.
type SubscriptionHandler struct {
	OnEvent func(ev *model.Event)
	// OnEOSE fires once, the first time the relay reports the end of stored events.
	OnEOSE func()
}

// ChangesHandler receives the entries of a continuous changes subscription.
type ChangesHandler struct {
	OnChange func(entry model.ChangeEntry)
	// OnEOSE fires once with the lastSeq of the first batch.
	OnEOSE func(lastSeq int64)
}

type Subscription struct {
	ID string

	client  *Client
	changes bool

	filters []model.Filter
	handler SubscriptionHandler

	query          model.ChangesQuery
	changesHandler ChangesHandler

	eose sync.Once
}

// Unsubscribe removes the subscription locally and tells the relay if connected.
func (s *Subscription) Unsubscribe() {
	s.client.unsubscribe(s)
}

func (s *Subscription) request() Message {
	if s.changes {
		return ChangesSubMessage{SubscriptionID: s.ID, Query: s.query}
	}
	return ReqMessage{SubscriptionID: s.ID, Filters: s.filters}
}

func (s *Subscription) endOfStored(lastSeq int64) {
	s.eose.Do(func() {
		if s.changes {
			if s.changesHandler.OnEOSE != nil {
				s.changesHandler.OnEOSE(lastSeq)
			}
			return
		}
		if s.handler.OnEOSE != nil {
			s.handler.OnEOSE()
		}
	})
}
