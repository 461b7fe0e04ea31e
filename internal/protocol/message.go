package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/emrgen/docsync/internal/model"
)

// message labels
const (
	LabelReq          = "REQ"
	LabelClose        = "CLOSE"
	LabelEvent        = "EVENT"
	LabelChanges      = "CHANGES"
	LabelLastSeq      = "LASTSEQ"
	LabelChangesSub   = "CHANGES_SUB"
	LabelChangesUnsub = "CHANGES_UNSUB"
	LabelOK           = "OK"
	LabelEOSE         = "EOSE"
	LabelClosed       = "CLOSED"
	LabelNotice       = "NOTICE"
	LabelChangesEvent = "CHANGES_EVENT"
	LabelChangesEOSE  = "CHANGES_EOSE"
)

// Message is one wire frame, encoded as a JSON array whose first element is the label.
type Message interface {
	Label() string
	json.Marshaler
}

// frames sent by the client

type ReqMessage struct {
	SubscriptionID string
	Filters        []model.Filter
}

type CloseMessage struct {
	SubscriptionID string
}

// PublishMessage carries a signed event to the relay.
type PublishMessage struct {
	Event *model.Event
}

type ChangesRequest struct {
	Query model.ChangesQuery
}

type LastSeqRequest struct{}

type ChangesSubMessage struct {
	SubscriptionID string
	Query          model.ChangesQuery
}

type ChangesUnsubMessage struct {
	SubscriptionID string
}

// frames sent by the relay

type EventMessage struct {
	SubscriptionID string
	Event          *model.Event
}

type OKMessage struct {
	EventID string
	Success bool
	Message string
}

type EOSEMessage struct {
	SubscriptionID string
}

type ClosedMessage struct {
	SubscriptionID string
	Message        string
}

type NoticeMessage struct {
	Message string
}

type ChangesMessage struct {
	Result model.ChangesResult
}

type LastSeqMessage struct {
	Seq int64
}

type ChangesEventMessage struct {
	SubscriptionID string
	Entry          model.ChangeEntry
}

type ChangesEOSEMessage struct {
	SubscriptionID string
	LastSeq        int64
}

type changesEOSEPayload struct {
	LastSeq int64 `json:"lastSeq"`
}

func (ReqMessage) Label() string          { return LabelReq }
func (CloseMessage) Label() string        { return LabelClose }
func (PublishMessage) Label() string      { return LabelEvent }
func (ChangesRequest) Label() string      { return LabelChanges }
func (LastSeqRequest) Label() string      { return LabelLastSeq }
func (ChangesSubMessage) Label() string   { return LabelChangesSub }
func (ChangesUnsubMessage) Label() string { return LabelChangesUnsub }
func (EventMessage) Label() string        { return LabelEvent }
func (OKMessage) Label() string           { return LabelOK }
func (EOSEMessage) Label() string         { return LabelEOSE }
func (ClosedMessage) Label() string       { return LabelClosed }
func (NoticeMessage) Label() string       { return LabelNotice }
func (ChangesMessage) Label() string      { return LabelChanges }
func (LastSeqMessage) Label() string      { return LabelLastSeq }
func (ChangesEventMessage) Label() string { return LabelChangesEvent }
func (ChangesEOSEMessage) Label() string  { return LabelChangesEOSE }

func (m ReqMessage) MarshalJSON() ([]byte, error) {
	frame := []any{LabelReq, m.SubscriptionID}
	for _, f := range m.Filters {
		frame = append(frame, f)
	}
	return json.Marshal(frame)
}

func (m CloseMessage) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{LabelClose, m.SubscriptionID})
}

func (m PublishMessage) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{LabelEvent, m.Event})
}

func (m ChangesRequest) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{LabelChanges, m.Query})
}

func (m LastSeqRequest) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{LabelLastSeq})
}

func (m ChangesSubMessage) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{LabelChangesSub, m.SubscriptionID, m.Query})
}

func (m ChangesUnsubMessage) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{LabelChangesUnsub, m.SubscriptionID})
}

func (m EventMessage) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{LabelEvent, m.SubscriptionID, m.Event})
}

func (m OKMessage) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{LabelOK, m.EventID, m.Success, m.Message})
}

func (m EOSEMessage) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{LabelEOSE, m.SubscriptionID})
}

func (m ClosedMessage) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{LabelClosed, m.SubscriptionID, m.Message})
}

func (m NoticeMessage) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{LabelNotice, m.Message})
}

func (m ChangesMessage) MarshalJSON() ([]byte, error) {
	result := m.Result
	if result.Changes == nil {
		result.Changes = []model.ChangeEntry{}
	}
	return json.Marshal([]any{LabelChanges, result})
}

func (m LastSeqMessage) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{LabelLastSeq, m.Seq})
}

func (m ChangesEventMessage) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{LabelChangesEvent, m.SubscriptionID, m.Entry})
}

func (m ChangesEOSEMessage) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{LabelChangesEOSE, m.SubscriptionID, changesEOSEPayload{LastSeq: m.LastSeq}})
}

type parser func(args []json.RawMessage) (Message, error)

// relayParsers decodes frames received by the client.
var relayParsers = map[string]parser{
	LabelEvent: func(args []json.RawMessage) (Message, error) {
		subID, err := arg[string](args, 0)
		if err != nil {
			return nil, err
		}
		ev, err := arg[*model.Event](args, 1)
		if err != nil {
			return nil, err
		}
		if ev == nil {
			return nil, fmt.Errorf("%w: null event", ErrMalformedMessage)
		}
		return EventMessage{SubscriptionID: subID, Event: ev}, nil
	},
	LabelOK: func(args []json.RawMessage) (Message, error) {
		eventID, err := arg[string](args, 0)
		if err != nil {
			return nil, err
		}
		success, err := arg[bool](args, 1)
		if err != nil {
			return nil, err
		}
		msg, _ := arg[string](args, 2)
		return OKMessage{EventID: eventID, Success: success, Message: msg}, nil
	},
	LabelEOSE: func(args []json.RawMessage) (Message, error) {
		subID, err := arg[string](args, 0)
		if err != nil {
			return nil, err
		}
		return EOSEMessage{SubscriptionID: subID}, nil
	},
	LabelClosed: func(args []json.RawMessage) (Message, error) {
		subID, err := arg[string](args, 0)
		if err != nil {
			return nil, err
		}
		msg, _ := arg[string](args, 1)
		return ClosedMessage{SubscriptionID: subID, Message: msg}, nil
	},
	LabelNotice: func(args []json.RawMessage) (Message, error) {
		msg, err := arg[string](args, 0)
		if err != nil {
			return nil, err
		}
		return NoticeMessage{Message: msg}, nil
	},
	LabelChanges: func(args []json.RawMessage) (Message, error) {
		result, err := arg[model.ChangesResult](args, 0)
		if err != nil {
			return nil, err
		}
		for _, entry := range result.Changes {
			if entry.Event == nil {
				return nil, fmt.Errorf("%w: change %d has no event", ErrMalformedMessage, entry.Seq)
			}
		}
		return ChangesMessage{Result: result}, nil
	},
	LabelLastSeq: func(args []json.RawMessage) (Message, error) {
		seq, err := arg[int64](args, 0)
		if err != nil {
			return nil, err
		}
		return LastSeqMessage{Seq: seq}, nil
	},
	LabelChangesEvent: func(args []json.RawMessage) (Message, error) {
		subID, err := arg[string](args, 0)
		if err != nil {
			return nil, err
		}
		entry, err := arg[model.ChangeEntry](args, 1)
		if err != nil {
			return nil, err
		}
		if entry.Event == nil {
			return nil, fmt.Errorf("%w: change %d has no event", ErrMalformedMessage, entry.Seq)
		}
		return ChangesEventMessage{SubscriptionID: subID, Entry: entry}, nil
	},
	LabelChangesEOSE: func(args []json.RawMessage) (Message, error) {
		subID, err := arg[string](args, 0)
		if err != nil {
			return nil, err
		}
		payload, err := arg[changesEOSEPayload](args, 1)
		if err != nil {
			return nil, err
		}
		return ChangesEOSEMessage{SubscriptionID: subID, LastSeq: payload.LastSeq}, nil
	},
}

// clientParsers decodes frames received by a relay.
var clientParsers = map[string]parser{
	LabelReq: func(args []json.RawMessage) (Message, error) {
		subID, err := arg[string](args, 0)
		if err != nil {
			return nil, err
		}
		filters := make([]model.Filter, 0, len(args)-1)
		for i := 1; i < len(args); i++ {
			f, err := arg[model.Filter](args, i)
			if err != nil {
				return nil, err
			}
			filters = append(filters, f)
		}
		return ReqMessage{SubscriptionID: subID, Filters: filters}, nil
	},
	LabelClose: func(args []json.RawMessage) (Message, error) {
		subID, err := arg[string](args, 0)
		if err != nil {
			return nil, err
		}
		return CloseMessage{SubscriptionID: subID}, nil
	},
	LabelEvent: func(args []json.RawMessage) (Message, error) {
		ev, err := arg[*model.Event](args, 0)
		if err != nil {
			return nil, err
		}
		if ev == nil {
			return nil, fmt.Errorf("%w: null event", ErrMalformedMessage)
		}
		return PublishMessage{Event: ev}, nil
	},
	LabelChanges: func(args []json.RawMessage) (Message, error) {
		query, err := arg[model.ChangesQuery](args, 0)
		if err != nil {
			return nil, err
		}
		return ChangesRequest{Query: query}, nil
	},
	LabelLastSeq: func(args []json.RawMessage) (Message, error) {
		return LastSeqRequest{}, nil
	},
	LabelChangesSub: func(args []json.RawMessage) (Message, error) {
		subID, err := arg[string](args, 0)
		if err != nil {
			return nil, err
		}
		query, err := arg[model.ChangesQuery](args, 1)
		if err != nil {
			return nil, err
		}
		return ChangesSubMessage{SubscriptionID: subID, Query: query}, nil
	},
	LabelChangesUnsub: func(args []json.RawMessage) (Message, error) {
		subID, err := arg[string](args, 0)
		if err != nil {
			return nil, err
		}
		return ChangesUnsubMessage{SubscriptionID: subID}, nil
	},
}

// ParseRelayMessage decodes a frame sent by the relay.
func ParseRelayMessage(data []byte) (Message, error) {
	return parse(relayParsers, data)
}

// ParseClientMessage decodes a frame sent by a client.
func ParseClientMessage(data []byte) (Message, error) {
	return parse(clientParsers, data)
}

func parse(parsers map[string]parser, data []byte) (Message, error) {
	var frame []json.RawMessage
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if len(frame) == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrMalformedMessage)
	}

	var label string
	if err := json.Unmarshal(frame[0], &label); err != nil {
		return nil, fmt.Errorf("%w: label is not a string", ErrMalformedMessage)
	}

	p, ok := parsers[label]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, label)
	}

	return p(frame[1:])
}

func arg[T any](args []json.RawMessage, i int) (T, error) {
	var v T
	if i >= len(args) {
		return v, fmt.Errorf("%w: missing argument %d", ErrMalformedMessage, i+1)
	}
	if err := json.Unmarshal(args[i], &v); err != nil {
		return v, fmt.Errorf("%w: argument %d: %v", ErrMalformedMessage, i+1, err)
	}
	return v, nil
}
