package protocol

import (
	"encoding/json"
	"testing"

	"github.com/emrgen/docsync/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRelayMessage(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		want  Message
	}{
		{
			name:  "event",
			frame: `["EVENT","sub1",{"id":"e1","pubkey":"p","created_at":1,"kind":40000,"tags":[["d","doc"]],"content":"x","sig":"s"}]`,
			want: EventMessage{SubscriptionID: "sub1", Event: &model.Event{
				ID: "e1", PubKey: "p", CreatedAt: 1, Kind: 40000, Tags: model.Tags{{"d", "doc"}}, Content: "x", Sig: "s",
			}},
		},
		{
			name:  "ok",
			frame: `["OK","e1",false,"blocked: nope"]`,
			want:  OKMessage{EventID: "e1", Success: false, Message: "blocked: nope"},
		},
		{
			name:  "ok without message",
			frame: `["OK","e1",true]`,
			want:  OKMessage{EventID: "e1", Success: true},
		},
		{
			name:  "eose",
			frame: `["EOSE","sub1"]`,
			want:  EOSEMessage{SubscriptionID: "sub1"},
		},
		{
			name:  "closed",
			frame: `["CLOSED","sub1","error: gone"]`,
			want:  ClosedMessage{SubscriptionID: "sub1", Message: "error: gone"},
		},
		{
			name:  "notice",
			frame: `["NOTICE","hi"]`,
			want:  NoticeMessage{Message: "hi"},
		},
		{
			name:  "changes",
			frame: `["CHANGES",{"changes":[{"seq":3,"event":{"id":"e3","kind":40000,"tags":[]}}],"lastSeq":7}]`,
			want: ChangesMessage{Result: model.ChangesResult{
				Changes: []model.ChangeEntry{{Seq: 3, Event: &model.Event{ID: "e3", Kind: 40000, Tags: model.Tags{}}}},
				LastSeq: 7,
			}},
		},
		{
			name:  "last seq",
			frame: `["LASTSEQ",42]`,
			want:  LastSeqMessage{Seq: 42},
		},
		{
			name:  "changes event",
			frame: `["CHANGES_EVENT","sub2",{"seq":5,"event":{"id":"e5","kind":50000,"tags":[]}}]`,
			want: ChangesEventMessage{SubscriptionID: "sub2", Entry: model.ChangeEntry{
				Seq: 5, Event: &model.Event{ID: "e5", Kind: 50000, Tags: model.Tags{}},
			}},
		},
		{
			name:  "changes eose",
			frame: `["CHANGES_EOSE","sub2",{"lastSeq":9}]`,
			want:  ChangesEOSEMessage{SubscriptionID: "sub2", LastSeq: 9},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRelayMessage([]byte(tt.frame))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseRelayMessageRejectsBadFrames(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		err   error
	}{
		{"not json", `{{`, ErrMalformedMessage},
		{"not an array", `{"a":1}`, ErrMalformedMessage},
		{"empty", `[]`, ErrMalformedMessage},
		{"label not a string", `[1,"x"]`, ErrMalformedMessage},
		{"unknown label", `["AUTH","challenge"]`, ErrUnknownMessage},
		{"missing argument", `["OK","e1"]`, ErrMalformedMessage},
		{"wrong argument type", `["LASTSEQ","ten"]`, ErrMalformedMessage},
		{"null event", `["EVENT","sub",null]`, ErrMalformedMessage},
		{"change without event", `["CHANGES",{"changes":[{"seq":1}],"lastSeq":1}]`, ErrMalformedMessage},
		{"client frame", `["REQ","sub",{}]`, ErrUnknownMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRelayMessage([]byte(tt.frame))
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestClientMessagesEncodeAndParse(t *testing.T) {
	since := int64(10)
	messages := []Message{
		ReqMessage{SubscriptionID: "s", Filters: []model.Filter{
			{Kinds: []int{model.KindDocument}, Tags: map[string][]string{"d": {"doc"}}, Since: &since},
			{Authors: []string{"p"}},
		}},
		CloseMessage{SubscriptionID: "s"},
		PublishMessage{Event: &model.Event{ID: "e", Kind: model.KindDocument, Tags: model.Tags{}}},
		ChangesRequest{Query: model.ChangesQuery{Since: 4, Limit: 2, Kinds: []int{model.KindDocument, model.KindPurge}}},
		LastSeqRequest{},
		ChangesSubMessage{SubscriptionID: "c", Query: model.ChangesQuery{Since: 3}},
		ChangesUnsubMessage{SubscriptionID: "c"},
	}

	for _, msg := range messages {
		t.Run(msg.Label(), func(t *testing.T) {
			data, err := json.Marshal(msg)
			require.NoError(t, err)

			got, err := ParseClientMessage(data)
			require.NoError(t, err)
			assert.Equal(t, msg, got)
		})
	}
}

func TestReqMessageWireShape(t *testing.T) {
	data, err := json.Marshal(ReqMessage{SubscriptionID: "s", Filters: []model.Filter{
		{Kinds: []int{40000}, Tags: map[string][]string{"d": {"doc"}}},
	}})
	require.NoError(t, err)
	assert.JSONEq(t, `["REQ","s",{"kinds":[40000],"#d":["doc"]}]`, string(data))
}

func TestChangesMessageEncodesEmptyList(t *testing.T) {
	data, err := json.Marshal(ChangesMessage{Result: model.ChangesResult{LastSeq: 3}})
	require.NoError(t, err)
	assert.JSONEq(t, `["CHANGES",{"changes":[],"lastSeq":3}]`, string(data))

	eose, err := json.Marshal(ChangesEOSEMessage{SubscriptionID: "x", LastSeq: 3})
	require.NoError(t, err)
	assert.JSONEq(t, `["CHANGES_EOSE","x",{"lastSeq":3}]`, string(eose))
}
