package relay

import (
	"context"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emrgen/docsync/internal/model"
	"github.com/emrgen/docsync/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, r *Relay) string {
	t.Helper()

	server := httptest.NewServer(r)
	t.Cleanup(func() {
		r.DisconnectAll()
		server.Close()
	})

	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestRelay_ReplaysFeedLargerThanSendBuffer(t *testing.T) {
	r := New()
	total := sendBufferSize*4 + 1
	for i := 0; i < total; i++ {
		r.Inject(&model.Event{
			ID:      fmt.Sprintf("ev-%d", i),
			PubKey:  "alice",
			Kind:    model.KindDocument,
			Content: fmt.Sprintf("content-%d", i),
		})
	}

	client := protocol.NewClient(serve(t, r), nil, nil)
	require.NoError(t, client.Connect(context.Background()))
	t.Cleanup(func() { _ = client.Close() })

	var mu sync.Mutex
	var seqs []int64
	eose := make(chan int64, 1)
	sub := client.SubscribeChanges(model.ChangesQuery{}, protocol.ChangesHandler{
		OnChange: func(entry model.ChangeEntry) {
			mu.Lock()
			seqs = append(seqs, entry.Seq)
			mu.Unlock()
		},
		OnEOSE: func(lastSeq int64) { eose <- lastSeq },
	})
	defer sub.Unsubscribe()

	select {
	case lastSeq := <-eose:
		assert.Equal(t, int64(total), lastSeq)
	case <-time.After(5 * time.Second):
		t.Fatal("end of stored changes never arrived")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seqs, total)
	for i, seq := range seqs {
		assert.Equal(t, int64(i+1), seq)
	}
}

func TestRelay_InjectDeduplicates(t *testing.T) {
	r := New()
	ev := &model.Event{ID: "ev-1", PubKey: "alice", Kind: model.KindDocument}

	seq := r.Inject(ev)
	assert.Equal(t, int64(1), seq)
	assert.Zero(t, r.Inject(ev))
	assert.Equal(t, int64(1), r.LastSeq())
	assert.Len(t, r.Events(), 1)
}
