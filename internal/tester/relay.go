package tester

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/emrgen/docsync/internal/relay"
)

var (
	WithoutAcks   = relay.WithoutAcks
	WithRejection = relay.WithRejection
)

// Relay is a relay served on a local test server.
type Relay struct {
	*relay.Relay
	server *httptest.Server
}

// StartRelay runs a relay on a local test server that is shut down with the test.
func StartRelay(t testing.TB, opts ...relay.Option) *Relay {
	t.Helper()

	r := &Relay{Relay: relay.New(opts...)}
	r.server = httptest.NewServer(r.Relay)
	t.Cleanup(r.Close)

	return r
}

// URL returns the websocket url of the relay.
func (r *Relay) URL() string {
	return "ws" + strings.TrimPrefix(r.server.URL, "http")
}

func (r *Relay) Close() {
	r.DisconnectAll()
	r.server.Close()
}
