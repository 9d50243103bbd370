package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	got []Message
	err error
}

func (r *recordingSender) Send(_ context.Context, msg Message) error {
	r.got = append(r.got, msg)
	return r.err
}

func (r *recordingSender) Name() string { return "recording" }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestNotifierFiltersEvents(t *testing.T) {
	rec := &recordingSender{}
	n := New(discardLogger(), []Sender{rec}, WithEvents(EventEntry, EventError))

	n.Notify(context.Background(), Message{Event: EventEntry, Title: "opened"})
	n.Notify(context.Background(), Message{Event: EventSignal, Title: "ignored"})
	n.Notify(context.Background(), Message{Event: EventError, Title: "broke"})

	require.Len(t, rec.got, 2)
	assert.Equal(t, "opened", rec.got[0].Title)
	assert.Equal(t, "broke", rec.got[1].Title)
}

func TestNotifierSwallowsSenderErrors(t *testing.T) {
	failing := &recordingSender{err: errors.New("channel down")}
	working := &recordingSender{}
	n := New(discardLogger(), []Sender{failing, working})

	n.Notify(context.Background(), Message{Event: EventExit, Title: "closed"})

	assert.Len(t, failing.got, 1)
	assert.Len(t, working.got, 1, "one failing channel must not block the others")
}

func TestNilNotifierIsSafe(t *testing.T) {
	var n *Notifier
	n.Notify(context.Background(), Message{Event: EventEntry})
}

func TestTelegramSenderPayload(t *testing.T) {
	var payload map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("token", "chat-1")
	s.client = srv.Client()
	// Redirect the Bot API host at the transport level.
	s.client.Transport = rewriteHost(srv)

	err := s.Send(context.Background(), Message{
		Event: EventEntry,
		Title: "Long XBTUSD",
		Body:  "size 100 @ 50000",
	})
	require.NoError(t, err)

	assert.Equal(t, "chat-1", payload["chat_id"])
	assert.Equal(t, "Markdown", payload["parse_mode"])
	assert.Equal(t, "[ENTRY] *Long XBTUSD*\nsize 100 @ 50000", payload["text"])
}

func TestDiscordSenderEmbed(t *testing.T) {
	var payload struct {
		Embeds []discordEmbed `json:"embeds"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewDiscordSender(srv.URL)
	err := s.Send(context.Background(), Message{
		Event: EventError,
		Title: "Feed down",
		Body:  "reconnect attempts exhausted",
	})
	require.NoError(t, err)

	require.Len(t, payload.Embeds, 1)
	assert.Equal(t, "[ERROR] Feed down", payload.Embeds[0].Title)
	assert.Equal(t, 0xe74c3c, payload.Embeds[0].Color)
}

func TestDiscordSenderSurfacesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"invalid webhook"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	s := NewDiscordSender(srv.URL)
	err := s.Send(context.Background(), Message{Event: EventExit, Title: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discord: unexpected status 401")
}

// rewriteHost routes every request to the test server regardless of the URL
// the sender builds.
func rewriteHost(srv *httptest.Server) http.RoundTripper {
	return roundTripFunc(func(req *http.Request) (*http.Response, error) {
		req.URL.Scheme = "http"
		req.URL.Host = srv.Listener.Addr().String()
		return http.DefaultTransport.RoundTrip(req)
	})
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}
