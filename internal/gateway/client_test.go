package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"castbot/internal/model"
	logx "castbot/pkg/logx"
)

type fakeGateway struct {
	mu     sync.Mutex
	calls  []string
	sent   []sendReq
	failTo map[int64]bool
}

func (f *fakeGateway) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/sessions", func(w http.ResponseWriter, r *http.Request) {
		var in openReq
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		f.note("open " + in.Phone)
		_ = json.NewEncoder(w).Encode(map[string]string{"session_id": "s1"})
	})
	mux.HandleFunc("GET /v1/sessions/{id}/dialogs", func(w http.ResponseWriter, r *http.Request) {
		f.note("dialogs " + r.PathValue("id") + " " + r.URL.Query().Get("kind"))
		_ = json.NewEncoder(w).Encode(map[string]any{"dialogs": []model.Candidate{{ID: -100, Title: "alpha"}, {ID: -200, Title: "beta"}}})
	})
	mux.HandleFunc("POST /v1/sessions/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		var in sendReq
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		f.mu.Lock()
		f.sent = append(f.sent, in)
		fail := f.failTo[in.PeerID]
		f.mu.Unlock()
		if fail {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"error":"peer flood"}`))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("DELETE /v1/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.note("close " + r.PathValue("id"))
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /v1/auth/code", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"phone_code_hash": "abc"})
	})
	mux.HandleFunc("POST /v1/auth/sign-in", func(w http.ResponseWriter, r *http.Request) {
		var in signInReq
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		if in.Code != "12345" || in.PhoneCodeHash != "abc" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"PHONE_CODE_INVALID"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func (f *fakeGateway) note(s string) {
	f.mu.Lock()
	f.calls = append(f.calls, s)
	f.mu.Unlock()
}

func newClient(t *testing.T, h http.Handler, cfg Config) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	cfg.BaseURL = srv.URL + "/"
	if cfg.RatePerSec == 0 {
		cfg.RatePerSec = 1000
	}
	return New(cfg, logx.Nop())
}

func TestListCandidatesBracketsSession(t *testing.T) {
	t.Parallel()

	f := &fakeGateway{}
	c := newClient(t, f.handler(t), Config{})

	got, err := c.ListCandidates(context.Background(), Account{Phone: "+1555"})
	require.NoError(t, err)
	assert.Equal(t, []model.Candidate{{ID: -100, Title: "alpha"}, {ID: -200, Title: "beta"}}, got)
	assert.Equal(t, []string{"open +1555", "dialogs s1 group", "close s1"}, f.calls)
}

func TestSendMapsFailuresToTransport(t *testing.T) {
	t.Parallel()

	f := &fakeGateway{failTo: map[int64]bool{-200: true}}
	c := newClient(t, f.handler(t), Config{})
	ctx := context.Background()

	cn, err := c.Open(ctx, Account{Phone: "+1555"})
	require.NoError(t, err)
	require.NoError(t, cn.Send(ctx, -100, "hi"))

	err = cn.Send(ctx, -200, "hi")
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrTransport)
	assert.Contains(t, err.Error(), "peer flood")
	require.NoError(t, cn.Close(ctx))

	assert.Equal(t, []sendReq{{PeerID: -100, Text: "hi"}, {PeerID: -200, Text: "hi"}}, f.sent)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	c := newClient(t, h, Config{BreakerFailures: 2, BreakerCooldown: time.Minute})

	for i := 0; i < 4; i++ {
		_, err := c.Open(context.Background(), Account{Phone: "+1"})
		assert.ErrorIs(t, err, model.ErrTransport)
	}
	assert.Equal(t, int32(2), hits.Load())
}

func TestClientErrorsDoNotTripBreaker(t *testing.T) {
	t.Parallel()

	f := &fakeGateway{}
	c := newClient(t, f.handler(t), Config{BreakerFailures: 1})
	ctx := context.Background()
	acc := Account{Phone: "+1555"}

	hash, err := c.RequestCode(ctx, acc)
	require.NoError(t, err)
	assert.Equal(t, "abc", hash)

	err = c.SignIn(ctx, acc, "00000", hash)
	assert.ErrorIs(t, err, model.ErrValidation)
	// still closed: the right code goes through
	require.NoError(t, c.SignIn(ctx, acc, " 12345 ", hash))
}

func TestAccountForPrefersActorOverride(t *testing.T) {
	t.Parallel()

	c := New(Config{APIID: 1, APIHash: "default"}, logx.Nop())
	assert.Equal(t, Account{Phone: "+1", APIID: 1, APIHash: "default"}, c.AccountFor(model.Actor{ID: 5}, "+1"))
	assert.Equal(t, Account{Phone: "+1", APIID: 9, APIHash: "own"}, c.AccountFor(model.Actor{ID: 5, APIID: 9, APIHash: "own"}, "+1"))
}
