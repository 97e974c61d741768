package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gcolon75/Project-Valine-sub002/internal/alert"
	"github.com/gcolon75/Project-Valine-sub002/internal/interaction"
	"github.com/gcolon75/Project-Valine-sub002/internal/logging"
	"github.com/gcolon75/Project-Valine-sub002/internal/redact"
	cmdrouter "github.com/gcolon75/Project-Valine-sub002/internal/router"
	"github.com/gcolon75/Project-Valine-sub002/internal/testutil"
	tracestore "github.com/gcolon75/Project-Valine-sub002/internal/trace"
)

func newTestServer(t *testing.T) (*httptest.Server, *testutil.SigningKeys) {
	t.Helper()

	keys := testutil.NewSigningKeys(t)
	verifier, err := interaction.NewVerifier(keys.PublicHex)
	require.NoError(t, err)

	traces := tracestore.NewStore(tracestore.DefaultCapacity, redact.New(nil))
	alerts := alert.NewManager(false, "", nil, logging.Nop())
	table := []cmdrouter.Descriptor{{
		Name:    "status",
		Class:   cmdrouter.ClassFast,
		Enabled: true,
		Handler: func(context.Context, *cmdrouter.Request) (*cmdrouter.Result, error) {
			return &cmdrouter.Result{Content: "all good", Status: tracestore.StatusOK}, nil
		},
	}}
	dispatch := cmdrouter.New(table, cmdrouter.Authorizer{}, traces, alerts, nil, logging.Nop())

	srv := httptest.NewServer(NewServer(verifier, dispatch, logging.Nop(), WithVersion("test")).Routes())
	t.Cleanup(srv.Close)
	return srv, keys
}

func postSigned(t *testing.T, srv *httptest.Server, keys *testutil.SigningKeys, body []byte) *http.Response {
	t.Helper()
	ts := fmt.Sprintf("%d", time.Now().Unix())
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/interactions", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set(interaction.HeaderTimestamp, ts)
	req.Header.Set(interaction.HeaderSignature, keys.Sign(ts, body))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test", body["version"])
}

func TestInteractionPingPong(t *testing.T) {
	srv, keys := newTestServer(t)

	body, _ := json.Marshal(map[string]any{"type": interaction.TypePing})
	resp := postSigned(t, srv, keys, body)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out interaction.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, interaction.ResponsePong, out.Type)
}

func TestInteractionCommand(t *testing.T) {
	srv, keys := newTestServer(t)

	body, _ := json.Marshal(map[string]any{
		"type":         interaction.TypeCommand,
		"command_name": "status",
		"requester_id": "u1",
	})
	resp := postSigned(t, srv, keys, body)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out interaction.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "all good", out.Content)
}

func TestInteractionMissingHeaders(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/interactions", "application/json", bytes.NewReader([]byte(`{"type":"ping"}`)))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestInteractionBadSignature(t *testing.T) {
	srv, _ := newTestServer(t)
	other := testutil.NewSigningKeys(t)

	body := []byte(`{"type":"ping"}`)
	ts := fmt.Sprintf("%d", time.Now().Unix())
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/interactions", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set(interaction.HeaderTimestamp, ts)
	req.Header.Set(interaction.HeaderSignature, other.Sign(ts, body))

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestInteractionTamperedBody(t *testing.T) {
	srv, keys := newTestServer(t)

	signed := []byte(`{"type":"ping"}`)
	ts := fmt.Sprintf("%d", time.Now().Unix())
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/interactions",
		bytes.NewReader([]byte(`{"type":"command","command_name":"status"}`)))
	require.NoError(t, err)
	req.Header.Set(interaction.HeaderTimestamp, ts)
	req.Header.Set(interaction.HeaderSignature, keys.Sign(ts, signed))

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestInteractionMalformedPayload(t *testing.T) {
	srv, keys := newTestServer(t)

	resp := postSigned(t, srv, keys, []byte(`{not json`))
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
