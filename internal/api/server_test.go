package api

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swapOracle/internal/gateway"
	"swapOracle/internal/ledger"
	"swapOracle/internal/metrics"
	"swapOracle/internal/model"
	"swapOracle/internal/oracle"
	"swapOracle/internal/storage/memory"
)

var fixedNow = time.Unix(1_700_000_000, 0)

type fixture struct {
	store     *memory.Store
	oracle    *oracle.Oracle
	ledger    *ledger.Ledger
	authority *ecdsa.PrivateKey
	srv       *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	store := memory.NewStore()
	m := metrics.New("test")
	l := ledger.New(store, nil, nil, m, nil)
	o := oracle.New(store, nil, nil, gateway.New(nil), l, nil, m, nil)
	require.NoError(t, o.Init(context.Background(), crypto.PubkeyToAddress(key.PublicKey).Hex(), "custody"))

	s := NewServer(Deps{
		Admin:      o,
		Swaps:      l,
		Heights:    store,
		Identities: store,
		Metrics:    m,
		Now:        func() time.Time { return fixedNow },
	})
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)
	return &fixture{store: store, oracle: o, ledger: l, authority: key, srv: srv}
}

func (f *fixture) request(t *testing.T, path, body string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, f.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	return req
}

func (f *fixture) do(t *testing.T, req *http.Request) *http.Response {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// post sends a request signed by key at fixedNow; a nil key sends it unsigned.
func (f *fixture) post(t *testing.T, path string, key *ecdsa.PrivateKey, body string) *http.Response {
	t.Helper()
	req := f.request(t, path, body)
	if key != nil {
		require.NoError(t, SignRequest(req, []byte(body), key, fixedNow))
	}
	return f.do(t, req)
}

func (f *fixture) get(t *testing.T, path string, out any) int {
	t.Helper()
	resp, err := http.Get(f.srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestKickoffEndpoint(t *testing.T) {
	f := newFixture(t)
	body := `{"kind":"provider","url":"https://provider.example","body":"{\"method\":\"eth_getLogs\"}","headers":{"X-Key":"k"}}`

	mallory, err := crypto.GenerateKey()
	require.NoError(t, err)
	resp := f.post(t, "/admin/kickoff", mallory, body)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = f.post(t, "/admin/kickoff", f.authority, `{"kind":"ftp","url":"x"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.post(t, "/admin/kickoff", f.authority, `{"kind":"explorer"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.post(t, "/admin/kickoff", f.authority, body)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	job, err := f.store.PeekJob(context.Background())
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, model.SourceProvider, job.Kind)
	assert.Equal(t, `{"method":"eth_getLogs"}`, string(job.Body))
	assert.Equal(t, "k", job.Headers["X-Key"])

	resp = f.post(t, "/admin/killall", nil, "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = f.post(t, "/admin/killall", f.authority, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	job, err = f.store.PeekJob(context.Background())
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestKickoffRejectsUnsignedCaller(t *testing.T) {
	f := newFixture(t)
	authority := crypto.PubkeyToAddress(f.authority.PublicKey).Hex()
	body := `{"kind":"explorer","url":"http://attacker.example/forged"}`

	req := f.request(t, "/admin/kickoff", body)
	req.Header.Set("X-Oracle-Caller", authority)
	resp := f.do(t, req)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	job, err := f.store.PeekJob(context.Background())
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestKickoffRejectsTamperedStaleAndReplayedRequests(t *testing.T) {
	f := newFixture(t)
	good := `{"kind":"explorer","url":"http://explorer.example/a"}`

	// Signature over a different body.
	req := f.request(t, "/admin/kickoff", `{"kind":"explorer","url":"http://attacker.example/forged"}`)
	require.NoError(t, SignRequest(req, []byte(good), f.authority, fixedNow))
	assert.Equal(t, http.StatusForbidden, f.do(t, req).StatusCode)

	req = f.request(t, "/admin/kickoff", good)
	require.NoError(t, SignRequest(req, []byte(good), f.authority, fixedNow.Add(-time.Hour)))
	assert.Equal(t, http.StatusForbidden, f.do(t, req).StatusCode)

	req = f.request(t, "/admin/kickoff", good)
	require.NoError(t, SignRequest(req, []byte(good), f.authority, fixedNow))
	replay := req.Header.Clone()
	assert.Equal(t, http.StatusAccepted, f.do(t, req).StatusCode)

	req = f.request(t, "/admin/kickoff", good)
	req.Header = replay
	assert.Equal(t, http.StatusForbidden, f.do(t, req).StatusCode)
}

func TestAdminRoutesNeedAdmin(t *testing.T) {
	store := memory.NewStore()
	l := ledger.New(store, nil, nil, nil, nil)
	srv := httptest.NewServer(NewServer(Deps{Swaps: l, Heights: store}).Router())
	t.Cleanup(srv.Close)

	resp, err := http.Post(srv.URL+"/admin/kickoff", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSwapEndpoints(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id := model.ContentHash([]byte("swap"))
	_, err := f.ledger.Apply(ctx, 10, []model.SwapEvent{{
		Kind:              model.EventOpen,
		SwapID:            id,
		OutAmount:         12_500_000_000_000_000,
		ExpireHeightDelta: 60,
		SenderChain:       model.ChainETHMain,
		ReceiverChain:     model.ChainPRA,
	}})
	require.NoError(t, err)
	require.NoError(t, f.store.SaveLocalHeight(ctx, 20))

	var swap swapResponse
	require.Equal(t, http.StatusOK, f.get(t, "/swaps/"+id.Hex(), &swap))
	assert.Equal(t, model.SwapOpen, swap.State)
	require.NotNil(t, swap.Record)
	assert.Equal(t, "12.5", swap.Amount)
	assert.Equal(t, uint64(70), swap.ExpiresAt)
	assert.True(t, swap.Claimable)

	var claim claimableResponse
	require.Equal(t, http.StatusOK, f.get(t, "/swaps/"+id.Hex()+"/claimable?height=69", &claim))
	assert.True(t, claim.Claimable)
	require.Equal(t, http.StatusOK, f.get(t, "/swaps/"+id.Hex()+"/claimable?height=70", &claim))
	assert.False(t, claim.Claimable)
	require.Equal(t, http.StatusOK, f.get(t, "/swaps/"+id.Hex()+"/claimable", &claim))
	assert.Equal(t, uint64(20), claim.Height)

	assert.Equal(t, http.StatusBadRequest, f.get(t, "/swaps/"+id.Hex()+"/claimable?height=abc", nil))
	assert.Equal(t, http.StatusBadRequest, f.get(t, "/swaps/0x1234", nil))
	assert.Equal(t, http.StatusNotFound, f.get(t, "/swaps/"+model.ContentHash([]byte("other")).Hex(), nil))

	var stats statsResponse
	require.Equal(t, http.StatusOK, f.get(t, "/stats", &stats))
	assert.Equal(t, uint64(1), stats.SwapCount)
	assert.Equal(t, uint64(20), stats.LocalHeight)
}

func TestIdentityEndpoint(t *testing.T) {
	f := newFixture(t)
	payload := []byte("alice")
	identity := model.ContentHash(payload)
	require.NoError(t, f.store.RegisterIdentity(context.Background(), identity, "alice-account"))

	var got identityResponse
	require.Equal(t, http.StatusOK, f.get(t, "/identity/did:pra:"+base58.Encode(payload), &got))
	assert.Equal(t, identity, got.Identity)
	assert.Equal(t, "did", got.ChainTag)
	assert.Equal(t, "pra", got.TypeTag)
	assert.True(t, got.Registered)
	assert.Equal(t, "alice-account", got.Account)

	assert.Equal(t, http.StatusBadRequest, f.get(t, "/identity/did:pra", nil))
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusOK, f.get(t, "/health", nil))

	resp, err := http.Get(f.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "0", FormatAmount(0))
	assert.Equal(t, "0.000000000000001", FormatAmount(1))
	assert.Equal(t, "1", FormatAmount(1_000_000_000_000_000))
}
