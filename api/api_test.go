package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/oib/AITBC-sub002/crypto"
	"github.com/oib/AITBC-sub002/modules"
	"github.com/oib/AITBC-sub002/modules/chain"
	"github.com/oib/AITBC-sub002/modules/coordinator"
	"github.com/oib/AITBC-sub002/modules/gossip"
	"github.com/oib/AITBC-sub002/modules/poolhub"
	"github.com/oib/AITBC-sub002/types"
)

const (
	testJWTSecret    = "test-jwt-secret"
	testSharedSecret = "test-shared-secret"
	testTenantKey    = "tenant-api-key"
)

// A serverTester runs the full daemon stack behind an httptest server.
type serverTester struct {
	node  *chain.Node
	coord *coordinator.Coordinator
	hub   *poolhub.PoolHub
	srv   *httptest.Server

	clientKey  crypto.SecretKey
	clientAddr types.Address
}

func newServerTester(t *testing.T) *serverTester {
	clientKey, clientPK := crypto.GenerateKeyPair()
	clientAddr := types.AddressFromKey(clientPK)
	proposerKey, _ := crypto.GenerateKeyPair()
	coordKey, _ := crypto.GenerateKeyPair()

	node, err := chain.New(chain.Genesis{
		ChainID: "testchain",
		Allocations: []chain.GenesisAlloc{
			{Address: clientAddr, Balance: 1000},
		},
	}, chain.Options{
		ProposerKey:   &proposerKey,
		ManualSealing: true,
	}, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	hub, err := poolhub.New(poolhub.Options{}, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	store := coordinator.NewMemStore()
	coord, err := coordinator.New(store, hub, node, nil, coordinator.Options{
		Key:            coordKey,
		ProtocolFee:    5,
		CoordinatorCut: 0.2,
	}, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := coord.PutTenant(modules.Tenant{
		ID:         "tenant-1",
		Name:       "Test Tenant",
		Address:    clientAddr,
		APIKeyHash: crypto.HashBytes([]byte(testTenantKey)).String(),
	}); err != nil {
		t.Fatal(err)
	}
	if err := coord.Credit(clientAddr, 1000); err != nil {
		t.Fatal(err)
	}

	broker := gossip.NewInprocBroker()
	a := New(node, coord, hub, broker, testJWTSecret, testSharedSecret)
	srv := httptest.NewServer(a)

	st := &serverTester{
		node:       node,
		coord:      coord,
		hub:        hub,
		srv:        srv,
		clientKey:  clientKey,
		clientAddr: clientAddr,
	}
	t.Cleanup(func() {
		srv.Close()
		coord.Close()
		hub.Close()
		node.Close()
		broker.Close()
	})
	return st
}

// do runs one request and decodes the response into out (when non-nil),
// returning the status code.
func (st *serverTester) do(t *testing.T, method, path string, body interface{}, out interface{}, headers map[string]string) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, st.srv.URL+path, &buf)
	if err != nil {
		t.Fatal(err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatal(err)
		}
	}
	return resp.StatusCode
}

func tenantHeaders() map[string]string {
	return map[string]string{"X-API-Key": testTenantKey}
}

func secretHeaders() map[string]string {
	return map[string]string{"Authorization": "Bearer " + testSharedSecret}
}

// TestDaemonVersion sanity-checks the handler plumbing.
func TestDaemonVersion(t *testing.T) {
	st := newServerTester(t)
	var dv DaemonVersion
	if code := st.do(t, "GET", "/daemon/version", nil, &dv, nil); code != 200 {
		t.Fatal("status:", code)
	}
	if dv.Version == "" {
		t.Error("version is empty")
	}
}

// TestClientAuth checks that job endpoints refuse anonymous callers and
// accept both credential kinds.
func TestClientAuth(t *testing.T) {
	st := newServerTester(t)
	jr := JobRequest{
		ClientNonce: "n1",
		Payload:     types.JobPayload{Model: "llama-7b"},
		MaxPrice:    100,
	}

	if code := st.do(t, "POST", "/jobs", jr, nil, nil); code != http.StatusUnauthorized {
		t.Error("anonymous job submission got status", code)
	}
	if code := st.do(t, "POST", "/jobs", jr, nil, map[string]string{"X-API-Key": "wrong"}); code != http.StatusUnauthorized {
		t.Error("bad api key got status", code)
	}

	var job types.Job
	if code := st.do(t, "POST", "/jobs", jr, &job, tenantHeaders()); code != 200 {
		t.Fatal("api key submission got status", code)
	}
	if job.ClientAddr != st.clientAddr || job.TenantID != "tenant-1" {
		t.Error("job identity comes from the credential, got", job.ClientAddr, job.TenantID)
	}

	// JWT path.
	token, err := SignClientToken(testJWTSecret, st.clientAddr, "")
	if err != nil {
		t.Fatal(err)
	}
	jr.ClientNonce = "n2"
	if code := st.do(t, "POST", "/jobs", jr, &job, map[string]string{"Authorization": "Bearer " + token}); code != 200 {
		t.Error("jwt submission got status", code)
	}
	// A token signed with the wrong secret is refused.
	bad, _ := SignClientToken("other-secret", st.clientAddr, "")
	if code := st.do(t, "POST", "/jobs", jr, nil, map[string]string{"Authorization": "Bearer " + bad}); code != http.StatusUnauthorized {
		t.Error("forged jwt got status", code)
	}
}

// TestJobFlowOverHTTP drives a job from submission to receipt entirely
// through the HTTP surface.
func TestJobFlowOverHTTP(t *testing.T) {
	st := newServerTester(t)

	// Register a miner and capture its session token.
	var reg modules.RegisterResponse
	_, minerPK := crypto.GenerateKeyPair()
	code := st.do(t, "POST", "/miner/register", modules.RegisterRequest{
		MinerID: "m1",
		APIKey:  "miner-key",
		Address: types.AddressFromKey(minerPK),
		Capabilities: types.Capabilities{
			VRAMGB: 24, RAMGB: 64, Tags: []string{"cuda"},
		},
		PricePer1K:  80,
		MaxParallel: 2,
	}, &reg, nil)
	if code != 200 || reg.SessionToken == "" {
		t.Fatal("miner registration failed:", code)
	}
	sess := map[string]string{"X-Session-Token": reg.SessionToken}

	var job types.Job
	code = st.do(t, "POST", "/jobs", JobRequest{
		ClientNonce: "n1",
		Payload:     types.JobPayload{Model: "llama-7b", Prompt: "hi"},
		Constraints: types.JobConstraints{MinVRAMGB: 16, Tags: []string{"cuda"}},
		MaxPrice:    100,
	}, &job, tenantHeaders())
	if code != 200 {
		t.Fatal("job submission failed:", code)
	}

	// The long poll returns the assigned job.
	var poll PollResponse
	if code := st.do(t, "POST", "/miner/poll", nil, &poll, sess); code != 200 {
		t.Fatal("poll failed:", code)
	}
	if poll.Job == nil || poll.Job.ID != job.ID {
		t.Fatal("poll did not deliver the job")
	}

	// Progress, then the result.
	if code := st.do(t, "POST", "/miner/progress", ProgressRequest{JobID: job.ID, Pct: 50}, nil, sess); code != 200 {
		t.Error("progress failed:", code)
	}
	var receipt types.Receipt
	code = st.do(t, "POST", "/miner/result", ResultRequest{
		JobID: job.ID,
		Result: types.JobResult{
			Output:       "result",
			OutputHash:   crypto.HashBytes([]byte("result")),
			ComputeUnits: 1000,
		},
	}, &receipt, sess)
	if code != 200 || receipt.JobID != job.ID {
		t.Fatal("result submission failed:", code)
	}

	// The client fetches the receipt.
	var fetched types.Receipt
	if code := st.do(t, "GET", "/jobs/"+job.ID+"/receipt", nil, &fetched, tenantHeaders()); code != 200 {
		t.Fatal("receipt fetch failed:", code)
	}
	if fetched.ReceiptID != receipt.ReceiptID {
		t.Error("fetched receipt differs")
	}

	// A miner with no session token is locked out of every miner call.
	if code := st.do(t, "POST", "/miner/poll", nil, nil, nil); code != http.StatusUnauthorized {
		t.Error("anonymous poll got status", code)
	}
}

// TestChainRPC exercises sendTx and the read endpoints against a manually
// sealed block.
func TestChainRPC(t *testing.T) {
	st := newServerTester(t)
	_, destPK := crypto.GenerateKeyPair()
	dest := types.AddressFromKey(destPK)

	tx := types.Transaction{
		Type:   types.TxTransfer,
		Nonce:  1,
		Fee:    1,
		To:     dest,
		Amount: 50,
	}
	if err := tx.Sign(st.clientKey); err != nil {
		t.Fatal(err)
	}
	var sent SendTxResponse
	if code := st.do(t, "POST", "/rpc/sendTx", tx, &sent, nil); code != 200 {
		t.Fatal("sendTx failed:", code)
	}
	if sent.Status != types.TxStatusPending {
		t.Error("status:", sent.Status)
	}

	// An unsigned transaction is rejected with a validation error.
	if code := st.do(t, "POST", "/rpc/sendTx", types.Transaction{Type: types.TxTransfer, To: dest, Amount: 1, Nonce: 2, Fee: 1}, nil, nil); code == 200 {
		t.Error("unsigned transaction accepted")
	}

	if _, ok := st.node.ProposeBlock(); !ok {
		t.Fatal("block was not proposed")
	}

	var head modules.ChainInfo
	if code := st.do(t, "GET", "/rpc/getHead", nil, &head, nil); code != 200 || head.Height != 1 {
		t.Fatal("head:", code, head.Height)
	}
	var block types.Block
	if code := st.do(t, "GET", "/rpc/getBlock/1", nil, &block, nil); code != 200 || len(block.Transactions) != 1 {
		t.Fatal("getBlock by height failed:", code)
	}
	if code := st.do(t, "GET", "/rpc/getBlock/"+block.ID().String(), nil, &block, nil); code != 200 {
		t.Error("getBlock by id failed:", code)
	}
	var bal BalanceResponse
	if code := st.do(t, "GET", "/rpc/getBalance/"+dest.String(), nil, &bal, nil); code != 200 || bal.Balance != 50 {
		t.Error("balance:", code, bal.Balance)
	}
	var txr TxResponse
	if code := st.do(t, "GET", "/rpc/getTx/"+sent.TxID.String(), nil, &txr, nil); code != 200 || txr.Status != types.TxStatusIncluded {
		t.Error("getTx:", code, txr.Status)
	}
	var blocks BlocksResponse
	if code := st.do(t, "GET", "/rpc/getBlocks?from=0&to=1", nil, &blocks, nil); code != 200 || len(blocks.Blocks) != 2 {
		t.Error("getBlocks:", code, len(blocks.Blocks))
	}
}

// TestSharedSecretEndpoints checks that the operator surface refuses callers
// without the shared secret.
func TestSharedSecretEndpoints(t *testing.T) {
	st := newServerTester(t)

	cr := CreditRequest{Address: st.clientAddr, Amount: 10}
	if code := st.do(t, "POST", "/coordinator/credit", cr, nil, nil); code != http.StatusUnauthorized {
		t.Error("anonymous credit got status", code)
	}
	if code := st.do(t, "POST", "/coordinator/credit", cr, nil, map[string]string{"Authorization": "Bearer wrong"}); code != http.StatusUnauthorized {
		t.Error("wrong secret got status", code)
	}
	if code := st.do(t, "POST", "/coordinator/credit", cr, nil, secretHeaders()); code != 200 {
		t.Error("credit with secret got status", code)
	}

	var miners MinersResponse
	if code := st.do(t, "GET", "/pool/miners", nil, &miners, secretHeaders()); code != 200 {
		t.Error("pool miners got status", code)
	}
	var audit AuditResponse
	if code := st.do(t, "GET", "/coordinator/audit", nil, &audit, secretHeaders()); code != 200 {
		t.Error("audit got status", code)
	}
}

// TestTenantAdmin exercises the tenant CRUD surface and checks that a freshly
// issued api key authenticates.
func TestTenantAdmin(t *testing.T) {
	st := newServerTester(t)

	_, pk := crypto.GenerateKeyPair()
	var added AddTenantResponse
	code := st.do(t, "POST", "/coordinator/tenants", AddTenantRequest{
		Name:    "Acme",
		Address: types.AddressFromKey(pk),
	}, &added, secretHeaders())
	if code != 200 || added.APIKey == "" || added.Tenant.ID == "" {
		t.Fatal("add tenant:", code, added)
	}
	if added.Tenant.APIKeyHash != crypto.HashBytes([]byte(added.APIKey)).String() {
		t.Error("tenant stores the wrong key hash")
	}

	// The issued key works immediately once the tenant has funds.
	if code := st.do(t, "POST", "/coordinator/credit", CreditRequest{Address: added.Tenant.Address, Amount: 100}, nil, secretHeaders()); code != 200 {
		t.Fatal("credit:", code)
	}
	code = st.do(t, "POST", "/jobs", JobRequest{
		ClientNonce: "n1",
		Payload:     types.JobPayload{Model: "llama-7b"},
		MaxPrice:    10,
	}, nil, map[string]string{"X-API-Key": added.APIKey})
	if code != 200 {
		t.Fatal("new tenant key refused:", code)
	}

	var tr TenantsResponse
	if code := st.do(t, "GET", "/coordinator/tenants", nil, &tr, secretHeaders()); code != 200 || len(tr.Tenants) != 2 {
		t.Fatal("tenant list:", code, len(tr.Tenants))
	}

	// Removal revokes the key.
	if code := st.do(t, "DELETE", "/coordinator/tenants/"+added.Tenant.ID, nil, nil, secretHeaders()); code != 200 {
		t.Fatal("remove tenant:", code)
	}
	code = st.do(t, "POST", "/jobs", JobRequest{
		ClientNonce: "n2",
		Payload:     types.JobPayload{Model: "llama-7b"},
		MaxPrice:    10,
	}, nil, map[string]string{"X-API-Key": added.APIKey})
	if code != http.StatusUnauthorized {
		t.Error("revoked key got status", code)
	}

	// Tenant admin is operator-only.
	if code := st.do(t, "GET", "/coordinator/tenants", nil, nil, tenantHeaders()); code != http.StatusUnauthorized {
		t.Error("tenant key reached the admin surface, status", code)
	}
}

// TestErrorEnvelope checks the error wire format and status mapping.
func TestErrorEnvelope(t *testing.T) {
	st := newServerTester(t)

	req, err := http.NewRequest("GET", st.srv.URL+"/jobs/nope", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("X-API-Key", testTenantKey)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatal("status:", resp.StatusCode)
	}
	var env errorEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatal(err)
	}
	if env.Error.Code != types.ErrCodeNotFound || env.Error.Message == "" {
		t.Error("envelope:", env)
	}
}

// TestRateLimit hammers a read endpoint past its burst and expects 429s.
func TestRateLimit(t *testing.T) {
	st := newServerTester(t)
	limited := 0
	for i := 0; i < 150; i++ {
		if code := st.do(t, "GET", "/rpc/getHead", nil, nil, nil); code == http.StatusTooManyRequests {
			limited++
		}
	}
	if limited == 0 {
		t.Error("no request was rate limited after exhausting the burst")
	}
}
