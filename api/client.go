package api

// client.go is the HTTP client for the daemon's API. The CLI subcommands use
// it, and so do the cross-site adapters that let a coordinator talk to a
// pool hub or chain node running in another process.

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/oib/AITBC-sub002/modules"
	"github.com/oib/AITBC-sub002/types"
)

// A Client talks to a daemon's HTTP API. Secret, when set, is sent as a
// bearer token and unlocks the operator endpoints.
type Client struct {
	BaseURL string
	Secret  string

	http *http.Client
}

// NewClient returns a client for the daemon at baseURL.
func NewClient(baseURL, secret string) *Client {
	return &Client{
		BaseURL: baseURL,
		Secret:  secret,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// do runs one request, decoding either the response or the error envelope.
func (c *Client) do(method, path string, body, out interface{}) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequest(method, c.BaseURL+path, &buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Secret != "" {
		req.Header.Set("Authorization", "Bearer "+c.Secret)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return types.WrapCoded(types.ErrCodeDependency, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var env errorEnvelope
		if json.NewDecoder(resp.Body).Decode(&env) == nil && env.Error.Code != "" {
			return types.NewCodedError(env.Error.Code, env.Error.Message)
		}
		return fmt.Errorf("remote returned status %d", resp.StatusCode)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) get(path string, out interface{}) error {
	return c.do(http.MethodGet, path, nil, out)
}

func (c *Client) post(path string, body, out interface{}) error {
	return c.do(http.MethodPost, path, body, out)
}

// Version returns the daemon version.
func (c *Client) Version() (string, error) {
	var dv DaemonVersion
	err := c.get("/daemon/version", &dv)
	return dv.Version, err
}

// Stop asks the daemon to shut down.
func (c *Client) Stop() error {
	return c.post("/daemon/stop", nil, nil)
}

// Head returns the chain head.
func (c *Client) Head() (modules.ChainInfo, error) {
	var info modules.ChainInfo
	err := c.get("/rpc/getHead", &info)
	return info, err
}

// Balance returns the chain account state of addr.
func (c *Client) Balance(addr types.Address) (BalanceResponse, error) {
	var br BalanceResponse
	err := c.get("/rpc/getBalance/"+addr.String(), &br)
	return br, err
}

// SendTx submits a signed transaction.
func (c *Client) SendTx(tx types.Transaction) (SendTxResponse, error) {
	var sr SendTxResponse
	err := c.post("/rpc/sendTx", tx, &sr)
	return sr, err
}

// Credit funds a coordinator ledger account. Requires the shared secret.
func (c *Client) Credit(addr types.Address, amount uint64) error {
	return c.post("/coordinator/credit", CreditRequest{Address: addr, Amount: amount}, nil)
}

// Audit pages through the coordinator audit log. Requires the shared secret.
func (c *Client) Audit(from uint64, limit int) ([]modules.AuditEvent, error) {
	var ar AuditResponse
	err := c.get(fmt.Sprintf("/coordinator/audit?from=%d&limit=%d", from, limit), &ar)
	return ar.Events, err
}

// Attest asks a remote coordinator to attest a receipt. Requires the shared
// secret. The method signature matches the chain node's Attestor dependency.
func (c *Client) Attest(receiptID, jobID string, price uint64) (types.Attestation, error) {
	var att types.Attestation
	err := c.post("/coordinator/attest", AttestRequest{ReceiptID: receiptID, JobID: jobID, Price: price}, &att)
	return att, err
}

// Tenants lists the coordinator's tenants. Requires the shared secret.
func (c *Client) Tenants() ([]modules.Tenant, error) {
	var tr TenantsResponse
	err := c.get("/coordinator/tenants", &tr)
	return tr.Tenants, err
}

// AddTenant creates a tenant and returns it along with the generated api
// key. Requires the shared secret.
func (c *Client) AddTenant(name string, addr types.Address) (AddTenantResponse, error) {
	var resp AddTenantResponse
	err := c.post("/coordinator/tenants", AddTenantRequest{Name: name, Address: addr}, &resp)
	return resp, err
}

// RemoveTenant deletes a tenant. Requires the shared secret.
func (c *Client) RemoveTenant(id string) error {
	return c.do(http.MethodDelete, "/coordinator/tenants/"+id, nil, nil)
}

// Miners lists the pool hub registry. Requires the shared secret.
func (c *Client) Miners() ([]types.MinerEntry, error) {
	var mr MinersResponse
	err := c.get("/pool/miners", &mr)
	return mr.Miners, err
}

// ResetTrust restores a miner's trust score. Requires the shared secret.
func (c *Client) ResetTrust(minerID string) error {
	return c.post("/pool/miners/"+minerID+"/reset-trust", nil, nil)
}

// Match runs a matchmaking query. Requires the shared secret.
func (c *Client) Match(req types.MatchRequirements, hints types.MatchHints, topK int) ([]types.Candidate, error) {
	var mr MatchResponse
	err := c.post("/pool/match", MatchRequest{Requirements: req, Hints: hints, TopK: topK}, &mr)
	return mr.Candidates, err
}

// Feedback reports a job outcome to the pool hub. Requires the shared
// secret.
func (c *Client) Feedback(jobID, minerID string, outcome types.MatchOutcome, latencyMS int64, failCode string) error {
	return c.post("/pool/feedback", FeedbackRequest{
		JobID:     jobID,
		MinerID:   minerID,
		Outcome:   outcome,
		LatencyMS: latencyMS,
		FailCode:  failCode,
	}, nil)
}

// Miner returns one registry entry. Requires the shared secret.
func (c *Client) Miner(id string) (types.MinerEntry, bool) {
	miners, err := c.Miners()
	if err != nil {
		return types.MinerEntry{}, false
	}
	for _, m := range miners {
		if m.ID == id {
			return m, true
		}
	}
	return types.MinerEntry{}, false
}

// RemoteChainClient adapts a Client to the coordinator's chain dependency.
type RemoteChainClient struct {
	*Client
}

// AcceptTransaction submits tx to the remote node's mempool.
func (rc RemoteChainClient) AcceptTransaction(tx types.Transaction) error {
	_, err := rc.SendTx(tx)
	return err
}

// Account reads an account from the remote node.
func (rc RemoteChainClient) Account(addr types.Address) (types.Account, bool) {
	br, err := rc.Balance(addr)
	if err != nil {
		return types.Account{}, false
	}
	return types.Account{Address: addr, Balance: br.Balance, Nonce: br.Nonce}, true
}
