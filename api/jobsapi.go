package api

// jobsapi.go holds the client-facing job endpoints. Callers authenticate
// with an api key or a JWT; the job's client address is always taken from
// the credential, never from the request body.

import (
	"encoding/hex"
	"net/http"
	"strconv"

	"github.com/NebulousLabs/fastrand"
	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"

	"github.com/oib/AITBC-sub002/crypto"
	"github.com/oib/AITBC-sub002/modules"
	"github.com/oib/AITBC-sub002/types"
)

type (
	// JobRequest is the body of POST /jobs.
	JobRequest struct {
		ClientNonce string               `json:"client_nonce"`
		Payload     types.JobPayload     `json:"payload"`
		Constraints types.JobConstraints `json:"constraints"`
		MaxPrice    uint64               `json:"max_price"`
		DeadlineSec int64                `json:"deadline_sec,omitempty"`
		Private     bool                 `json:"private,omitempty"`
	}

	// AuditResponse is a page of audit events.
	AuditResponse struct {
		Events []modules.AuditEvent `json:"events"`
	}

	// CreditRequest funds a ledger account out of band.
	CreditRequest struct {
		Address types.Address `json:"address"`
		Amount  uint64        `json:"amount"`
	}

	// AttestRequest asks the coordinator to confirm a receipt's job and
	// escrow facts.
	AttestRequest struct {
		ReceiptID string `json:"receipt_id"`
		JobID     string `json:"job_id"`
		Price     uint64 `json:"price"`
	}

	// TenantsResponse lists the coordinator's tenants.
	TenantsResponse struct {
		Tenants []modules.Tenant `json:"tenants"`
	}

	// AddTenantRequest is the body of POST /coordinator/tenants.
	AddTenantRequest struct {
		Name    string        `json:"name"`
		Address types.Address `json:"address"`
	}

	// AddTenantResponse carries the freshly minted api key. The key is
	// shown exactly once; only its hash is stored.
	AddTenantResponse struct {
		Tenant modules.Tenant `json:"tenant"`
		APIKey string         `json:"api_key"`
	}
)

// jobsHandlerPOST handles POST /jobs.
func (api *API) jobsHandlerPOST(w http.ResponseWriter, req *http.Request, _ httprouter.Params, id clientIdentity) {
	var jr JobRequest
	if err := decodeBody(req, &jr); err != nil {
		writeError(w, err)
		return
	}
	job, err := api.coordinator.SubmitJob(id.TenantID, modules.SubmitJobRequest{
		ClientAddr:  id.Address,
		ClientNonce: jr.ClientNonce,
		Payload:     jr.Payload,
		Constraints: jr.Constraints,
		MaxPrice:    jr.MaxPrice,
		DeadlineSec: jr.DeadlineSec,
		Private:     jr.Private,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, job)
}

// canSeeJob enforces privacy: private jobs are visible only to their owner.
func canSeeJob(job types.Job, id clientIdentity) bool {
	if !job.Private {
		return true
	}
	return job.ClientAddr == id.Address
}

// jobHandlerGET handles GET /jobs/:id.
func (api *API) jobHandlerGET(w http.ResponseWriter, req *http.Request, ps httprouter.Params, id clientIdentity) {
	job, ok := api.coordinator.Job(ps.ByName("id"))
	if !ok || !canSeeJob(job, id) {
		writeError(w, types.NewCodedError(types.ErrCodeNotFound, "no job with that id"))
		return
	}
	writeJSON(w, job)
}

// jobCancelHandler handles POST /jobs/:id/cancel.
func (api *API) jobCancelHandler(w http.ResponseWriter, req *http.Request, ps httprouter.Params, id clientIdentity) {
	if err := api.coordinator.CancelJob(ps.ByName("id"), id.Address); err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w)
}

// jobReceiptHandler handles GET /jobs/:id/receipt.
func (api *API) jobReceiptHandler(w http.ResponseWriter, req *http.Request, ps httprouter.Params, id clientIdentity) {
	job, ok := api.coordinator.Job(ps.ByName("id"))
	if !ok || !canSeeJob(job, id) {
		writeError(w, types.NewCodedError(types.ErrCodeNotFound, "no job with that id"))
		return
	}
	receipt, ok := api.coordinator.Receipt(job.ID)
	if !ok {
		writeError(w, types.NewCodedError(types.ErrCodeNotFound, "job has no receipt"))
		return
	}
	writeJSON(w, receipt)
}

// auditHandler handles GET /coordinator/audit?from=N&limit=M.
func (api *API) auditHandler(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	q := req.URL.Query()
	from, _ := strconv.ParseUint(q.Get("from"), 10, 64)
	limit, _ := strconv.Atoi(q.Get("limit"))
	events, err := api.coordinator.AuditLog(from, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, AuditResponse{Events: events})
}

// creditHandler handles POST /coordinator/credit: the devnet faucet and the
// payment gateway callback.
func (api *API) creditHandler(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	var cr CreditRequest
	if err := decodeBody(req, &cr); err != nil {
		writeError(w, err)
		return
	}
	if cr.Address.IsZero() || cr.Amount == 0 {
		writeError(w, types.NewCodedError(types.ErrCodeValidation, "credit needs an address and a positive amount"))
		return
	}
	if err := api.coordinator.Credit(cr.Address, cr.Amount); err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w)
}

// ledgerBalanceHandler handles GET /coordinator/balance/:addr.
func (api *API) ledgerBalanceHandler(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
	var addr types.Address
	if err := addr.LoadString(ps.ByName("addr")); err != nil {
		writeError(w, types.NewCodedError(types.ErrCodeValidation, "malformed address"))
		return
	}
	balance, err := api.coordinator.LedgerBalance(addr)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, BalanceResponse{Address: addr, Balance: balance})
}

// attestHandler handles POST /coordinator/attest: the remote attestation
// hook a chain node calls while validating a receipt claim.
func (api *API) attestHandler(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	var ar AttestRequest
	if err := decodeBody(req, &ar); err != nil {
		writeError(w, err)
		return
	}
	att, err := api.coordinator.Attest(ar.ReceiptID, ar.JobID, ar.Price)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, att)
}

// tenantsHandlerGET handles GET /coordinator/tenants.
func (api *API) tenantsHandlerGET(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	tenants, err := api.coordinator.Tenants()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, TenantsResponse{Tenants: tenants})
}

// tenantsHandlerPOST handles POST /coordinator/tenants. The api key is
// generated server-side and returned in the response body only.
func (api *API) tenantsHandlerPOST(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	var tr AddTenantRequest
	if err := decodeBody(req, &tr); err != nil {
		writeError(w, err)
		return
	}
	if tr.Name == "" || tr.Address.IsZero() {
		writeError(w, types.NewCodedError(types.ErrCodeValidation, "a tenant needs a name and a billing address"))
		return
	}
	apiKey := hex.EncodeToString(fastrand.Bytes(24))
	tenant := modules.Tenant{
		ID:         uuid.NewString(),
		Name:       tr.Name,
		Address:    tr.Address,
		APIKeyHash: crypto.HashBytes([]byte(apiKey)).String(),
	}
	if err := api.coordinator.PutTenant(tenant); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, AddTenantResponse{Tenant: tenant, APIKey: apiKey})
}

// tenantsHandlerDELETE handles DELETE /coordinator/tenants/:id.
func (api *API) tenantsHandlerDELETE(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
	if err := api.coordinator.RemoveTenant(ps.ByName("id")); err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w)
}
