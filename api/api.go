// Package api exposes the daemon's modules over HTTP: the chain RPC surface,
// the coordinator's job endpoints, the pool hub's miner endpoints, and a
// websocket bridge onto the gossip broker. Every error leaves the API as a
// JSON envelope carrying one of the shared error codes.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/julienschmidt/httprouter"

	"github.com/oib/AITBC-sub002/metrics"
	"github.com/oib/AITBC-sub002/modules"
	"github.com/oib/AITBC-sub002/types"
)

type (
	// Chain is the chain surface the API serves: the module interface plus
	// the range read the sync protocol needs.
	Chain interface {
		modules.Chain
		BlocksRange(from, to types.BlockHeight) []types.Block
	}

	// Coordinator is the coordinator surface the API serves: the module
	// interface plus tenant resolution and the devnet credit hook.
	Coordinator interface {
		modules.Coordinator
		TenantByKeyHash(hash string) (modules.Tenant, bool)
		Tenants() ([]modules.Tenant, error)
		PutTenant(t modules.Tenant) error
		RemoveTenant(id string) error
		Credit(addr types.Address, amount uint64) error
		LedgerBalance(addr types.Address) (uint64, error)
	}

	// API routes HTTP calls to the modules it was built with. Nil modules
	// simply do not register their routes, so a chain-only daemon serves a
	// chain-only API.
	API struct {
		chain       Chain
		coordinator Coordinator
		hub         modules.PoolHub
		broker      modules.Broker

		jwtSecret    []byte
		sharedSecret string
		limits       *limiterSet
		stop         chan struct{}

		router *httprouter.Router
	}

	// Error is the wire form of a failed call.
	Error struct {
		Code    types.ErrorCode `json:"code"`
		Message string          `json:"message"`
	}

	errorEnvelope struct {
		Error Error `json:"error"`
	}
)

// New builds an API from the given modules. jwtSecret authenticates clients,
// sharedSecret authenticates operator and cross-service calls.
func New(chain Chain, coord Coordinator, hub modules.PoolHub, broker modules.Broker, jwtSecret, sharedSecret string) *API {
	api := &API{
		chain:        chain,
		coordinator:  coord,
		hub:          hub,
		broker:       broker,
		jwtSecret:    []byte(jwtSecret),
		sharedSecret: sharedSecret,
		limits:       newLimiterSet(),
		stop:         make(chan struct{}),
	}
	api.buildRoutes()
	return api
}

// StopChan is closed when /daemon/stop is called.
func (api *API) StopChan() <-chan struct{} {
	return api.stop
}

// ServeHTTP implements http.Handler.
func (api *API) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	api.router.ServeHTTP(w, req)
}

// buildRoutes registers every route whose backing module is present.
func (api *API) buildRoutes() {
	router := httprouter.New()
	router.NotFound = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		writeError(w, types.NewCodedError(types.ErrCodeNotFound, "no such endpoint"))
	})

	router.GET("/daemon/version", api.daemonVersionHandler)
	router.POST("/daemon/stop", api.requireSharedSecret(api.daemonStopHandler))
	router.Handler("GET", "/debug/metrics", metrics.Handler())

	if api.chain != nil {
		router.POST("/rpc/sendTx", api.limit(limitSendTx, api.sendTxHandler))
		router.POST("/rpc/submitReceipt", api.limit(limitSendTx, api.submitReceiptHandler))
		router.GET("/rpc/getHead", api.limit(limitDefault, api.headHandler))
		router.GET("/rpc/getBlock/:ref", api.limit(limitDefault, api.blockHandler))
		router.GET("/rpc/getBlocks", api.limit(limitDefault, api.blocksHandler))
		router.GET("/rpc/getBalance/:addr", api.limit(limitDefault, api.balanceHandler))
		router.GET("/rpc/getTx/:id", api.limit(limitDefault, api.txHandler))
	}

	if api.coordinator != nil {
		router.POST("/jobs", api.limit(limitDefault, api.requireClient(api.jobsHandlerPOST)))
		router.GET("/jobs/:id", api.limit(limitDefault, api.requireClient(api.jobHandlerGET)))
		router.POST("/jobs/:id/cancel", api.limit(limitDefault, api.requireClient(api.jobCancelHandler)))
		router.GET("/jobs/:id/receipt", api.limit(limitDefault, api.requireClient(api.jobReceiptHandler)))

		router.GET("/coordinator/audit", api.requireSharedSecret(api.auditHandler))
		router.POST("/coordinator/credit", api.requireSharedSecret(api.creditHandler))
		router.GET("/coordinator/balance/:addr", api.requireSharedSecret(api.ledgerBalanceHandler))
		router.POST("/coordinator/attest", api.requireSharedSecret(api.attestHandler))
		router.GET("/coordinator/tenants", api.requireSharedSecret(api.tenantsHandlerGET))
		router.POST("/coordinator/tenants", api.requireSharedSecret(api.tenantsHandlerPOST))
		router.DELETE("/coordinator/tenants/:id", api.requireSharedSecret(api.tenantsHandlerDELETE))
	}

	if api.hub != nil {
		router.POST("/miner/register", api.limit(limitDefault, api.minerRegisterHandler))
		router.POST("/miner/heartbeat", api.requireSession(api.minerHeartbeatHandler))
		if api.coordinator != nil {
			router.POST("/miner/poll", api.requireSession(api.minerPollHandler))
			router.POST("/miner/progress", api.requireSession(api.minerProgressHandler))
			router.POST("/miner/result", api.requireSession(api.minerResultHandler))
			router.POST("/miner/failure", api.requireSession(api.minerFailureHandler))
		}

		router.POST("/pool/match", api.limit(limitMatch, api.requireSharedSecret(api.poolMatchHandler)))
		router.POST("/pool/feedback", api.requireSharedSecret(api.poolFeedbackHandler))
		router.GET("/pool/miners", api.requireSharedSecret(api.poolMinersHandler))
		router.POST("/pool/miners/:id/reset-trust", api.requireSharedSecret(api.poolResetTrustHandler))
	}

	if api.broker != nil {
		router.GET("/stream/:topic", api.streamHandler)
	}

	api.router = router
}

// writeJSON writes obj with a 200 status.
func writeJSON(w http.ResponseWriter, obj interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if json.NewEncoder(w).Encode(obj) != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}

// writeError maps err onto the error envelope and the HTTP status of its
// code.
func writeError(w http.ResponseWriter, err error) {
	code := types.CodeOf(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code.HTTPStatus())
	json.NewEncoder(w).Encode(errorEnvelope{Error: Error{
		Code:    code,
		Message: err.Error(),
	}})
}

// writeSuccess writes the bare success object for calls with no payload.
func writeSuccess(w http.ResponseWriter) {
	writeJSON(w, struct {
		Success bool `json:"success"`
	}{true})
}

// decodeBody decodes a JSON request body, rejecting trailing garbage.
func decodeBody(req *http.Request, dst interface{}) error {
	dec := json.NewDecoder(req.Body)
	if err := dec.Decode(dst); err != nil {
		return types.NewCodedError(types.ErrCodeValidation, "malformed request body: "+err.Error())
	}
	return nil
}
