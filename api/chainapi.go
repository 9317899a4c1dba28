package api

// chainapi.go holds the chain RPC surface: transaction submission and the
// read endpoints the explorer, wallets, and the cross-site sync worker pull
// from.

import (
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"

	"github.com/oib/AITBC-sub002/crypto"
	"github.com/oib/AITBC-sub002/types"
)

// maxBlocksPerRange caps one getBlocks response.
const maxBlocksPerRange = 500

type (
	// SendTxResponse acknowledges a mempool admission.
	SendTxResponse struct {
		TxID   types.TransactionID `json:"tx_id"`
		Status types.TxStatus      `json:"status"`
	}

	// BalanceResponse is the account state of one address.
	BalanceResponse struct {
		Address types.Address `json:"address"`
		Balance uint64        `json:"balance"`
		Nonce   uint64        `json:"nonce"`
	}

	// TxResponse pairs a transaction with its observed status.
	TxResponse struct {
		Transaction types.Transaction `json:"transaction"`
		Status      types.TxStatus    `json:"status"`
	}

	// BlocksResponse is a canonical block range.
	BlocksResponse struct {
		Blocks []types.Block `json:"blocks"`
	}
)

// sendTxHandler handles POST /rpc/sendTx.
func (api *API) sendTxHandler(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	var tx types.Transaction
	if err := decodeBody(req, &tx); err != nil {
		writeError(w, err)
		return
	}
	if err := api.chain.AcceptTransaction(tx); err != nil {
		writeError(w, err)
		return
	}
	id, err := tx.ID()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, SendTxResponse{TxID: id, Status: types.TxStatusPending})
}

// submitReceiptHandler handles POST /rpc/submitReceipt. It is sendTx
// restricted to receipt claims, kept separate so that miners and coordinators
// can be granted only this route.
func (api *API) submitReceiptHandler(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
	var tx types.Transaction
	if err := decodeBody(req, &tx); err != nil {
		writeError(w, err)
		return
	}
	if tx.Type != types.TxReceiptClaim {
		writeError(w, types.NewCodedError(types.ErrCodeValidation, "submitReceipt only accepts receipt claims"))
		return
	}
	if err := api.chain.AcceptTransaction(tx); err != nil {
		writeError(w, err)
		return
	}
	id, err := tx.ID()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, SendTxResponse{TxID: id, Status: types.TxStatusPending})
}

// headHandler handles GET /rpc/getHead.
func (api *API) headHandler(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	writeJSON(w, api.chain.Head())
}

// blockHandler handles GET /rpc/getBlock/:ref, where ref is a height or a
// header hash.
func (api *API) blockHandler(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
	ref := ps.ByName("ref")
	if height, err := strconv.ParseUint(ref, 10, 64); err == nil {
		block, ok := api.chain.BlockAtHeight(types.BlockHeight(height))
		if !ok {
			writeError(w, types.NewCodedError(types.ErrCodeNotFound, "no canonical block at that height"))
			return
		}
		writeJSON(w, block)
		return
	}
	var id types.BlockID
	if err := id.LoadString(ref); err != nil {
		writeError(w, types.NewCodedError(types.ErrCodeValidation, "ref is neither a height nor a block id"))
		return
	}
	block, ok := api.chain.BlockByID(id)
	if !ok {
		writeError(w, types.NewCodedError(types.ErrCodeNotFound, "no block with that id"))
		return
	}
	writeJSON(w, block)
}

// blocksHandler handles GET /rpc/getBlocks?from=N&to=M.
func (api *API) blocksHandler(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	q := req.URL.Query()
	from, err := strconv.ParseUint(q.Get("from"), 10, 64)
	if err != nil {
		writeError(w, types.NewCodedError(types.ErrCodeValidation, "from must be a height"))
		return
	}
	to, err := strconv.ParseUint(q.Get("to"), 10, 64)
	if err != nil || to < from {
		writeError(w, types.NewCodedError(types.ErrCodeValidation, "to must be a height >= from"))
		return
	}
	if to-from+1 > maxBlocksPerRange {
		to = from + maxBlocksPerRange - 1
	}
	blocks := api.chain.BlocksRange(types.BlockHeight(from), types.BlockHeight(to))
	writeJSON(w, BlocksResponse{Blocks: blocks})
}

// balanceHandler handles GET /rpc/getBalance/:addr.
func (api *API) balanceHandler(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
	var addr types.Address
	if err := addr.LoadString(ps.ByName("addr")); err != nil {
		writeError(w, types.NewCodedError(types.ErrCodeValidation, "malformed address"))
		return
	}
	acct, _ := api.chain.Account(addr)
	writeJSON(w, BalanceResponse{Address: addr, Balance: acct.Balance, Nonce: acct.Nonce})
}

// txHandler handles GET /rpc/getTx/:id.
func (api *API) txHandler(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
	var h crypto.Hash
	if err := h.LoadString(ps.ByName("id")); err != nil {
		writeError(w, types.NewCodedError(types.ErrCodeValidation, "malformed transaction id"))
		return
	}
	tx, status, ok := api.chain.Transaction(types.TransactionID(h))
	if !ok {
		writeError(w, types.NewCodedError(types.ErrCodeNotFound, "no transaction with that id"))
		return
	}
	writeJSON(w, TxResponse{Transaction: tx, Status: status})
}
