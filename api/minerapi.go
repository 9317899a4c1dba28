package api

// minerapi.go holds the miner-facing endpoints (registration, heartbeat, the
// long poll, results) and the pool endpoints the coordinator and operators
// call.

import (
	"net/http"

	"github.com/julienschmidt/httprouter"

	"github.com/oib/AITBC-sub002/modules"
	"github.com/oib/AITBC-sub002/types"
)

type (
	// HeartbeatRequest is the body of POST /miner/heartbeat.
	HeartbeatRequest struct {
		Status types.MinerStatus `json:"status"`
	}

	// ProgressRequest is the body of POST /miner/progress.
	ProgressRequest struct {
		JobID string  `json:"job_id"`
		Pct   float64 `json:"pct"`
	}

	// ResultRequest is the body of POST /miner/result.
	ResultRequest struct {
		JobID  string          `json:"job_id"`
		Result types.JobResult `json:"result"`
	}

	// FailureRequest is the body of POST /miner/failure.
	FailureRequest struct {
		JobID  string `json:"job_id"`
		Reason string `json:"reason"`
	}

	// MatchRequest is the body of POST /pool/match.
	MatchRequest struct {
		Requirements types.MatchRequirements `json:"requirements"`
		Hints        types.MatchHints        `json:"hints"`
		TopK         int                     `json:"top_k"`
	}

	// MatchResponse is the scored candidate list.
	MatchResponse struct {
		Candidates []types.Candidate `json:"candidates"`
	}

	// FeedbackRequest is the body of POST /pool/feedback.
	FeedbackRequest struct {
		JobID     string             `json:"job_id"`
		MinerID   string             `json:"miner_id"`
		Outcome   types.MatchOutcome `json:"outcome"`
		LatencyMS int64              `json:"latency_ms,omitempty"`
		FailCode  string             `json:"fail_code,omitempty"`
	}

	// MinersResponse lists the registry.
	MinersResponse struct {
		Miners []types.MinerEntry `json:"miners"`
	}

	// PollResponse wraps the long poll result; Job is null on timeout.
	PollResponse struct {
		Job *types.Job `json:"job"`
	}
)

// minerRegisterHandler handles POST /miner/register.
func (api *API) minerRegisterHandler(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	var rr modules.RegisterRequest
	if err := decodeBody(req, &rr); err != nil {
		writeError(w, err)
		return
	}
	resp, err := api.hub.Register(rr)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, resp)
}

// minerHeartbeatHandler handles POST /miner/heartbeat.
func (api *API) minerHeartbeatHandler(w http.ResponseWriter, req *http.Request, _ httprouter.Params, minerID string) {
	var hr HeartbeatRequest
	if err := decodeBody(req, &hr); err != nil {
		writeError(w, err)
		return
	}
	token := req.Header.Get("X-Session-Token")
	if token == "" {
		token, _ = bearerToken(req)
	}
	if err := api.hub.Heartbeat(token, hr.Status); err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w)
}

// minerPollHandler handles POST /miner/poll. It blocks server-side until a job
// is assigned, the client disconnects, or the poll window elapses.
func (api *API) minerPollHandler(w http.ResponseWriter, req *http.Request, _ httprouter.Params, minerID string) {
	job, err := api.coordinator.PollJob(minerID, req.Context().Done())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, PollResponse{Job: job})
}

// minerProgressHandler handles POST /miner/progress.
func (api *API) minerProgressHandler(w http.ResponseWriter, req *http.Request, _ httprouter.Params, minerID string) {
	var pr ProgressRequest
	if err := decodeBody(req, &pr); err != nil {
		writeError(w, err)
		return
	}
	if err := api.coordinator.ReportProgress(pr.JobID, minerID, pr.Pct); err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w)
}

// minerResultHandler handles POST /miner/result.
func (api *API) minerResultHandler(w http.ResponseWriter, req *http.Request, _ httprouter.Params, minerID string) {
	var rr ResultRequest
	if err := decodeBody(req, &rr); err != nil {
		writeError(w, err)
		return
	}
	receipt, err := api.coordinator.SubmitResult(rr.JobID, minerID, rr.Result)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, receipt)
}

// minerFailureHandler handles POST /miner/failure.
func (api *API) minerFailureHandler(w http.ResponseWriter, req *http.Request, _ httprouter.Params, minerID string) {
	var fr FailureRequest
	if err := decodeBody(req, &fr); err != nil {
		writeError(w, err)
		return
	}
	if err := api.coordinator.ReportFailure(fr.JobID, minerID, fr.Reason); err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w)
}

// poolMatchHandler handles POST /pool/match, the coordinator's matchmaking
// call when the hub runs as a separate service.
func (api *API) poolMatchHandler(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	var mr MatchRequest
	if err := decodeBody(req, &mr); err != nil {
		writeError(w, err)
		return
	}
	cands, err := api.hub.Match(mr.Requirements, mr.Hints, mr.TopK)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, MatchResponse{Candidates: cands})
}

// poolFeedbackHandler handles POST /pool/feedback.
func (api *API) poolFeedbackHandler(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	var fr FeedbackRequest
	if err := decodeBody(req, &fr); err != nil {
		writeError(w, err)
		return
	}
	if err := api.hub.Feedback(fr.JobID, fr.MinerID, fr.Outcome, fr.LatencyMS, fr.FailCode); err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w)
}

// poolMinersHandler handles GET /pool/miners.
func (api *API) poolMinersHandler(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	writeJSON(w, MinersResponse{Miners: api.hub.Miners()})
}

// poolResetTrustHandler handles POST /pool/miners/:id/reset-trust.
func (api *API) poolResetTrustHandler(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
	if err := api.hub.ResetTrust(ps.ByName("id")); err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w)
}
