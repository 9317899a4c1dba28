package modules

import (
	"github.com/oib/AITBC-sub002/types"
)

type (
	// SubmitJobRequest is the client-facing job submission payload.
	SubmitJobRequest struct {
		ClientAddr  types.Address        `json:"client_addr"`
		ClientNonce string               `json:"client_nonce"`
		Payload     types.JobPayload     `json:"payload"`
		Constraints types.JobConstraints `json:"constraints"`
		MaxPrice    uint64               `json:"max_price"`
		DeadlineSec int64                `json:"deadline_sec,omitempty"`
		Private     bool                 `json:"private,omitempty"`
	}

	// An AuditEvent is one entry of the coordinator's append-only audit
	// trail.
	AuditEvent struct {
		Seq       uint64          `json:"seq"`
		Timestamp types.Timestamp `json:"timestamp"`
		JobID     string          `json:"job_id,omitempty"`
		Kind      string          `json:"kind"`
		Detail    string          `json:"detail,omitempty"`
	}

	// A Tenant is a client organization with API access to the
	// coordinator.
	Tenant struct {
		ID         string        `json:"id"`
		Name       string        `json:"name"`
		Address    types.Address `json:"address"`
		APIKeyHash string        `json:"api_key_hash"`
		Disabled   bool          `json:"disabled,omitempty"`
	}

	// A Coordinator drives the job lifecycle: submission, matchmaking,
	// dispatch, receipt emission, and escrow settlement.
	Coordinator interface {
		// SubmitJob accepts a job, holds escrow, and queues it for
		// assignment. It is idempotent on (client address, client nonce):
		// a duplicate submission returns the original job.
		SubmitJob(tenantID string, req SubmitJobRequest) (types.Job, error)

		// Job returns a job by id.
		Job(id string) (types.Job, bool)

		// Receipt returns the receipt emitted for a completed job.
		Receipt(jobID string) (types.Receipt, bool)

		// CancelJob withdraws a queued job and refunds its escrow. Jobs
		// past QUEUED cannot be cancelled synchronously.
		CancelJob(id string, client types.Address) error

		// PollJob blocks until a job is assigned to the miner or the
		// cancel channel fires. A nil job means the poll timed out.
		PollJob(minerID string, cancel <-chan struct{}) (*types.Job, error)

		// ReportProgress updates job progress and resets the watchdog.
		ReportProgress(jobID, minerID string, pct float64) error

		// SubmitResult validates and records a result, emits a signed
		// receipt, settles escrow, and enqueues a receipt claim to the
		// chain.
		SubmitResult(jobID, minerID string, result types.JobResult) (types.Receipt, error)

		// ReportFailure records a miner-side failure and retries or
		// refunds per policy.
		ReportFailure(jobID, minerID, reason string) error

		// Attest confirms that a job exists and its escrow covered price,
		// returning a signed attestation for chain-side validation.
		Attest(receiptID, jobID string, price uint64) (types.Attestation, error)

		// AuditLog returns audit events starting at seq, up to limit.
		AuditLog(seq uint64, limit int) ([]AuditEvent, error)

		// Close shuts the coordinator down.
		Close() error
	}
)
