package types

// job.go defines the Job entity and its lifecycle states. Job state
// transitions are driven exclusively by the coordinator; these types only
// encode the vocabulary.

import (
	"errors"

	"github.com/oib/AITBC-sub002/crypto"
)

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	// JobQueued means the job is waiting for assignment.
	JobQueued JobStatus = "QUEUED"
	// JobAssigned means a miner has accepted the job but not yet fetched it.
	JobAssigned JobStatus = "ASSIGNED"
	// JobRunning means the assigned miner has fetched the job.
	JobRunning JobStatus = "RUNNING"
	// JobCompleted is the terminal success state; a receipt exists.
	JobCompleted JobStatus = "COMPLETED"
	// JobFailed is the terminal failure state after retries are exhausted.
	JobFailed JobStatus = "FAILED"
	// JobExpired means the deadline elapsed before a result arrived.
	JobExpired JobStatus = "EXPIRED"
	// JobCancelled means the client withdrew the job while it was queued.
	JobCancelled JobStatus = "CANCELLED"
)

// Terminal returns whether the status is absorbing.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobExpired, JobCancelled:
		return true
	}
	return false
}

// EscrowState is the payment state of a job's escrow entry. Transitions are
// monotonic: held funds are either released or refunded, never re-held.
type EscrowState string

const (
	// EscrowHeld means funds are debited from the client and locked.
	EscrowHeld EscrowState = "held"
	// EscrowReleased means funds were paid out to the miner and treasury.
	EscrowReleased EscrowState = "released"
	// EscrowRefunded means funds were returned to the client.
	EscrowRefunded EscrowState = "refunded"
)

var (
	// ErrEscrowStateRegression is returned when an escrow entry would move
	// backwards, e.g. released -> held.
	ErrEscrowStateRegression = errors.New("escrow state transitions are monotonic")
)

type (
	// JobPayload is the workload description handed to the miner.
	JobPayload struct {
		Model  string                 `json:"model"`
		Prompt string                 `json:"prompt"`
		Params map[string]interface{} `json:"params,omitempty"`
	}

	// JobConstraints are the hard requirements a miner must satisfy.
	JobConstraints struct {
		MinVRAMGB int      `json:"min_vram_gb"`
		MinRAMGB  int      `json:"min_ram_gb,omitempty"`
		Tags      []string `json:"tags,omitempty"`
		Region    string   `json:"region,omitempty"`
	}

	// A Job is a unit of compute requested by a client.
	Job struct {
		ID          string         `json:"id"`
		TenantID    string         `json:"tenant_id,omitempty"`
		ClientAddr  Address        `json:"client_addr"`
		ClientNonce string         `json:"client_nonce"`
		Payload     JobPayload     `json:"payload"`
		Constraints JobConstraints `json:"constraints"`
		MaxPrice    uint64         `json:"max_price"`
		Fee         uint64         `json:"fee"`
		Deadline    Timestamp      `json:"deadline"`
		Private     bool           `json:"private,omitempty"`

		Status        JobStatus `json:"status"`
		AssignedMiner string    `json:"assigned_miner,omitempty"`
		// Price is the assigned miner's agreed price, fixed at assignment
		// time. It is bounded above by MaxPrice.
		Price         uint64    `json:"price,omitempty"`
		TriedMiners   []string  `json:"tried_miners,omitempty"`
		Retries       int       `json:"retries"`
		Progress      float64   `json:"progress"`
		Result        *JobResult `json:"result,omitempty"`
		ReceiptID     string    `json:"receipt_id,omitempty"`
		FailReason    string    `json:"fail_reason,omitempty"`

		SubmittedAt Timestamp `json:"submitted_at"`
		AssignedAt  Timestamp `json:"assigned_at,omitempty"`
		StartedAt   Timestamp `json:"started_at,omitempty"`
		FinishedAt  Timestamp `json:"finished_at,omitempty"`
	}

	// A JobResult is what a miner returns for a completed job.
	JobResult struct {
		Output       string      `json:"output"`
		OutputHash   crypto.Hash `json:"output_hash"`
		ComputeUnits uint64      `json:"compute_units"`
		Model        string      `json:"model,omitempty"`
		Tokens       uint64      `json:"tokens,omitempty"`
		LatencyMS    int64       `json:"latency_ms,omitempty"`
	}

	// An EscrowEntry tracks the funds held for a job.
	EscrowEntry struct {
		JobID      string      `json:"job_id"`
		ClientAddr Address     `json:"client_addr"`
		Amount     uint64      `json:"amount"`
		State      EscrowState `json:"state"`
	}
)

// validTransitions enumerates the legal job state machine edges.
var validTransitions = map[JobStatus][]JobStatus{
	JobQueued:   {JobAssigned, JobCancelled, JobExpired, JobFailed},
	JobAssigned: {JobRunning, JobQueued, JobExpired, JobFailed},
	JobRunning:  {JobCompleted, JobQueued, JobExpired, JobFailed},
}

// CanTransition reports whether a job may move from one status to another.
func (s JobStatus) CanTransition(to JobStatus) bool {
	for _, next := range validTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Advance checks an escrow state transition for monotonicity.
func (e EscrowState) Advance(to EscrowState) error {
	if e == EscrowHeld && (to == EscrowReleased || to == EscrowRefunded) {
		return nil
	}
	return ErrEscrowStateRegression
}
