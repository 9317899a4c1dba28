package coordinator

// store.go declares the coordinator's persistence contract. The store owns
// the off-chain ledger: client deposits, per-job escrow, and miner payouts.
// The two discipline rules live behind this interface: every job transition
// that moves money happens in one storage transaction together with the
// escrow delta, and receipt uniqueness is enforced by the store itself.

import (
	"errors"

	"github.com/oib/AITBC-sub002/modules"
	"github.com/oib/AITBC-sub002/types"
)

var (
	// ErrInsufficientFunds is returned when a client's ledger balance does
	// not cover the price ceiling plus the protocol fee.
	ErrInsufficientFunds = errors.New("INSUFFICIENT_FUNDS: balance does not cover price and fee")
	// ErrReceiptReplay is returned when a receipt id is inserted twice.
	ErrReceiptReplay = errors.New("replay: receipt id already recorded")
	// ErrJobNotFound is returned for unknown job ids.
	ErrJobNotFound = errors.New("no job with that id")
	// ErrEscrowState is returned when an escrow entry is not in the state
	// the operation requires.
	ErrEscrowState = errors.New("escrow entry is in the wrong state")
)

type (
	// A LedgerAccount is one balance in the coordinator's off-chain
	// ledger. Deposits arrive out of band (payment gateway, devnet
	// credit); escrow and payouts move value between ledger accounts.
	LedgerAccount struct {
		Address types.Address `json:"address"`
		Balance uint64        `json:"balance"`
	}

	// A Store persists jobs, escrow, the ledger, receipts, tenants, and
	// the audit trail. Implementations must make each method atomic.
	Store interface {
		// Account returns a ledger account, zero-valued if missing.
		Account(addr types.Address) (LedgerAccount, error)

		// Credit adds amount to a ledger account, creating it if needed.
		Credit(addr types.Address, amount uint64) error

		// CreateJob atomically debits the client's ledger balance by
		// job.MaxPrice + fee, credits the fee to the treasury, opens a
		// held escrow entry for job.MaxPrice, and inserts the job.
		// Fails with ErrInsufficientFunds without mutating anything.
		CreateJob(job types.Job, fee uint64, treasury types.Address) error

		// Job returns a job by id.
		Job(id string) (types.Job, bool, error)

		// JobByClientNonce returns the job previously created for a
		// (client, client_nonce) pair, for idempotent submission.
		JobByClientNonce(client types.Address, nonce string) (types.Job, bool, error)

		// UpdateJob overwrites a job record. It does not touch money.
		UpdateJob(job types.Job) error

		// JobsInStates returns every job in one of the given states.
		JobsInStates(states ...types.JobStatus) ([]types.Job, error)

		// SettleJob atomically releases the job's escrow, credits
		// minerPayout to the miner's ledger account and the remainder
		// to the treasury, inserts the receipt, and updates the job.
		// Fails with ErrReceiptReplay if the receipt id is known.
		SettleJob(job types.Job, receipt types.Receipt, minerAddr types.Address, minerPayout uint64, treasury types.Address) error

		// RefundJob atomically refunds the job's escrow to the client
		// and updates the job.
		RefundJob(job types.Job) error

		// Escrow returns the escrow entry for a job.
		Escrow(jobID string) (types.EscrowEntry, bool, error)

		// Receipt returns the receipt emitted for a job.
		Receipt(jobID string) (types.Receipt, bool, error)

		// ReceiptByID returns a receipt by receipt id.
		ReceiptByID(receiptID string) (types.Receipt, bool, error)

		// PutTenant inserts or updates a tenant.
		PutTenant(t modules.Tenant) error

		// Tenant returns a tenant by id.
		Tenant(id string) (modules.Tenant, bool, error)

		// TenantByKeyHash resolves a tenant from an api key hash.
		TenantByKeyHash(hash string) (modules.Tenant, bool, error)

		// Tenants returns all tenants.
		Tenants() ([]modules.Tenant, error)

		// RemoveTenant deletes a tenant.
		RemoveTenant(id string) error

		// AppendAudit appends an audit event, assigning its sequence
		// number.
		AppendAudit(e modules.AuditEvent) error

		// AuditRange returns audit events with seq >= from, up to limit.
		AuditRange(from uint64, limit int) ([]modules.AuditEvent, error)

		// Close releases the store.
		Close() error
	}
)
