package coordinator

// memstore.go is the in-memory store used by the devnet and the test suite.
// It applies the same atomicity discipline as the SQL store: each method
// takes the single mutex, checks every precondition, and only then mutates.

import (
	"sort"
	"sync"

	"github.com/oib/AITBC-sub002/modules"
	"github.com/oib/AITBC-sub002/types"
)

// A MemStore is a mutex-guarded in-memory Store.
type MemStore struct {
	mu sync.Mutex

	accounts map[types.Address]uint64
	jobs     map[string]types.Job
	byNonce  map[string]string // client|nonce -> job id
	escrow   map[string]types.EscrowEntry
	receipts map[string]types.Receipt // receipt id -> receipt
	byJob    map[string]string        // job id -> receipt id
	tenants  map[string]modules.Tenant
	audit    []modules.AuditEvent
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		accounts: make(map[types.Address]uint64),
		jobs:     make(map[string]types.Job),
		byNonce:  make(map[string]string),
		escrow:   make(map[string]types.EscrowEntry),
		receipts: make(map[string]types.Receipt),
		byJob:    make(map[string]string),
		tenants:  make(map[string]modules.Tenant),
	}
}

func nonceKey(client types.Address, nonce string) string {
	return client.String() + "|" + nonce
}

// Account implements Store.
func (ms *MemStore) Account(addr types.Address) (LedgerAccount, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return LedgerAccount{Address: addr, Balance: ms.accounts[addr]}, nil
}

// Credit implements Store.
func (ms *MemStore) Credit(addr types.Address, amount uint64) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.accounts[addr] += amount
	return nil
}

// CreateJob implements Store.
func (ms *MemStore) CreateJob(job types.Job, fee uint64, treasury types.Address) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	charge := job.MaxPrice + fee
	if ms.accounts[job.ClientAddr] < charge {
		return ErrInsufficientFunds
	}
	ms.accounts[job.ClientAddr] -= charge
	ms.accounts[treasury] += fee
	ms.escrow[job.ID] = types.EscrowEntry{
		JobID:      job.ID,
		ClientAddr: job.ClientAddr,
		Amount:     job.MaxPrice,
		State:      types.EscrowHeld,
	}
	ms.jobs[job.ID] = job
	ms.byNonce[nonceKey(job.ClientAddr, job.ClientNonce)] = job.ID
	return nil
}

// Job implements Store.
func (ms *MemStore) Job(id string) (types.Job, bool, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	j, ok := ms.jobs[id]
	return j, ok, nil
}

// JobByClientNonce implements Store.
func (ms *MemStore) JobByClientNonce(client types.Address, nonce string) (types.Job, bool, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	id, ok := ms.byNonce[nonceKey(client, nonce)]
	if !ok {
		return types.Job{}, false, nil
	}
	j, ok := ms.jobs[id]
	return j, ok, nil
}

// UpdateJob implements Store.
func (ms *MemStore) UpdateJob(job types.Job) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if _, ok := ms.jobs[job.ID]; !ok {
		return ErrJobNotFound
	}
	ms.jobs[job.ID] = job
	return nil
}

// JobsInStates implements Store.
func (ms *MemStore) JobsInStates(states ...types.JobStatus) ([]types.Job, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	var out []types.Job
	for _, j := range ms.jobs {
		for _, s := range states {
			if j.Status == s {
				out = append(out, j)
				break
			}
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].SubmittedAt < out[k].SubmittedAt })
	return out, nil
}

// SettleJob implements Store.
func (ms *MemStore) SettleJob(job types.Job, receipt types.Receipt, minerAddr types.Address, minerPayout uint64, treasury types.Address) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if _, ok := ms.receipts[receipt.ReceiptID]; ok {
		return ErrReceiptReplay
	}
	esc, ok := ms.escrow[job.ID]
	if !ok || esc.State != types.EscrowHeld {
		return ErrEscrowState
	}
	if minerPayout > esc.Amount {
		return ErrEscrowState
	}
	esc.State = types.EscrowReleased
	ms.escrow[job.ID] = esc
	ms.accounts[minerAddr] += minerPayout
	ms.accounts[treasury] += esc.Amount - minerPayout
	ms.receipts[receipt.ReceiptID] = receipt
	ms.byJob[job.ID] = receipt.ReceiptID
	ms.jobs[job.ID] = job
	return nil
}

// RefundJob implements Store.
func (ms *MemStore) RefundJob(job types.Job) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	esc, ok := ms.escrow[job.ID]
	if !ok || esc.State != types.EscrowHeld {
		return ErrEscrowState
	}
	esc.State = types.EscrowRefunded
	ms.escrow[job.ID] = esc
	ms.accounts[esc.ClientAddr] += esc.Amount
	ms.jobs[job.ID] = job
	return nil
}

// Escrow implements Store.
func (ms *MemStore) Escrow(jobID string) (types.EscrowEntry, bool, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	esc, ok := ms.escrow[jobID]
	return esc, ok, nil
}

// Receipt implements Store.
func (ms *MemStore) Receipt(jobID string) (types.Receipt, bool, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	rid, ok := ms.byJob[jobID]
	if !ok {
		return types.Receipt{}, false, nil
	}
	r, ok := ms.receipts[rid]
	return r, ok, nil
}

// ReceiptByID implements Store.
func (ms *MemStore) ReceiptByID(receiptID string) (types.Receipt, bool, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	r, ok := ms.receipts[receiptID]
	return r, ok, nil
}

// PutTenant implements Store.
func (ms *MemStore) PutTenant(t modules.Tenant) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.tenants[t.ID] = t
	return nil
}

// Tenant implements Store.
func (ms *MemStore) Tenant(id string) (modules.Tenant, bool, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	t, ok := ms.tenants[id]
	return t, ok, nil
}

// TenantByKeyHash implements Store.
func (ms *MemStore) TenantByKeyHash(hash string) (modules.Tenant, bool, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	for _, t := range ms.tenants {
		if t.APIKeyHash == hash {
			return t, true, nil
		}
	}
	return modules.Tenant{}, false, nil
}

// Tenants implements Store.
func (ms *MemStore) Tenants() ([]modules.Tenant, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	out := make([]modules.Tenant, 0, len(ms.tenants))
	for _, t := range ms.tenants {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// RemoveTenant implements Store.
func (ms *MemStore) RemoveTenant(id string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	delete(ms.tenants, id)
	return nil
}

// AppendAudit implements Store.
func (ms *MemStore) AppendAudit(e modules.AuditEvent) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	e.Seq = uint64(len(ms.audit) + 1)
	ms.audit = append(ms.audit, e)
	return nil
}

// AuditRange implements Store.
func (ms *MemStore) AuditRange(from uint64, limit int) ([]modules.AuditEvent, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	var out []modules.AuditEvent
	for _, e := range ms.audit {
		if e.Seq < from {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Close implements Store.
func (ms *MemStore) Close() error {
	return nil
}
