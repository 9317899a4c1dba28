// Package coordinator implements the job lifecycle engine: submission with
// escrow, matchmaking against the pool hub, long-poll dispatch to miners,
// receipt emission, settlement, and the retry and refund policies. Money only
// moves together with a job state transition, inside one storage transaction.
package coordinator

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/NebulousLabs/errors"
	"github.com/NebulousLabs/fastrand"
	"github.com/google/uuid"

	"github.com/oib/AITBC-sub002/crypto"
	"github.com/oib/AITBC-sub002/metrics"
	"github.com/oib/AITBC-sub002/modules"
	"github.com/oib/AITBC-sub002/persist"
	siasync "github.com/oib/AITBC-sub002/sync"
	"github.com/oib/AITBC-sub002/types"
)

const (
	logFile = "coordinator.log"

	// pollWait is the server-side long-poll wait before returning an
	// empty response to a miner.
	pollWait = 25 * time.Second

	// maxParkedPolls caps the number of simultaneously parked long-polls.
	maxParkedPolls = 1024

	// claimAttempts bounds the retries for pushing a receipt claim to the
	// chain node.
	claimAttempts = 5
)

// Failure codes reported to the pool hub alongside trust feedback. The hub
// maps some of them to specific trust deltas.
const (
	FailCodeBadResult     = "bad_result"
	FailCodeMinerReported = "miner_reported"
	FailCodeDeadline      = "deadline_exceeded"
)

type (
	// A Matcher is the slice of the pool hub the coordinator depends on.
	Matcher interface {
		Match(req types.MatchRequirements, hints types.MatchHints, topK int) ([]types.Candidate, error)
		Feedback(jobID, minerID string, outcome types.MatchOutcome, latencyMS int64, failCode string) error
	}

	// A ChainClient submits receipt claims and reads account state. The
	// chain node implements it directly; multi-site deployments use an
	// HTTP client.
	ChainClient interface {
		AcceptTransaction(types.Transaction) error
		Account(types.Address) (types.Account, bool)
	}

	// Options carries the coordinator parameters.
	Options struct {
		// Key signs receipts, attestations, and claim transactions.
		Key crypto.SecretKey
		// Treasury receives protocol fees and settlement residue. Zero
		// defaults to the key's own address.
		Treasury        types.Address
		ProtocolFee     uint64
		CoordinatorCut  float64
		ClaimFee        uint64
		MaxRetries      int
		DefaultDeadline time.Duration
	}

	// A Coordinator drives jobs from submission to settlement.
	Coordinator struct {
		store  Store
		hub    Matcher
		chain  ChainClient
		broker modules.Broker

		key             crypto.SecretKey
		addr            types.Address
		treasury        types.Address
		protocolFee     uint64
		coordinatorCut  float64
		claimFee        uint64
		maxRetries      int
		defaultDeadline time.Duration

		// jobLocks serializes state transitions per job id.
		lockMu   sync.Mutex
		jobLocks map[string]*sync.Mutex

		// wake holds one channel per miner with a parked long-poll;
		// pollSlots bounds how many polls may park at once.
		wakeMu    sync.Mutex
		wake      map[string]chan struct{}
		pollSlots *siasync.Limiter

		// claimMu serializes chain nonce assignment for claim txs.
		// claimPending counts claims accepted into the mempool whose
		// inclusion has not yet advanced the account nonce past
		// claimBase.
		claimMu      sync.Mutex
		claimPending uint64
		claimBase    uint64

		log *persist.Logger
		tg  siasync.ThreadGroup
	}
)

// New builds a coordinator and starts its watchdog.
func New(store Store, hub Matcher, chain ChainClient, broker modules.Broker, opts Options, persistDir string) (*Coordinator, error) {
	if err := persist.MkdirAll(persistDir); err != nil {
		return nil, err
	}
	log, err := persist.NewLogger(filepath.Join(persistDir, logFile))
	if err != nil {
		return nil, err
	}

	c := &Coordinator{
		store:           store,
		hub:             hub,
		chain:           chain,
		broker:          broker,
		key:             opts.Key,
		addr:            types.AddressFromKey(opts.Key.PublicKey()),
		treasury:        opts.Treasury,
		protocolFee:     opts.ProtocolFee,
		coordinatorCut:  opts.CoordinatorCut,
		claimFee:        opts.ClaimFee,
		maxRetries:      opts.MaxRetries,
		defaultDeadline: opts.DefaultDeadline,
		jobLocks:        make(map[string]*sync.Mutex),
		wake:            make(map[string]chan struct{}),
		pollSlots:       siasync.NewLimiter(maxParkedPolls),
		log:             log,
	}
	if c.treasury.IsZero() {
		c.treasury = c.addr
	}
	if c.claimFee == 0 {
		c.claimFee = types.MinFee
	}
	if c.maxRetries == 0 {
		c.maxRetries = types.MaxRetries
	}
	if c.defaultDeadline == 0 {
		c.defaultDeadline = 5 * time.Minute
	}

	c.tg.AfterStop(func() {
		c.log.Close()
	})
	go c.threadedWatchdog()
	return c, nil
}

// managedJobLock returns the mutex serializing transitions for one job.
func (c *Coordinator) managedJobLock(jobID string) *sync.Mutex {
	c.lockMu.Lock()
	defer c.lockMu.Unlock()
	l, ok := c.jobLocks[jobID]
	if !ok {
		l = new(sync.Mutex)
		c.jobLocks[jobID] = l
	}
	return l
}

// audit appends an audit event, logging rather than failing on error.
func (c *Coordinator) audit(jobID, kind, detail string) {
	err := c.store.AppendAudit(modules.AuditEvent{
		Timestamp: types.CurrentTimestamp(),
		JobID:     jobID,
		Kind:      kind,
		Detail:    detail,
	})
	if err != nil {
		c.log.Println("WARN: could not append audit event:", err)
	}
}

// publishJobEvent gossips a job transition.
func (c *Coordinator) publishJobEvent(job types.Job) {
	if c.broker == nil {
		return
	}
	payload, err := json.Marshal(map[string]interface{}{
		"job_id": job.ID,
		"status": job.Status,
		"miner":  job.AssignedMiner,
	})
	if err != nil {
		return
	}
	c.broker.Publish(modules.TopicJobEvent, payload)
}

// setStatus updates the job state machine, enforcing the legal edges.
func setStatus(job *types.Job, to types.JobStatus) error {
	if !job.Status.CanTransition(to) {
		return types.NewCodedError(types.ErrCodeConflict,
			"job cannot move from "+string(job.Status)+" to "+string(to))
	}
	job.Status = to
	metrics.JobsByState.WithLabelValues(string(to)).Inc()
	return nil
}

// SubmitJob implements modules.Coordinator.
func (c *Coordinator) SubmitJob(tenantID string, req modules.SubmitJobRequest) (types.Job, error) {
	if req.MaxPrice == 0 {
		return types.Job{}, types.NewCodedError(types.ErrCodeValidation, "max_price must be positive")
	}
	if req.Payload.Model == "" {
		return types.Job{}, types.NewCodedError(types.ErrCodeValidation, "payload has no model")
	}
	if req.ClientNonce == "" {
		return types.Job{}, types.NewCodedError(types.ErrCodeValidation, "client_nonce is required")
	}

	// Idempotence on (client, client_nonce): a duplicate submission
	// returns the original job and mutates nothing.
	if existing, ok, err := c.store.JobByClientNonce(req.ClientAddr, req.ClientNonce); err != nil {
		return types.Job{}, err
	} else if ok {
		return existing, nil
	}

	deadline := c.defaultDeadline
	if req.DeadlineSec > 0 {
		deadline = time.Duration(req.DeadlineSec) * time.Second
	}
	now := types.CurrentTimestamp()
	job := types.Job{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		ClientAddr:  req.ClientAddr,
		ClientNonce: req.ClientNonce,
		Payload:     req.Payload,
		Constraints: req.Constraints,
		MaxPrice:    req.MaxPrice,
		Fee:         c.protocolFee,
		Deadline:    now + types.Timestamp(deadline/time.Second),
		Private:     req.Private,
		Status:      types.JobQueued,
		SubmittedAt: now,
	}

	if err := c.store.CreateJob(job, c.protocolFee, c.treasury); err != nil {
		if err == ErrInsufficientFunds {
			return types.Job{}, types.WrapCoded(types.ErrCodeEscrow, err)
		}
		return types.Job{}, err
	}
	metrics.JobsByState.WithLabelValues(string(types.JobQueued)).Inc()
	c.audit(job.ID, "job_submitted", "client "+job.ClientAddr.String())
	c.publishJobEvent(job)

	go c.managedAssign(job.ID)
	return job, nil
}

// managedAssign tries to assign a queued job to a miner. Jobs that cannot be
// matched stay queued; the watchdog sweep retries them.
func (c *Coordinator) managedAssign(jobID string) {
	if c.tg.Add() != nil {
		return
	}
	defer c.tg.Done()

	l := c.managedJobLock(jobID)
	l.Lock()
	defer l.Unlock()

	job, ok, err := c.store.Job(jobID)
	if err != nil || !ok || job.Status != types.JobQueued {
		return
	}

	reqs := types.MatchRequirements{
		MinVRAMGB: job.Constraints.MinVRAMGB,
		MinRAMGB:  job.Constraints.MinRAMGB,
		Tags:      job.Constraints.Tags,
		Region:    job.Constraints.Region,
		MaxPrice:  job.MaxPrice,
	}
	// A retry must not land on a miner that already failed this job,
	// unless no alternative exists.
	cands, err := c.hub.Match(reqs, types.MatchHints{ExcludeMiners: job.TriedMiners}, 3)
	if err != nil {
		c.log.Println("WARN: matchmaking failed for job", jobID, ":", err)
		return
	}
	if len(cands) == 0 && len(job.TriedMiners) > 0 {
		cands, err = c.hub.Match(reqs, types.MatchHints{}, 3)
		if err != nil || len(cands) == 0 {
			return
		}
	}
	if len(cands) == 0 {
		return
	}

	best := cands[0]
	price := best.Price
	if price > job.MaxPrice {
		price = job.MaxPrice
	}
	job.AssignedMiner = best.MinerID
	job.Price = price
	job.AssignedAt = types.CurrentTimestamp()
	if err := setStatus(&job, types.JobAssigned); err != nil {
		return
	}
	if err := c.store.UpdateJob(job); err != nil {
		c.log.Println("WARN: could not persist assignment for job", jobID, ":", err)
		return
	}
	c.audit(job.ID, "job_assigned", "miner "+best.MinerID+" "+best.Explain)
	c.publishJobEvent(job)
	c.wakeMiner(best.MinerID)
}

// wakeMiner releases a parked long-poll for the miner, if any.
func (c *Coordinator) wakeMiner(minerID string) {
	c.wakeMu.Lock()
	defer c.wakeMu.Unlock()
	if ch, ok := c.wake[minerID]; ok {
		close(ch)
		delete(c.wake, minerID)
	}
}

// PollJob implements modules.Coordinator. It blocks until a job is assigned
// to the miner, the cancel channel fires, or the server-side wait elapses.
// Parked polls hold a slot in the poll limiter so a flood of idle miners
// cannot pin every handler goroutine.
func (c *Coordinator) PollJob(minerID string, cancel <-chan struct{}) (*types.Job, error) {
	if c.pollSlots.Request(1, cancel) {
		return nil, nil
	}
	defer c.pollSlots.Release(1)

	deadline := time.After(pollWait)
	for {
		if job, err := c.managedClaimAssigned(minerID); job != nil || err != nil {
			return job, err
		}

		c.wakeMu.Lock()
		ch, ok := c.wake[minerID]
		if !ok {
			ch = make(chan struct{})
			c.wake[minerID] = ch
		}
		c.wakeMu.Unlock()

		select {
		case <-ch:
		case <-cancel:
			return nil, nil
		case <-deadline:
			return nil, nil
		case <-c.tg.StopChan():
			return nil, nil
		}
	}
}

// managedClaimAssigned hands the miner its oldest assigned job, moving it to
// RUNNING.
func (c *Coordinator) managedClaimAssigned(minerID string) (*types.Job, error) {
	jobs, err := c.store.JobsInStates(types.JobAssigned)
	if err != nil {
		return nil, err
	}
	for _, job := range jobs {
		if job.AssignedMiner != minerID {
			continue
		}
		l := c.managedJobLock(job.ID)
		l.Lock()
		job, ok, err := c.store.Job(job.ID)
		if err != nil || !ok || job.Status != types.JobAssigned || job.AssignedMiner != minerID {
			l.Unlock()
			continue
		}
		job.StartedAt = types.CurrentTimestamp()
		if err := setStatus(&job, types.JobRunning); err != nil {
			l.Unlock()
			continue
		}
		if err := c.store.UpdateJob(job); err != nil {
			l.Unlock()
			return nil, err
		}
		l.Unlock()
		c.publishJobEvent(job)
		return &job, nil
	}
	return nil, nil
}

// ReportProgress implements modules.Coordinator.
func (c *Coordinator) ReportProgress(jobID, minerID string, pct float64) error {
	l := c.managedJobLock(jobID)
	l.Lock()
	defer l.Unlock()

	job, ok, err := c.store.Job(jobID)
	if err != nil {
		return err
	}
	if !ok {
		return types.NewCodedError(types.ErrCodeNotFound, "no job with that id")
	}
	if job.AssignedMiner != minerID {
		return types.NewCodedError(types.ErrCodeAuth, "job is not assigned to this miner")
	}
	if job.Status != types.JobRunning && job.Status != types.JobAssigned {
		return types.NewCodedError(types.ErrCodeConflict, "job is not running")
	}
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	job.Progress = pct
	return c.store.UpdateJob(job)
}

// SubmitResult implements modules.Coordinator.
func (c *Coordinator) SubmitResult(jobID, minerID string, result types.JobResult) (types.Receipt, error) {
	l := c.managedJobLock(jobID)
	l.Lock()
	defer l.Unlock()

	job, ok, err := c.store.Job(jobID)
	if err != nil {
		return types.Receipt{}, err
	}
	if !ok {
		return types.Receipt{}, types.NewCodedError(types.ErrCodeNotFound, "no job with that id")
	}
	if job.Status.Terminal() {
		// A result landing after cancellation or expiry is discarded:
		// escrow is already settled and no receipt may be emitted.
		return types.Receipt{}, types.NewCodedError(types.ErrCodeConflict, "JOB_EXPIRED")
	}
	if job.AssignedMiner != minerID {
		return types.Receipt{}, types.NewCodedError(types.ErrCodeAuth, "job is not assigned to this miner")
	}
	if job.Status != types.JobRunning && job.Status != types.JobAssigned {
		return types.Receipt{}, types.NewCodedError(types.ErrCodeConflict, "job has no result slot in state "+string(job.Status))
	}
	if result.ComputeUnits == 0 {
		return types.Receipt{}, types.NewCodedError(types.ErrCodeValidation, "result reports zero compute units")
	}
	if result.OutputHash != crypto.HashBytes([]byte(result.Output)) {
		// A forged or corrupted result is non-retryable on this miner.
		c.handleFailureLocked(&job, minerID, "output hash mismatch", FailCodeBadResult)
		return types.Receipt{}, types.NewCodedError(types.ErrCodeIntegrity, "output hash does not match the output")
	}

	minerEntry, minerAddr := c.resolveMinerAddr(minerID)
	if !minerEntry {
		return types.Receipt{}, types.NewCodedError(types.ErrCodeNotFound, "assigned miner is not registered")
	}

	startedAt := job.StartedAt
	if startedAt == 0 {
		startedAt = job.AssignedAt
	}
	now := types.CurrentTimestamp()
	receipt := types.Receipt{
		Version:      types.ReceiptVersion,
		ReceiptID:    uuid.NewString(),
		JobID:        job.ID,
		ClientAddr:   job.ClientAddr,
		MinerAddr:    minerAddr,
		ComputeUnits: result.ComputeUnits,
		Price:        job.Price,
		OutputHash:   result.OutputHash,
		StartedAt:    startedAt,
		CompletedAt:  now,
		Metadata: map[string]interface{}{
			"model":  result.Model,
			"tokens": result.Tokens,
		},
	}
	if err := receipt.Sign(c.key, "coordinator"); err != nil {
		return types.Receipt{}, err
	}

	job.Result = &result
	job.ReceiptID = receipt.ReceiptID
	job.Progress = 100
	job.FinishedAt = now
	if job.Status == types.JobAssigned {
		// The result can beat the poll acknowledgement.
		if err := setStatus(&job, types.JobRunning); err != nil {
			return types.Receipt{}, err
		}
	}
	if err := setStatus(&job, types.JobCompleted); err != nil {
		return types.Receipt{}, err
	}

	payout := uint64(float64(job.Price) * (1 - c.coordinatorCut))
	err = c.store.SettleJob(job, receipt, minerAddr, payout, c.treasury)
	if err == ErrReceiptReplay {
		return types.Receipt{}, types.WrapCoded(types.ErrCodeConflict, err)
	}
	if err != nil {
		return types.Receipt{}, err
	}

	metrics.ReceiptsEmitted.Inc()
	c.audit(job.ID, "job_completed", "receipt "+receipt.ReceiptID)
	c.publishJobEvent(job)
	c.hub.Feedback(job.ID, minerID, types.OutcomeCompleted, result.LatencyMS, "")

	go c.managedSubmitClaim(receipt)
	return receipt, nil
}

// resolveMinerAddr maps a miner id to its payout address through the pool
// hub when the hub exposes registry reads.
func (c *Coordinator) resolveMinerAddr(minerID string) (bool, types.Address) {
	type registry interface {
		Miner(id string) (types.MinerEntry, bool)
	}
	if reg, ok := c.hub.(registry); ok {
		if entry, found := reg.Miner(minerID); found {
			return true, entry.Address
		}
		return false, types.Address{}
	}
	// Without registry access the miner id must itself be an address.
	var addr types.Address
	if err := addr.LoadString(minerID); err != nil {
		return false, types.Address{}
	}
	return true, addr
}

// managedSubmitClaim pushes a RECEIPT_CLAIM to the chain node, retrying
// transient failures with backoff.
func (c *Coordinator) managedSubmitClaim(receipt types.Receipt) {
	if c.tg.Add() != nil {
		return
	}
	defer c.tg.Done()
	if c.chain == nil {
		return
	}

	att, err := c.Attest(receipt.ReceiptID, receipt.JobID, receipt.Price)
	if err != nil {
		c.log.Println("WARN: could not attest own receipt:", err)
		return
	}

	for attempt := 0; attempt < claimAttempts; attempt++ {
		c.claimMu.Lock()
		tx := types.Transaction{
			Type:        types.TxReceiptClaim,
			Nonce:       c.nextClaimNonce(),
			Fee:         c.claimFee,
			Receipt:     &receipt,
			Attestation: &att,
		}
		err := tx.Sign(c.key)
		if err == nil {
			err = c.chain.AcceptTransaction(tx)
			if err == nil {
				c.claimPending++
			}
		}
		c.claimMu.Unlock()

		if err == nil {
			c.audit(receipt.JobID, "claim_enqueued", "receipt "+receipt.ReceiptID)
			return
		}
		if types.CodeOf(err) == types.ErrCodeConflict && strings.Contains(err.Error(), "replay") {
			// The receipt itself is already pending or included;
			// nothing left to do. Other conflicts (a stale nonce) are
			// retried below with a rebuilt nonce.
			return
		}
		c.log.Println("WARN: receipt claim submission failed (attempt", attempt+1, "):", err)

		backoff := types.RetryBaseBackoff * time.Duration(1<<attempt)
		if backoff > types.RetryMaxBackoff {
			backoff = types.RetryMaxBackoff
		}
		select {
		case <-c.tg.StopChan():
			return
		case <-time.After(backoff):
		}
		// The local pending count may be stale; rebuild from the chain
		// nonce on the next attempt.
		c.claimMu.Lock()
		c.claimPending = 0
		c.claimBase = 0
		c.claimMu.Unlock()
	}
	c.log.Println("ERROR: gave up submitting receipt claim", receipt.ReceiptID)
}

// nextClaimNonce returns the nonce for the coordinator's next claim. The
// chain nonce advancing past claimBase means that many pending claims were
// included in blocks; the remainder are still in the mempool and the next
// nonce must sit above them. The caller holds claimMu.
func (c *Coordinator) nextClaimNonce() uint64 {
	acct, _ := c.chain.Account(c.addr)
	if acct.Nonce > c.claimBase {
		included := acct.Nonce - c.claimBase
		if included >= c.claimPending {
			c.claimPending = 0
		} else {
			c.claimPending -= included
		}
	}
	c.claimBase = acct.Nonce
	return acct.Nonce + 1 + c.claimPending
}

// ReportFailure implements modules.Coordinator.
func (c *Coordinator) ReportFailure(jobID, minerID, reason string) error {
	l := c.managedJobLock(jobID)
	l.Lock()
	defer l.Unlock()

	job, ok, err := c.store.Job(jobID)
	if err != nil {
		return err
	}
	if !ok {
		return types.NewCodedError(types.ErrCodeNotFound, "no job with that id")
	}
	if job.AssignedMiner != minerID {
		return types.NewCodedError(types.ErrCodeAuth, "job is not assigned to this miner")
	}
	if job.Status.Terminal() {
		return types.NewCodedError(types.ErrCodeConflict, "job is already settled")
	}
	c.handleFailureLocked(&job, minerID, reason, FailCodeMinerReported)
	return nil
}

// handleFailureLocked applies the retry policy to a failed attempt. The
// caller holds the job lock. Retries re-enter QUEUED after an exponential
// backoff with jitter; exhausted jobs are permanently failed and refunded.
func (c *Coordinator) handleFailureLocked(job *types.Job, minerID, reason, failCode string) {
	c.hub.Feedback(job.ID, minerID, types.OutcomeFailed, 0, failCode)
	job.TriedMiners = append(job.TriedMiners, minerID)
	job.AssignedMiner = ""
	job.Progress = 0

	if job.Retries < c.maxRetries {
		job.Retries++
		if err := setStatus(job, types.JobQueued); err != nil {
			return
		}
		if err := c.store.UpdateJob(*job); err != nil {
			c.log.Println("WARN: could not requeue job", job.ID, ":", err)
			return
		}
		c.audit(job.ID, "job_retry", reason)
		c.publishJobEvent(*job)

		backoff := types.RetryBaseBackoff * time.Duration(1<<(job.Retries-1))
		if backoff > types.RetryMaxBackoff {
			backoff = types.RetryMaxBackoff
		}
		backoff += time.Duration(fastrand.Intn(int(backoff/4) + 1))
		jobID := job.ID
		time.AfterFunc(backoff, func() { c.managedAssign(jobID) })
		return
	}

	job.FailReason = reason
	job.FinishedAt = types.CurrentTimestamp()
	if err := setStatus(job, types.JobFailed); err != nil {
		return
	}
	if err := c.store.RefundJob(*job); err != nil {
		c.log.Println("WARN: could not refund job", job.ID, ":", err)
		return
	}
	c.audit(job.ID, "job_failed", reason)
	c.publishJobEvent(*job)
}

// CancelJob implements modules.Coordinator. Only queued jobs cancel
// synchronously; anything later is advisory and resolves through the
// watchdog.
func (c *Coordinator) CancelJob(id string, client types.Address) error {
	l := c.managedJobLock(id)
	l.Lock()
	defer l.Unlock()

	job, ok, err := c.store.Job(id)
	if err != nil {
		return err
	}
	if !ok {
		return types.NewCodedError(types.ErrCodeNotFound, "no job with that id")
	}
	if job.ClientAddr != client {
		return types.NewCodedError(types.ErrCodeAuth, "job belongs to a different client")
	}
	if job.Status != types.JobQueued {
		return types.NewCodedError(types.ErrCodeConflict, "only queued jobs can be cancelled")
	}
	job.FinishedAt = types.CurrentTimestamp()
	if err := setStatus(&job, types.JobCancelled); err != nil {
		return err
	}
	if err := c.store.RefundJob(job); err != nil {
		return err
	}
	c.audit(job.ID, "job_cancelled", "")
	c.publishJobEvent(job)
	return nil
}

// Job implements modules.Coordinator.
func (c *Coordinator) Job(id string) (types.Job, bool) {
	job, ok, err := c.store.Job(id)
	if err != nil {
		c.log.Println("WARN: job lookup failed:", err)
		return types.Job{}, false
	}
	return job, ok
}

// Receipt implements modules.Coordinator.
func (c *Coordinator) Receipt(jobID string) (types.Receipt, bool) {
	r, ok, err := c.store.Receipt(jobID)
	if err != nil {
		c.log.Println("WARN: receipt lookup failed:", err)
		return types.Receipt{}, false
	}
	return r, ok
}

// Attest implements modules.Coordinator: it confirms the job exists and its
// escrow covered the price, and signs the attestation digest.
func (c *Coordinator) Attest(receiptID, jobID string, price uint64) (types.Attestation, error) {
	_, ok, err := c.store.Job(jobID)
	if err != nil {
		return types.Attestation{}, err
	}
	if !ok {
		return types.Attestation{}, types.NewCodedError(types.ErrCodeNotFound, "no job with that id")
	}
	esc, ok, err := c.store.Escrow(jobID)
	if err != nil {
		return types.Attestation{}, err
	}
	if !ok || esc.Amount < price {
		return types.Attestation{}, types.NewCodedError(types.ErrCodeEscrow, "escrow does not cover the receipt price")
	}

	digest := types.AttestationDigest(receiptID, jobID, price)
	return types.Attestation{
		JobID:     jobID,
		ReceiptID: receiptID,
		Price:     price,
		Signer:    c.addr,
		SignerKey: c.key.PublicKey(),
		Sig:       crypto.SignHash(digest, c.key),
	}, nil
}

// AuditLog implements modules.Coordinator.
func (c *Coordinator) AuditLog(seq uint64, limit int) ([]modules.AuditEvent, error) {
	return c.store.AuditRange(seq, limit)
}

// Tenants returns all tenants, for the CLI surface.
func (c *Coordinator) Tenants() ([]modules.Tenant, error) {
	return c.store.Tenants()
}

// PutTenant inserts or updates a tenant.
func (c *Coordinator) PutTenant(t modules.Tenant) error {
	return c.store.PutTenant(t)
}

// RemoveTenant deletes a tenant.
func (c *Coordinator) RemoveTenant(id string) error {
	return c.store.RemoveTenant(id)
}

// TenantByKeyHash resolves a tenant by api key hash, for API authentication.
func (c *Coordinator) TenantByKeyHash(hash string) (modules.Tenant, bool) {
	t, ok, err := c.store.TenantByKeyHash(hash)
	if err != nil {
		c.log.Println("WARN: tenant lookup failed:", err)
		return modules.Tenant{}, false
	}
	return t, ok
}

// Credit adds funds to a ledger account. The devnet faucet and the payment
// gateway callback use it; it is not reachable from client APIs.
func (c *Coordinator) Credit(addr types.Address, amount uint64) error {
	return c.store.Credit(addr, amount)
}

// LedgerBalance reads a ledger account balance.
func (c *Coordinator) LedgerBalance(addr types.Address) (uint64, error) {
	acct, err := c.store.Account(addr)
	return acct.Balance, err
}

// Address returns the coordinator's signing address.
func (c *Coordinator) Address() types.Address {
	return c.addr
}

// Close implements modules.Coordinator. The store is closed after the worker
// threads have drained so no transition races the shutdown.
func (c *Coordinator) Close() error {
	return errors.Compose(c.tg.Stop(), c.store.Close())
}
