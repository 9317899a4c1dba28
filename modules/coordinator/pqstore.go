package coordinator

// pqstore.go is the Postgres store. Jobs and receipts carry their full JSON
// document alongside the columns the coordinator filters on; money movements
// run in explicit SQL transactions so that a job transition and its escrow
// delta can never be observed apart.

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/oib/AITBC-sub002/modules"
	"github.com/oib/AITBC-sub002/types"
)

// A PQStore is a Store backed by Postgres through lib/pq.
type PQStore struct {
	db *sql.DB
}

// OpenPQStore connects to databaseURL, runs migrations, and returns the
// store.
func OpenPQStore(databaseURL string) (*PQStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not reach database: %w", err)
	}
	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &PQStore{db: db}, nil
}

// isUniqueViolation reports whether err is a Postgres unique-index violation.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// Account implements Store.
func (ps *PQStore) Account(addr types.Address) (LedgerAccount, error) {
	acct := LedgerAccount{Address: addr}
	err := ps.db.QueryRow(
		`SELECT balance FROM ledger_accounts WHERE address = $1`, addr.String(),
	).Scan(&acct.Balance)
	if err == sql.ErrNoRows {
		return acct, nil
	}
	return acct, err
}

// Credit implements Store.
func (ps *PQStore) Credit(addr types.Address, amount uint64) error {
	_, err := ps.db.Exec(`
		INSERT INTO ledger_accounts (address, balance) VALUES ($1, $2)
		ON CONFLICT (address) DO UPDATE SET balance = ledger_accounts.balance + $2`,
		addr.String(), int64(amount))
	return err
}

// creditTx credits inside an open transaction.
func creditTx(tx *sql.Tx, addr types.Address, amount uint64) error {
	_, err := tx.Exec(`
		INSERT INTO ledger_accounts (address, balance) VALUES ($1, $2)
		ON CONFLICT (address) DO UPDATE SET balance = ledger_accounts.balance + $2`,
		addr.String(), int64(amount))
	return err
}

// CreateJob implements Store.
func (ps *PQStore) CreateJob(job types.Job, fee uint64, treasury types.Address) error {
	doc, err := json.Marshal(job)
	if err != nil {
		return err
	}
	tx, err := ps.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	charge := int64(job.MaxPrice + fee)
	res, err := tx.Exec(`
		UPDATE ledger_accounts SET balance = balance - $2
		WHERE address = $1 AND balance >= $2`,
		job.ClientAddr.String(), charge)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrInsufficientFunds
	}
	if err := creditTx(tx, treasury, fee); err != nil {
		return err
	}
	_, err = tx.Exec(`
		INSERT INTO jobs (id, client_addr, client_nonce, status, submitted_at, doc)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		job.ID, job.ClientAddr.String(), job.ClientNonce, string(job.Status),
		int64(job.SubmittedAt), doc)
	if err != nil {
		return err
	}
	_, err = tx.Exec(`
		INSERT INTO escrow (job_id, client_addr, amount, state)
		VALUES ($1, $2, $3, $4)`,
		job.ID, job.ClientAddr.String(), int64(job.MaxPrice), string(types.EscrowHeld))
	if err != nil {
		return err
	}
	return tx.Commit()
}

// scanJob decodes a job document column.
func scanJob(row interface{ Scan(...interface{}) error }) (types.Job, bool, error) {
	var doc []byte
	if err := row.Scan(&doc); err != nil {
		if err == sql.ErrNoRows {
			return types.Job{}, false, nil
		}
		return types.Job{}, false, err
	}
	var j types.Job
	if err := json.Unmarshal(doc, &j); err != nil {
		return types.Job{}, false, err
	}
	return j, true, nil
}

// Job implements Store.
func (ps *PQStore) Job(id string) (types.Job, bool, error) {
	return scanJob(ps.db.QueryRow(`SELECT doc FROM jobs WHERE id = $1`, id))
}

// JobByClientNonce implements Store.
func (ps *PQStore) JobByClientNonce(client types.Address, nonce string) (types.Job, bool, error) {
	return scanJob(ps.db.QueryRow(
		`SELECT doc FROM jobs WHERE client_addr = $1 AND client_nonce = $2`,
		client.String(), nonce))
}

// UpdateJob implements Store.
func (ps *PQStore) UpdateJob(job types.Job) error {
	doc, err := json.Marshal(job)
	if err != nil {
		return err
	}
	res, err := ps.db.Exec(
		`UPDATE jobs SET status = $2, doc = $3 WHERE id = $1`,
		job.ID, string(job.Status), doc)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrJobNotFound
	}
	return nil
}

// JobsInStates implements Store.
func (ps *PQStore) JobsInStates(states ...types.JobStatus) ([]types.Job, error) {
	names := make([]string, len(states))
	for i, s := range states {
		names[i] = string(s)
	}
	rows, err := ps.db.Query(`
		SELECT doc FROM jobs WHERE status = ANY($1) ORDER BY submitted_at`,
		pq.Array(names))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Job
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var j types.Job
		if err := json.Unmarshal(doc, &j); err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// SettleJob implements Store.
func (ps *PQStore) SettleJob(job types.Job, receipt types.Receipt, minerAddr types.Address, minerPayout uint64, treasury types.Address) error {
	jobDoc, err := json.Marshal(job)
	if err != nil {
		return err
	}
	receiptDoc, err := json.Marshal(receipt)
	if err != nil {
		return err
	}
	tx, err := ps.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var amount int64
	err = tx.QueryRow(`
		UPDATE escrow SET state = $2 WHERE job_id = $1 AND state = $3
		RETURNING amount`,
		job.ID, string(types.EscrowReleased), string(types.EscrowHeld),
	).Scan(&amount)
	if err == sql.ErrNoRows {
		return ErrEscrowState
	}
	if err != nil {
		return err
	}
	if int64(minerPayout) > amount {
		return ErrEscrowState
	}
	if err := creditTx(tx, minerAddr, minerPayout); err != nil {
		return err
	}
	if err := creditTx(tx, treasury, uint64(amount)-minerPayout); err != nil {
		return err
	}
	_, err = tx.Exec(`
		INSERT INTO receipts (receipt_id, job_id, doc) VALUES ($1, $2, $3)`,
		receipt.ReceiptID, job.ID, receiptDoc)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrReceiptReplay
		}
		return err
	}
	_, err = tx.Exec(`UPDATE jobs SET status = $2, doc = $3 WHERE id = $1`,
		job.ID, string(job.Status), jobDoc)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// RefundJob implements Store.
func (ps *PQStore) RefundJob(job types.Job) error {
	doc, err := json.Marshal(job)
	if err != nil {
		return err
	}
	tx, err := ps.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var clientAddr string
	var amount int64
	err = tx.QueryRow(`
		UPDATE escrow SET state = $2 WHERE job_id = $1 AND state = $3
		RETURNING client_addr, amount`,
		job.ID, string(types.EscrowRefunded), string(types.EscrowHeld),
	).Scan(&clientAddr, &amount)
	if err == sql.ErrNoRows {
		return ErrEscrowState
	}
	if err != nil {
		return err
	}
	var addr types.Address
	if err := addr.LoadString(clientAddr); err != nil {
		return err
	}
	if err := creditTx(tx, addr, uint64(amount)); err != nil {
		return err
	}
	_, err = tx.Exec(`UPDATE jobs SET status = $2, doc = $3 WHERE id = $1`,
		job.ID, string(job.Status), doc)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// Escrow implements Store.
func (ps *PQStore) Escrow(jobID string) (types.EscrowEntry, bool, error) {
	var e types.EscrowEntry
	var clientAddr, state string
	var amount int64
	err := ps.db.QueryRow(`
		SELECT job_id, client_addr, amount, state FROM escrow WHERE job_id = $1`,
		jobID).Scan(&e.JobID, &clientAddr, &amount, &state)
	if err == sql.ErrNoRows {
		return types.EscrowEntry{}, false, nil
	}
	if err != nil {
		return types.EscrowEntry{}, false, err
	}
	if err := e.ClientAddr.LoadString(clientAddr); err != nil {
		return types.EscrowEntry{}, false, err
	}
	e.Amount = uint64(amount)
	e.State = types.EscrowState(state)
	return e, true, nil
}

// scanReceipt decodes a receipt document column.
func scanReceipt(row interface{ Scan(...interface{}) error }) (types.Receipt, bool, error) {
	var doc []byte
	if err := row.Scan(&doc); err != nil {
		if err == sql.ErrNoRows {
			return types.Receipt{}, false, nil
		}
		return types.Receipt{}, false, err
	}
	var r types.Receipt
	if err := json.Unmarshal(doc, &r); err != nil {
		return types.Receipt{}, false, err
	}
	return r, true, nil
}

// Receipt implements Store.
func (ps *PQStore) Receipt(jobID string) (types.Receipt, bool, error) {
	return scanReceipt(ps.db.QueryRow(`SELECT doc FROM receipts WHERE job_id = $1`, jobID))
}

// ReceiptByID implements Store.
func (ps *PQStore) ReceiptByID(receiptID string) (types.Receipt, bool, error) {
	return scanReceipt(ps.db.QueryRow(`SELECT doc FROM receipts WHERE receipt_id = $1`, receiptID))
}

// PutTenant implements Store.
func (ps *PQStore) PutTenant(t modules.Tenant) error {
	_, err := ps.db.Exec(`
		INSERT INTO tenants (id, name, address, api_key_hash, disabled)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = $2, address = $3, api_key_hash = $4, disabled = $5`,
		t.ID, t.Name, t.Address.String(), t.APIKeyHash, t.Disabled)
	return err
}

// scanTenant decodes one tenant row.
func scanTenant(row interface{ Scan(...interface{}) error }) (modules.Tenant, bool, error) {
	var t modules.Tenant
	var addr string
	err := row.Scan(&t.ID, &t.Name, &addr, &t.APIKeyHash, &t.Disabled)
	if err == sql.ErrNoRows {
		return modules.Tenant{}, false, nil
	}
	if err != nil {
		return modules.Tenant{}, false, err
	}
	if err := t.Address.LoadString(addr); err != nil {
		return modules.Tenant{}, false, err
	}
	return t, true, nil
}

// Tenant implements Store.
func (ps *PQStore) Tenant(id string) (modules.Tenant, bool, error) {
	return scanTenant(ps.db.QueryRow(
		`SELECT id, name, address, api_key_hash, disabled FROM tenants WHERE id = $1`, id))
}

// TenantByKeyHash implements Store.
func (ps *PQStore) TenantByKeyHash(hash string) (modules.Tenant, bool, error) {
	return scanTenant(ps.db.QueryRow(
		`SELECT id, name, address, api_key_hash, disabled FROM tenants WHERE api_key_hash = $1`, hash))
}

// Tenants implements Store.
func (ps *PQStore) Tenants() ([]modules.Tenant, error) {
	rows, err := ps.db.Query(
		`SELECT id, name, address, api_key_hash, disabled FROM tenants ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []modules.Tenant
	for rows.Next() {
		t, ok, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, t)
		}
	}
	return out, rows.Err()
}

// RemoveTenant implements Store.
func (ps *PQStore) RemoveTenant(id string) error {
	_, err := ps.db.Exec(`DELETE FROM tenants WHERE id = $1`, id)
	return err
}

// AppendAudit implements Store.
func (ps *PQStore) AppendAudit(e modules.AuditEvent) error {
	_, err := ps.db.Exec(`
		INSERT INTO audit_log (ts, job_id, kind, detail) VALUES ($1, $2, $3, $4)`,
		int64(e.Timestamp), e.JobID, e.Kind, e.Detail)
	return err
}

// AuditRange implements Store.
func (ps *PQStore) AuditRange(from uint64, limit int) ([]modules.AuditEvent, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := ps.db.Query(`
		SELECT seq, ts, COALESCE(job_id, ''), kind, COALESCE(detail, '')
		FROM audit_log WHERE seq >= $1 ORDER BY seq LIMIT $2`,
		int64(from), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []modules.AuditEvent
	for rows.Next() {
		var e modules.AuditEvent
		var ts int64
		if err := rows.Scan(&e.Seq, &ts, &e.JobID, &e.Kind, &e.Detail); err != nil {
			return nil, err
		}
		e.Timestamp = types.Timestamp(ts)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close implements Store.
func (ps *PQStore) Close() error {
	return ps.db.Close()
}
