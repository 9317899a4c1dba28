package chain

// database.go manages the node's bolt database. All block application happens
// inside a single bolt Update so that the canonical chain, account state,
// receipt index, and undo diffs can never disagree on disk.

import (
	"encoding/binary"
	"encoding/json"

	bolt "github.com/coreos/bbolt"

	"github.com/oib/AITBC-sub002/build"
	"github.com/oib/AITBC-sub002/persist"
	"github.com/oib/AITBC-sub002/types"
)

var (
	dbMetadata = persist.Metadata{
		Header:  "AITBC Chain",
		Version: "1.0",
	}

	// Blocks maps block id -> encoded block, canonical and side chain.
	bucketBlocks = []byte("Blocks")
	// Canonical maps height -> block id for the canonical chain.
	bucketCanonical = []byte("Canonical")
	// Accounts maps address -> encoded account.
	bucketAccounts = []byte("Accounts")
	// Receipts maps receipt id -> including block id; the uniqueness index.
	bucketReceipts = []byte("Receipts")
	// TxIndex maps transaction id -> including block id.
	bucketTxIndex = []byte("TxIndex")
	// Diffs maps block id -> undo diff for reverting that block.
	bucketDiffs = []byte("Diffs")
	// Meta holds single-key records: the head id and the genesis id.
	bucketMeta = []byte("Meta")

	keyHead    = []byte("Head")
	keyGenesis = []byte("Genesis")
)

// openDB opens (or creates) the chain database and ensures the buckets exist.
func openDB(filename string) (*persist.BoltDatabase, error) {
	db, err := persist.OpenDatabase(dbMetadata, filename)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketBlocks, bucketCanonical, bucketAccounts,
			bucketReceipts, bucketTxIndex, bucketDiffs, bucketMeta,
		}
		for _, b := range buckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// heightKey encodes a block height as a big-endian bucket key so that cursor
// iteration walks the chain in order.
func heightKey(h types.BlockHeight) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(h))
	return key
}

// dbPutBlock stores a block by id.
func dbPutBlock(tx *bolt.Tx, b types.Block) error {
	data, err := json.Marshal(b)
	if err != nil {
		return err
	}
	id := b.ID()
	return tx.Bucket(bucketBlocks).Put(id[:], data)
}

// dbGetBlock fetches a block by id.
func dbGetBlock(tx *bolt.Tx, id types.BlockID) (types.Block, bool) {
	data := tx.Bucket(bucketBlocks).Get(id[:])
	if data == nil {
		return types.Block{}, false
	}
	var b types.Block
	if err := json.Unmarshal(data, &b); err != nil {
		build.Critical("corrupt block in database:", err)
		return types.Block{}, false
	}
	return b, true
}

// dbSetCanonical marks a block id canonical at its height.
func dbSetCanonical(tx *bolt.Tx, height types.BlockHeight, id types.BlockID) error {
	return tx.Bucket(bucketCanonical).Put(heightKey(height), id[:])
}

// dbUnsetCanonical removes the canonical marker at a height.
func dbUnsetCanonical(tx *bolt.Tx, height types.BlockHeight) error {
	return tx.Bucket(bucketCanonical).Delete(heightKey(height))
}

// dbCanonicalID returns the canonical block id at a height.
func dbCanonicalID(tx *bolt.Tx, height types.BlockHeight) (types.BlockID, bool) {
	data := tx.Bucket(bucketCanonical).Get(heightKey(height))
	if data == nil {
		return types.BlockID{}, false
	}
	var id types.BlockID
	copy(id[:], data)
	return id, true
}

// dbGetAccount fetches an account; missing accounts come back zero-valued.
func dbGetAccount(tx *bolt.Tx, addr types.Address) (types.Account, bool) {
	data := tx.Bucket(bucketAccounts).Get(addr[:])
	if data == nil {
		return types.Account{Address: addr}, false
	}
	var a types.Account
	if err := json.Unmarshal(data, &a); err != nil {
		build.Critical("corrupt account in database:", err)
		return types.Account{Address: addr}, false
	}
	return a, true
}

// dbPutAccount stores an account.
func dbPutAccount(tx *bolt.Tx, a types.Account) error {
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketAccounts).Put(a.Address[:], data)
}

// dbDeleteAccount removes an account record entirely, used when reverting the
// block that created it.
func dbDeleteAccount(tx *bolt.Tx, addr types.Address) error {
	return tx.Bucket(bucketAccounts).Delete(addr[:])
}

// dbReceiptIncluded reports whether a receipt id is already claimed.
func dbReceiptIncluded(tx *bolt.Tx, receiptID string) bool {
	return tx.Bucket(bucketReceipts).Get([]byte(receiptID)) != nil
}

// dbPutReceipt records a receipt id as claimed by a block.
func dbPutReceipt(tx *bolt.Tx, receiptID string, blockID types.BlockID) error {
	return tx.Bucket(bucketReceipts).Put([]byte(receiptID), blockID[:])
}

// dbDeleteReceipt removes a receipt claim record during a revert.
func dbDeleteReceipt(tx *bolt.Tx, receiptID string) error {
	return tx.Bucket(bucketReceipts).Delete([]byte(receiptID))
}

// dbPutTxIndex records the including block of a transaction.
func dbPutTxIndex(tx *bolt.Tx, txid types.TransactionID, blockID types.BlockID) error {
	return tx.Bucket(bucketTxIndex).Put(txid[:], blockID[:])
}

// dbDeleteTxIndex removes a transaction index entry during a revert.
func dbDeleteTxIndex(tx *bolt.Tx, txid types.TransactionID) error {
	return tx.Bucket(bucketTxIndex).Delete(txid[:])
}

// dbGetTxBlock returns the block id that includes a transaction.
func dbGetTxBlock(tx *bolt.Tx, txid types.TransactionID) (types.BlockID, bool) {
	data := tx.Bucket(bucketTxIndex).Get(txid[:])
	if data == nil {
		return types.BlockID{}, false
	}
	var id types.BlockID
	copy(id[:], data)
	return id, true
}

// dbPutDiff stores the undo diff for a block.
func dbPutDiff(tx *bolt.Tx, blockID types.BlockID, diff blockDiff) error {
	data, err := json.Marshal(diff)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketDiffs).Put(blockID[:], data)
}

// dbGetDiff fetches the undo diff for a block.
func dbGetDiff(tx *bolt.Tx, blockID types.BlockID) (blockDiff, bool) {
	data := tx.Bucket(bucketDiffs).Get(blockID[:])
	if data == nil {
		return blockDiff{}, false
	}
	var diff blockDiff
	if err := json.Unmarshal(data, &diff); err != nil {
		build.Critical("corrupt diff in database:", err)
		return blockDiff{}, false
	}
	return diff, true
}

// dbSetHead stores the canonical head id.
func dbSetHead(tx *bolt.Tx, id types.BlockID) error {
	return tx.Bucket(bucketMeta).Put(keyHead, id[:])
}

// dbGetHead returns the canonical head id.
func dbGetHead(tx *bolt.Tx) (types.BlockID, bool) {
	data := tx.Bucket(bucketMeta).Get(keyHead)
	if data == nil {
		return types.BlockID{}, false
	}
	var id types.BlockID
	copy(id[:], data)
	return id, true
}

// dbSetGenesisID stores the genesis block id for mismatch detection.
func dbSetGenesisID(tx *bolt.Tx, id types.BlockID) error {
	return tx.Bucket(bucketMeta).Put(keyGenesis, id[:])
}

// dbGetGenesisID returns the stored genesis block id.
func dbGetGenesisID(tx *bolt.Tx) (types.BlockID, bool) {
	data := tx.Bucket(bucketMeta).Get(keyGenesis)
	if data == nil {
		return types.BlockID{}, false
	}
	var id types.BlockID
	copy(id[:], data)
	return id, true
}
