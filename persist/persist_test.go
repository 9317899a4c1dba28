package persist

import (
	"path/filepath"
	"testing"

	bolt "github.com/coreos/bbolt"
)

var testMeta = Metadata{Header: "Test Struct", Version: "0.1"}

type testStruct struct {
	One   string
	Two   uint64
	Three []byte
}

// TestSaveLoadFile checks that the json metadata wrapper round-trips and
// rejects mismatched metadata.
func TestSaveLoadFile(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "persist.json")
	obj := testStruct{"one", 2, []byte{3, 3, 3}}
	if err := SaveFile(testMeta, obj, filename); err != nil {
		t.Fatal(err)
	}

	var loaded testStruct
	if err := LoadFile(testMeta, &loaded, filename); err != nil {
		t.Fatal(err)
	}
	if loaded.One != obj.One || loaded.Two != obj.Two {
		t.Fatal("loaded object does not match saved object")
	}

	badHeader := Metadata{Header: "Other Struct", Version: "0.1"}
	if err := LoadFile(badHeader, &loaded, filename); err != ErrBadHeader {
		t.Fatal("expected ErrBadHeader, got", err)
	}
	badVersion := Metadata{Header: "Test Struct", Version: "9.9"}
	if err := LoadFile(badVersion, &loaded, filename); err != ErrBadVersion {
		t.Fatal("expected ErrBadVersion, got", err)
	}
}

// TestOpenDatabase checks metadata enforcement on the bolt wrapper.
func TestOpenDatabase(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "test.db")
	db, err := OpenDatabase(testMeta, filename)
	if err != nil {
		t.Fatal(err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte("Bucket"))
		if err != nil {
			return err
		}
		return b.Put([]byte("key"), []byte("value"))
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	// Reopening with the same metadata succeeds and retains data.
	db, err = OpenDatabase(testMeta, filename)
	if err != nil {
		t.Fatal(err)
	}
	err = db.View(func(tx *bolt.Tx) error {
		if string(tx.Bucket([]byte("Bucket")).Get([]byte("key"))) != "value" {
			t.Fatal("bucket data did not persist")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	db.Close()

	// Reopening with different metadata fails.
	if _, err := OpenDatabase(Metadata{Header: "Other", Version: "0.1"}, filename); err != ErrBadHeader {
		t.Fatal("expected ErrBadHeader, got", err)
	}
}

// TestLogger checks that the logger writes to its file.
func TestLogger(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "test.log")
	logger, err := NewLogger(filename)
	if err != nil {
		t.Fatal(err)
	}
	logger.Println("test message")
	if err := logger.Close(); err != nil {
		t.Fatal(err)
	}
}
