package history

import (
	"fmt"
	"sync"

	"peerchat/datamodel/message"

	"github.com/fxamacker/cbor/v2"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/util"

	log "github.com/sirupsen/logrus"
)

const (
	keyPrefixMsg = "MSG" // Message records indexed by sequence number. Followed by %016x of the sequence
)

var _ message.History = (*LevelDB)(nil)

// LevelDB persists the history to disk. Records are CBOR-encoded and keyed
// by an ever-increasing sequence number, so iteration order is append order.
type LevelDB struct {
	path string
	mu   sync.Mutex
	db   *leveldb.DB
	seq  uint64 // next sequence number to assign
}

func keyFromSeq(seq uint64) []byte {
	return append([]byte(keyPrefixMsg), []byte(fmt.Sprintf("%016x", seq))...)
}

func seqFromKey(key []byte) (uint64, error) {
	if len(key) != len(keyPrefixMsg)+16 {
		return 0, fmt.Errorf("seqFromKey: invalid key length: %d", len(key))
	}
	if string(key[:len(keyPrefixMsg)]) != keyPrefixMsg {
		return 0, fmt.Errorf("seqFromKey: invalid key prefix: %s", string(key[:len(keyPrefixMsg)]))
	}
	var seq uint64
	if _, err := fmt.Sscanf(string(key[len(keyPrefixMsg):]), "%016x", &seq); err != nil {
		return 0, err
	}
	return seq, nil
}

// NewLevelDB opens (or creates) the history database at path and recovers
// the sequence counter from the last stored record.
func NewLevelDB(path string) (*LevelDB, error) {
	// Open or create the new DB
	db, err := leveldb.OpenFile(path, nil)
	if errors.IsCorrupted(err) {
		db, err = leveldb.RecoverFile(path, nil)
	}
	if err != nil {
		return nil, err
	}

	l := &LevelDB{
		path: path,
		db:   db,
	}

	// Recover the next sequence number by scanning to the last message key
	iter := db.NewIterator(util.BytesPrefix([]byte(keyPrefixMsg)), nil)
	if iter.Last() {
		seq, err := seqFromKey(iter.Key())
		if err != nil {
			iter.Release()
			db.Close()
			return nil, err
		}
		l.seq = seq + 1
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		db.Close()
		return nil, err
	}

	log.Infof("history: opened LevelDB at %s, %d messages stored", path, l.seq)

	return l, nil
}

func (l *LevelDB) Append(msg *message.Message) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	raw, err := cbor.Marshal(msg)
	if err != nil {
		return err
	}

	if err := l.db.Put(keyFromSeq(l.seq), raw, nil); err != nil {
		return err
	}
	l.seq++

	return nil
}

func (l *LevelDB) Recent(n int) ([]*message.Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var results []*message.Message

	iter := l.db.NewIterator(util.BytesPrefix([]byte(keyPrefixMsg)), nil)
	defer iter.Release()

	for iter.Next() {
		msg := &message.Message{}
		if err := cbor.Unmarshal(iter.Value(), msg); err != nil {
			return nil, err
		}
		results = append(results, msg)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}

	if n > 0 && len(results) > n {
		results = results[len(results)-n:]
	}

	return results, nil
}

func (l *LevelDB) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.db.Close()
}
