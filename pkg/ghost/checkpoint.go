package ghost

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/cockroachdb/errors"
)

// checkpointMagic is written verbatim as the first 4 bytes of a checkpoint.
var checkpointMagic = [4]byte{'h', 'a', 'r', 'e'}

// ErrIncompatibleCheckpoint is returned by Load when the magic or guard
// hash doesn't match — most likely the checkpoint was produced by a
// different platform's hash implementation, or the file is corrupt.
var ErrIncompatibleCheckpoint = errors.New("ghost: incompatible checkpoint")

// checkpointGuardHash returns the same hash, over the same bytes ("hare"),
// that keys are hashed with — embedding it lets Load detect a checkpoint
// written under a different hash implementation before trusting the
// key-hash records that follow.
func checkpointGuardHash() uint32 {
	return HashKey("hare")
}

// Save writes the cache's LRU contents to w as a checkpoint: a 4-byte
// magic, a 4-byte guard hash, then one (key_hash uint32, kv_size uint32)
// record per resident entry in least-to-most-recently-used order.
func (c *Cache) Save(w io.Writer) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.Write(checkpointMagic[:]); err != nil {
		return errors.Wrap(err, "ghost: write magic")
	}
	if err := binary.Write(bw, binary.LittleEndian, checkpointGuardHash()); err != nil {
		return errors.Wrap(err, "ghost: write guard hash")
	}

	var writeErr error
	c.ForEachLRU(func(keyHash, kvSize uint32) {
		if writeErr != nil {
			return
		}
		if err := binary.Write(bw, binary.LittleEndian, keyHash); err != nil {
			writeErr = err
			return
		}
		if err := binary.Write(bw, binary.LittleEndian, kvSize); err != nil {
			writeErr = err
		}
	})
	if writeErr != nil {
		return errors.Wrap(writeErr, "ghost: write record")
	}
	return bw.Flush()
}

// Load replays a checkpoint written by Save, in order, as NOOP accesses
// (reconstructing LRU order and resident size without perturbing hit/miss
// counters). Returns ErrIncompatibleCheckpoint if the magic or guard hash
// doesn't match.
func (c *Cache) Load(r io.Reader) error {
	br := bufio.NewReader(r)

	var magic [4]byte
	if _, err := io.ReadFull(br, magic[:]); err != nil {
		return errors.Wrap(err, "ghost: read magic")
	}
	if magic != checkpointMagic {
		return ErrIncompatibleCheckpoint
	}

	var guard uint32
	if err := binary.Read(br, binary.LittleEndian, &guard); err != nil {
		return errors.Wrap(err, "ghost: read guard hash")
	}
	if guard != checkpointGuardHash() {
		return ErrIncompatibleCheckpoint
	}

	for {
		var keyHash, kvSize uint32
		if err := binary.Read(br, binary.LittleEndian, &keyHash); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return errors.Wrap(err, "ghost: read key_hash")
		}
		if err := binary.Read(br, binary.LittleEndian, &kvSize); err != nil {
			return errors.Wrap(err, "ghost: read kv_size")
		}
		c.AccessHash(keyHash, kvSize, Noop)
	}
}
