// Package xctid implements the record ownership word (component C2):
// XctId, the 64-bit commit timestamp that doubles as a visibility anchor,
// and RwLockableXctId, the record header that pairs an XctId with an
// MCS-style reader/writer lock.
//
// The bit-packing idiom (pack several narrow fields into one machine word
// and expose them through small accessor methods) is adapted from the teacher
// library's pin.Location, which packs a thread id and a buffer index into
// a uint64 and reserves 16 high bits of "extra" tag data the same way this
// package reserves a low byte of status flags.
package xctid

import (
	"fmt"

	"github.com/foedus-go/foedus/epoch"
)

const (
	ordinalBits = 24
	ordinalMask = 1<<ordinalBits - 1
	// MaxOrdinal is the largest in-epoch ordinal a single thread can issue
	// before IssueNextID must roll over to the next epoch.
	MaxOrdinal = ordinalMask

	flagMoved         = 1 << 0
	flagDeleted       = 1 << 1
	flagNextLayer     = 1 << 2
	flagBeingWritten  = 1 << 3
	statusFlagMask    = 0xFF
	ordinalShift      = 8
	epochShift        = ordinalShift + ordinalBits
)

// XctId is the 64-bit record ownership word: epoch(32) | ordinal(24) |
// status flags(8). The pair (epoch, ordinal) is strictly monotone per
// thread across successful commits.
type XctId uint64

// New packs an epoch, ordinal and flags into an XctId.
func New(e epoch.Epoch, ordinal uint32, flags uint8) XctId {
	if ordinal > MaxOrdinal {
		panic(fmt.Sprintf("xctid: ordinal %d exceeds %d bits", ordinal, ordinalBits))
	}
	return XctId(uint64(e)<<epochShift | uint64(ordinal&ordinalMask)<<ordinalShift | uint64(flags))
}

// Epoch returns the epoch component.
func (x XctId) Epoch() epoch.Epoch {
	return epoch.Epoch(uint64(x) >> epochShift)
}

// Ordinal returns the in-epoch ordinal component.
func (x XctId) Ordinal() uint32 {
	return uint32(uint64(x)>>ordinalShift) & ordinalMask
}

func (x XctId) flags() uint8 {
	return uint8(x) & statusFlagMask
}

// IsValid reports whether x carries a valid (non-zero) epoch. A freshly
// inserted, never-committed record has an invalid XctId.
func (x XctId) IsValid() bool {
	return x.Epoch().IsValid()
}

// Moved reports whether the record has been logically relocated; the
// payload head then carries a forwarding pointer (see storage.Record).
func (x XctId) Moved() bool { return x.flags()&flagMoved != 0 }

// Deleted reports whether the record is a tombstone.
func (x XctId) Deleted() bool { return x.flags()&flagDeleted != 0 }

// NextLayer reports whether the slot has been repurposed to point into
// the next layer of a trie-like index rather than holding a record.
func (x XctId) NextLayer() bool { return x.flags()&flagNextLayer != 0 }

// BeingWritten reports whether a writer is in the middle of installing a
// new payload; readers must not trust the payload bytes while this is set.
func (x XctId) BeingWritten() bool { return x.flags()&flagBeingWritten != 0 }

func (x XctId) withFlag(bit uint8, set bool) XctId {
	base := uint64(x) &^ uint64(bit)
	if set {
		base |= uint64(bit)
	}
	return XctId(base)
}

func (x XctId) WithMoved(v bool) XctId        { return x.withFlag(flagMoved, v) }
func (x XctId) WithDeleted(v bool) XctId      { return x.withFlag(flagDeleted, v) }
func (x XctId) WithNextLayer(v bool) XctId    { return x.withFlag(flagNextLayer, v) }
func (x XctId) WithBeingWritten(v bool) XctId { return x.withFlag(flagBeingWritten, v) }

// Before reports whether x precedes other in commit order, comparing
// lexicographically on (epoch, ordinal) and ignoring status flags.
func (x XctId) Before(other XctId) bool {
	xe, oe := x.Epoch(), other.Epoch()
	if xe != oe {
		return xe.Before(oe)
	}
	return x.Ordinal() < other.Ordinal()
}

// SameOwner reports whether x and other identify the same logical
// commit (epoch and ordinal equal), ignoring status flags. Used by
// precommit's read validation to tell "unchanged" from "changed but by
// me" (see xctmgr).
func (x XctId) SameOwner(other XctId) bool {
	return x.Epoch() == other.Epoch() && x.Ordinal() == other.Ordinal()
}

func (x XctId) String() string {
	return fmt.Sprintf("XctId{epoch:%d ordinal:%d moved:%v deleted:%v}",
		x.Epoch(), x.Ordinal(), x.Moved(), x.Deleted())
}
