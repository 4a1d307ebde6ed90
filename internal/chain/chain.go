// Package chain implements the tamper-evident audit chain: an append-only
// log of operation records where each entry's hash depends on the previous
// entry's hash. Mutating, inserting, deleting, or reordering any persisted
// entry breaks the chain from that point forward and is detected by the
// Verifier's full rescan.
//
// Storage layout:
//
//	<dir>/
//	├── chain.json          # Chain manifest (chain ID, creation time)
//	├── 2026-08-26.jsonl    # Daily entry files (append-only)
//	└── index.db            # SQLite index for fast queries
//
// The JSONL files are the source of truth; the SQLite index is a queryable
// projection that can be rebuilt from them at any time.
package chain

import "fmt"

// GenesisSentinel is the prev_hash of the first entry in every chain: the
// hex encoding of an all-zero 256-bit digest. No predecessor exists, so a
// fixed, publicly documented placeholder anchors the chain.
const GenesisSentinel = "0000000000000000000000000000000000000000000000000000000000000000"

// TimestampFormat is RFC 3339 UTC with fixed-width nanoseconds. Stored
// timestamps are compared as strings, and the fixed width makes lexical
// order equal chronological order (RFC3339Nano trims trailing zeros,
// which breaks that).
const TimestampFormat = "2006-01-02T15:04:05.000000000Z07:00"

// EventType classifies an audited event. The set is fixed: appending an
// entry with an unknown type is rejected before anything is written.
type EventType string

const (
	EventSystemInit        EventType = "system_init"
	EventKernelOp          EventType = "kernel_op"
	EventEthicalDecision   EventType = "ethical_decision"
	EventAIProcessing      EventType = "ai_processing"
	EventMemoryAccess      EventType = "memory_access"
	EventSentientActivity  EventType = "sentient_activity"
	EventProofVerification EventType = "proof_verification"
	EventSecurityEvent     EventType = "security_event"
	EventDataAccess        EventType = "data_access"
	EventConfigChange      EventType = "config_change"
)

// eventTypes is the membership set used for append validation.
var eventTypes = map[EventType]bool{
	EventSystemInit:        true,
	EventKernelOp:          true,
	EventEthicalDecision:   true,
	EventAIProcessing:      true,
	EventMemoryAccess:      true,
	EventSentientActivity:  true,
	EventProofVerification: true,
	EventSecurityEvent:     true,
	EventDataAccess:        true,
	EventConfigChange:      true,
}

// ValidEventType reports whether t is one of the fixed event types.
func ValidEventType(t EventType) bool {
	return eventTypes[t]
}

// EventTypes returns the fixed set of event types in a stable order.
// Used by the CLI for help text and by the façade for count maps.
func EventTypes() []EventType {
	return []EventType{
		EventSystemInit, EventKernelOp, EventEthicalDecision,
		EventAIProcessing, EventMemoryAccess, EventSentientActivity,
		EventProofVerification, EventSecurityEvent, EventDataAccess,
		EventConfigChange,
	}
}

// Sensitivity governs whether an entry is visible through the public
// access façade. It is a display-layer concern only: sensitive entries
// are stored and hashed exactly like public ones, so hiding them never
// breaks chain linkage.
type Sensitivity string

const (
	SensitivityPublic    Sensitivity = "public"
	SensitivitySensitive Sensitivity = "sensitive"
)

// ValidSensitivity reports whether s is a known sensitivity level.
func ValidSensitivity(s Sensitivity) bool {
	return s == SensitivityPublic || s == SensitivitySensitive
}

// Entry is a single audited event. Entries are created only by Store.Append,
// fully populated before they are persisted, and never mutated afterward.
//
// Hash covers the canonical form of every other field, including PrevHash,
// so each entry is cryptographically bound to its predecessor.
type Entry struct {
	Sequence    uint64         `json:"sequence"`
	EntryID     string         `json:"entry_id"`
	Timestamp   string         `json:"timestamp"`
	EventType   EventType      `json:"event_type"`
	Actor       string         `json:"actor"`
	Sensitivity Sensitivity    `json:"sensitivity"`
	Payload     map[string]any `json:"payload"`
	PrevHash    string         `json:"prev_hash"`
	Hash        string         `json:"hash"`
}

// Manifest identifies a chain. Written once to chain.json when the store
// directory is first initialized, read back on every open.
type Manifest struct {
	ChainID   string `json:"chain_id"`
	CreatedAt string `json:"created_at"`
	Algorithm string `json:"hash_algorithm"`
	Genesis   string `json:"genesis_sentinel"`
}

func (m Manifest) String() string {
	return fmt.Sprintf("chain %s (%s, created %s)", m.ChainID, m.Algorithm, m.CreatedAt)
}
