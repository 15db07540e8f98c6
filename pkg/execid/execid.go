// Package execid implements archflow's typed, hierarchical execution
// identifiers: a kind, a root id shared across a run, an optional
// parent, a tracker-assigned sequence number, and a depth.
package execid

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Kind identifies the category of execution an Id denotes.
type Kind string

const (
	KindFlow Kind = "flow"
	KindAgent Kind = "agent"
	KindTool Kind = "tool"
	KindChain Kind = "chain"
)

// IsValid reports whether k is one of the recognized kinds.
func (k Kind) IsValid() bool {
	switch k {
	case KindFlow, KindAgent, KindTool, KindChain:
		return true
	default:
		return false
	}
}

// InvalidIdError is returned by Parse when a string does not have the
// KIND_ROOT[_PARENT-SEQ]_SEQ shape, or the sequence is non-numeric.
type InvalidIdError struct {
	Input string
	Reason string
}

func (e *InvalidIdError) Error() string {
	return fmt.Sprintf("execid: invalid id %q: %s", e.Input, e.Reason)
}

// Id is an immutable execution identity. Zero value is not valid;
// construct with NewRoot or DeriveChild.
type Id struct {
	kind Kind
	root string
	parent string // parent's formatted id, empty for roots
	parentSeq uint64
	hasParent bool
	sequence uint64
	depth int
}

// NewRoot creates a fresh root Id with a new random root token,
// sequence 0, depth 0, and no parent. The tracker (pkg/tracker)
// overwrites the sequence via WithSequence when it registers the root.
func NewRoot(kind Kind) (Id, error) {
	if !kind.IsValid() {
		return Id{}, &InvalidIdError{Input: string(kind), Reason: "unknown kind"}
	}
	root, err := randomToken()
	if err != nil {
		return Id{}, fmt.Errorf("execid: generate root token: %w", err)
	}
	return Id{kind: kind, root: root, depth: 0}, nil
}

// DeriveChild produces a child Id sharing parent's root, with
// parent = parent's formatted string, depth = parent.Depth+1. The
// sequence is a placeholder (0) until the tracker assigns one via
// WithSequence —, sequence assignment belongs to the
// tracker, not to identity construction.
func DeriveChild(parent Id, kind Kind) (Id, error) {
	if !kind.IsValid() {
		return Id{}, &InvalidIdError{Input: string(kind), Reason: "unknown kind"}
	}
	return Id{
		kind: kind,
		root: parent.root,
		parent: parent.String(),
		parentSeq: parent.sequence,
		hasParent: true,
		depth: parent.depth + 1,
	}, nil
}

// WithSequence returns a copy of id with its sequence number set. Used
// exclusively by pkg/tracker at registration time.
func (id Id) WithSequence(seq uint64) Id {
	id.sequence = seq
	return id
}

// Kind returns the execution kind.
func (id Id) Kind() Kind { return id.kind }

// Root returns the shared root token (unchanged across all descendants).
func (id Id) Root() string { return id.root }

// HasParent reports whether id has a parent (false only for roots).
func (id Id) HasParent() bool { return id.hasParent }

// Depth returns the id's depth; 0 for roots, parent.Depth+1 otherwise.
func (id Id) Depth() int { return id.depth }

// Sequence returns the tracker-assigned monotone sequence number.
func (id Id) Sequence() uint64 { return id.sequence }

// Equal reports whether two Ids denote the same execution. Depth is
// intentionally excluded: it is not part of the wire string form (see
// String/Parse), so it cannot survive a format/parse round-trip and is
// not part of identity — only kind, root, parent linkage and sequence
// are.
func (id Id) Equal(other Id) bool {
	return id.kind == other.kind &&
		id.root == other.root &&
		id.hasParent == other.hasParent &&
		id.parentSeq == other.parentSeq &&
		id.sequence == other.sequence
}

// String renders the canonical KIND_ROOT[_PARENTSEQ]_SEQ form, the
// sequence zero-padded to 3 digits for display only (padding carries
// no ordering meaning — see Open Question 1).
func (id Id) String() string {
	if id.hasParent {
		return fmt.Sprintf("%s_%s_%03d_%03d", id.kind, id.root, id.parentSeq, id.sequence)
	}
	return fmt.Sprintf("%s_%s_%03d", id.kind, id.root, id.sequence)
}

// Parse reverses String. Returns InvalidIdError if the shape doesn't
// match or the sequence component isn't numeric.
func Parse(s string) (Id, error) {
	parts := strings.Split(s, "_")
	if len(parts) != 3 && len(parts) != 4 {
		return Id{}, &InvalidIdError{Input: s, Reason: "expected KIND_ROOT_SEQ or KIND_ROOT_PARENTSEQ_SEQ"}
	}
	kind := Kind(parts[0])
	if !kind.IsValid() {
		return Id{}, &InvalidIdError{Input: s, Reason: "unknown kind"}
	}
	root := parts[1]
	if root == "" {
		return Id{}, &InvalidIdError{Input: s, Reason: "empty root"}
	}

	if len(parts) == 3 {
		seq, err := strconv.ParseUint(parts[2], 10, 64)
		if err != nil {
			return Id{}, &InvalidIdError{Input: s, Reason: "non-numeric sequence"}
		}
		return Id{kind: kind, root: root, sequence: seq, depth: 0}, nil
	}

	parentSeq, err := strconv.ParseUint(parts[2], 10, 64)
	if err != nil {
		return Id{}, &InvalidIdError{Input: s, Reason: "non-numeric parent sequence"}
	}
	seq, err := strconv.ParseUint(parts[3], 10, 64)
	if err != nil {
		return Id{}, &InvalidIdError{Input: s, Reason: "non-numeric sequence"}
	}
	return Id{
		kind: kind,
		root: root,
		parentSeq: parentSeq,
		hasParent: true,
		sequence: seq,
		// depth is not recoverable from the string form alone; callers
		// that need depth after a round-trip must consult the tracker.
	}, nil
}

// randomToken returns a hyphen-free, lowercase UUIDv4 (122 bits of
// entropy, comfortably over the 96-bit floor).
func randomToken() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(id.String(), "-", ""), nil
}
