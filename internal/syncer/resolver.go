package syncer

import "github.com/driftq/driftq/internal/domain"

// Outcome says which side a resolution picked.
type Outcome int

// Possible outcomes
const (
	// OutcomeAcceptRemote installs the server resource as the new local
	// truth.
	OutcomeAcceptRemote Outcome = iota

	// OutcomeLocalWins keeps the local value; the manager rebases the
	// operation onto the server's version and pushes again.
	OutcomeLocalWins
)

// Resolution is the result of arbitrating a local operation against the
// remote state of the same task.
type Resolution struct {
	Outcome Outcome

	// Winner is the state to install locally. Nil means the task is gone
	// (confirmed deletion).
	Winner *domain.Task

	// Superseded is true when the local change lost last-writer-wins and
	// must be recorded as succeeded-but-superseded rather than silently
	// dropped.
	Superseded bool
}

// Resolve deterministically merges a local operation with the remote
// version of the same task. It is a pure function: identical inputs always
// produce the same winner, regardless of evaluation order or timing.
//
// Rules, in order:
//   - remote == nil confirms a deletion: accept, nothing to install.
//   - remote at exactly local version + 1 means the server applied this
//     operation cleanly: accept the server response as new truth.
//   - anything else means another writer intervened: last-writer-wins on
//     UpdatedAt, the later timestamp taking the task wholesale. The losing
//     local change is flagged superseded. Field-level merge is out of scope.
//   - identical timestamps break by comparing the operation id against the
//     remote task id, lexicographically.
func Resolve(op *Operation, remote *domain.Task) Resolution {
	if remote == nil {
		return Resolution{Outcome: OutcomeAcceptRemote, Winner: nil}
	}

	local := op.Payload
	if local == nil || remote.Version == local.Version+1 {
		return Resolution{Outcome: OutcomeAcceptRemote, Winner: remote.Clone()}
	}

	switch {
	case local.UpdatedAt.After(remote.UpdatedAt):
		return Resolution{Outcome: OutcomeLocalWins, Winner: local.Clone()}
	case remote.UpdatedAt.After(local.UpdatedAt):
		return Resolution{Outcome: OutcomeAcceptRemote, Winner: remote.Clone(), Superseded: true}
	}

	// Timestamp tie: deterministic lexicographic tiebreak.
	if op.ID.String() > remote.ID.String() {
		return Resolution{Outcome: OutcomeLocalWins, Winner: local.Clone()}
	}
	return Resolution{Outcome: OutcomeAcceptRemote, Winner: remote.Clone(), Superseded: true}
}
