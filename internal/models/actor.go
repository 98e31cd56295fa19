package models

// Role is the coarse permission level carried by a session.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleWorker Role = "worker"
	RoleClient Role = "client"
)

// Actor is the resolved identity behind a request. Session issuance lives
// outside this service; the core treats the resolved actor as ground truth
// for every permission check.
type Actor struct {
	ID                 string `json:"id"`
	Role               Role   `json:"role"`
	WorkerID           string `json:"worker_id,omitempty"`
	WorkforceAccountID string `json:"workforce_account_id,omitempty"`
}

func (a Actor) IsAdmin() bool  { return a.Role == RoleAdmin }
func (a Actor) IsWorker() bool { return a.Role == RoleWorker }

// AssigneeKind discriminates the Assignee union.
type AssigneeKind string

const (
	AssigneeNone             AssigneeKind = "none"
	AssigneeWorker           AssigneeKind = "worker"
	AssigneeWorkforceAccount AssigneeKind = "workforce_account"
)

// Assignee is a tagged union: a job is assigned to a worker, to a workforce
// account, or not at all. Exactly one of the two ID shapes is in play, which
// the kind enforces structurally rather than via paired nullable columns.
type Assignee struct {
	Kind AssigneeKind `json:"kind"`
	ID   string       `json:"id,omitempty"`
}

func WorkerAssignee(workerID string) Assignee {
	return Assignee{Kind: AssigneeWorker, ID: workerID}
}

func AccountAssignee(accountID string) Assignee {
	return Assignee{Kind: AssigneeWorkforceAccount, ID: accountID}
}

func Unassigned() Assignee { return Assignee{Kind: AssigneeNone} }

// BelongsTo reports whether the actor owns this assignment, either as the
// assigned worker or as the owner of the assigned workforce account.
func (as Assignee) BelongsTo(actor Actor) bool {
	switch as.Kind {
	case AssigneeWorker:
		return actor.WorkerID != "" && actor.WorkerID == as.ID
	case AssigneeWorkforceAccount:
		return actor.WorkforceAccountID != "" && actor.WorkforceAccountID == as.ID
	default:
		return false
	}
}
