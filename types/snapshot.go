package types

import "time"

// WorkflowSnapshot is a point-in-time copy of the fields that matter for
// change tracking. Snapshots are value types; diffing two of them never
// touches the live workflow.
type WorkflowSnapshot struct {
	WorkflowID  string              `json:"workflow_id"`
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Trigger     Trigger             `json:"trigger"`
	Steps       []Step              `json:"steps"`
	Branches    []ConditionalBranch `json:"branches,omitempty"`
	EntryStepID string              `json:"entry_step_id,omitempty"`
	Connectors  []string            `json:"connectors,omitempty"` // allowed minus blocked, sorted
	Budget      PolicyBudget        `json:"budget"`
	TakenAt     time.Time           `json:"taken_at"`
}

// CategoryDiff lists what changed inside one diff category. Added and
// Removed carry identifiers; Changed carries "id: field old -> new" style
// human-readable entries.
type CategoryDiff struct {
	Added   []string `json:"added,omitempty"`
	Removed []string `json:"removed,omitempty"`
	Changed []string `json:"changed,omitempty"`
}

// Empty reports whether nothing changed in this category.
func (d CategoryDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// WorkflowDiff is the four-category comparison of two snapshots.
type WorkflowDiff struct {
	Steps      CategoryDiff `json:"steps"`
	Branches   CategoryDiff `json:"branches"`
	Connectors CategoryDiff `json:"connectors"`
	Settings   CategoryDiff `json:"settings"`
}

// Empty reports whether the diff carries no changes in any category.
func (d WorkflowDiff) Empty() bool {
	return d.Steps.Empty() && d.Branches.Empty() && d.Connectors.Empty() && d.Settings.Empty()
}

// ChangeRecord is one change-history ledger entry, written whenever a
// workflow save produces a non-empty diff.
type ChangeRecord struct {
	ID         string       `json:"id"`
	WorkflowID string       `json:"workflow_id"`
	UserID     string       `json:"user_id"`
	Diff       WorkflowDiff `json:"diff"`
	CreatedAt  time.Time    `json:"created_at"`
}
