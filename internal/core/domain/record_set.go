package domain

// TargetRecordSet collects the Alma identifiers produced by a reconciliation
// attempt. It is populated incrementally; a partially populated set (MmsID set,
// HoldingID empty) is the partial-failure state a retry resumes from.
type TargetRecordSet struct {
	MmsID     string
	HoldingID string
	ItemID    string
	POLineID  string

	// CreatedBib records whether the bib was created (rather than matched)
	// by this reconciliation or a previous failed attempt for the same
	// record. The Libris write-back only runs for created bibs.
	CreatedBib bool
}
