package domain

// RecordType is the processing category of a Libris record. The reconciliation
// engine dispatches one handler per type; Unknown records are never submitted
// to Alma.
type RecordType string

const (
	RecordTypeThesis  RecordType = "thesis"
	RecordTypeBook    RecordType = "book"
	RecordTypeUnknown RecordType = "unknown"
)

// Classify determines the record type from MARC content. It is total: a
// missing or short 008 field simply falls through to the next rule.
//
// The thesis marker (008 position 24 == 'm') is checked before the book
// marker (852 $x == "1"); a record carrying both is a thesis.
func Classify(r *MarcRecord) RecordType {
	if fixed := r.ControlField("008"); len(fixed) >= 25 && fixed[24] == 'm' {
		return RecordTypeThesis
	}
	for _, f := range r.FieldsByTag("852") {
		if f.Subfield("x") == "1" {
			return RecordTypeBook
		}
	}
	return RecordTypeUnknown
}
