package domain

import "testing"

func record(controls []ControlField, datas []DataField) *MarcRecord {
	return &MarcRecord{ControlFields: controls, DataFields: datas}
}

// fixed008 builds an 008 value with the given type-of-material byte at
// position 24.
func fixed008(typeByte byte) string {
	return "761206s1976    sw ||||||" + string(typeByte) + "|||00||0swe|c"
}

func bookMarker() DataField {
	return DataField{Tag: "852", Subfields: []Subfield{{Code: "x", Value: "1"}}}
}

func TestClassifyThesis(t *testing.T) {
	rec := record([]ControlField{{Tag: "008", Value: fixed008('m')}}, nil)
	if got := Classify(rec); got != RecordTypeThesis {
		t.Errorf("Classify = %v, want thesis", got)
	}
}

func TestClassifyThesisWinsOverBookMarker(t *testing.T) {
	rec := record(
		[]ControlField{{Tag: "008", Value: fixed008('m')}},
		[]DataField{bookMarker()},
	)
	if got := Classify(rec); got != RecordTypeThesis {
		t.Errorf("Classify = %v, want thesis when both markers present", got)
	}
}

func TestClassifyBook(t *testing.T) {
	rec := record(
		[]ControlField{{Tag: "008", Value: fixed008('|')}},
		[]DataField{bookMarker()},
	)
	if got := Classify(rec); got != RecordTypeBook {
		t.Errorf("Classify = %v, want book", got)
	}
}

func TestClassifyUnknown(t *testing.T) {
	cases := []struct {
		name string
		rec  *MarcRecord
	}{
		{"empty record", record(nil, nil)},
		{"short 008", record([]ControlField{{Tag: "008", Value: "761206"}}, nil)},
		{"no markers", record(
			[]ControlField{{Tag: "008", Value: fixed008('|')}},
			[]DataField{{Tag: "852", Subfields: []Subfield{{Code: "x", Value: "0"}}}},
		)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.rec); got != RecordTypeUnknown {
				t.Errorf("Classify = %v, want unknown", got)
			}
		})
	}
}
