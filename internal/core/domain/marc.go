package domain

import (
	"encoding/xml"
	"fmt"
)

// Subfield is a single coded value inside a MARC data field.
type Subfield struct {
	Code  string `xml:"code,attr"`
	Value string `xml:",chardata"`
}

// ControlField is a MARC control field (tags 001-009).
type ControlField struct {
	Tag   string `xml:"tag,attr"`
	Value string `xml:",chardata"`
}

// DataField is a MARC data field with indicators and ordered subfields.
type DataField struct {
	Tag       string     `xml:"tag,attr"`
	Ind1      string     `xml:"ind1,attr"`
	Ind2      string     `xml:"ind2,attr"`
	Subfields []Subfield `xml:"subfield"`
}

// MarcRecord is a parsed MARCXML record. Tags are not unique; field order
// from the source document is preserved. Treated as immutable after parse.
type MarcRecord struct {
	Leader        string
	ControlFields []ControlField
	DataFields    []DataField
}

// xmlRecord mirrors the MARCXML wire shape for both directions.
type xmlRecord struct {
	XMLName       xml.Name       `xml:"record"`
	Leader        string         `xml:"leader,omitempty"`
	ControlFields []ControlField `xml:"controlfield"`
	DataFields    []DataField    `xml:"datafield"`
}

type xmlCollection struct {
	XMLName xml.Name    `xml:"collection"`
	Records []xmlRecord `xml:"record"`
}

// ParseRecord parses a single MARCXML record fragment.
func ParseRecord(data []byte) (*MarcRecord, error) {
	var raw xmlRecord
	if err := xml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	return fromXML(raw), nil
}

// ParseCollection parses a MARCXML collection document. A collection without
// any record elements is a valid empty result, not an error.
func ParseCollection(data []byte) ([]*MarcRecord, error) {
	var raw xmlCollection
	if err := xml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	records := make([]*MarcRecord, 0, len(raw.Records))
	for _, r := range raw.Records {
		records = append(records, fromXML(r))
	}
	return records, nil
}

func fromXML(raw xmlRecord) *MarcRecord {
	return &MarcRecord{
		Leader:        raw.Leader,
		ControlFields: raw.ControlFields,
		DataFields:    raw.DataFields,
	}
}

// MarshalRecordXML serializes the record back to a plain <record> element,
// without an XML declaration or namespace. Used for Alma bib submission and
// for persisting records into the retry queue.
func MarshalRecordXML(r *MarcRecord) ([]byte, error) {
	raw := xmlRecord{
		Leader:        r.Leader,
		ControlFields: r.ControlFields,
		DataFields:    r.DataFields,
	}
	out, err := xml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	return out, nil
}

// ControlField returns the value of the first control field with the given
// tag, or the empty string when absent.
func (r *MarcRecord) ControlField(tag string) string {
	for _, f := range r.ControlFields {
		if f.Tag == tag {
			return f.Value
		}
	}
	return ""
}

// FieldsByTag returns all data fields with the given tag, in document order.
func (r *MarcRecord) FieldsByTag(tag string) []DataField {
	var fields []DataField
	for _, f := range r.DataFields {
		if f.Tag == tag {
			fields = append(fields, f)
		}
	}
	return fields
}

// FirstFieldByTag returns the first data field with the given tag, or nil.
// Mapping always selects the first occurrence when a tag repeats.
func (r *MarcRecord) FirstFieldByTag(tag string) *DataField {
	for i := range r.DataFields {
		if r.DataFields[i].Tag == tag {
			return &r.DataFields[i]
		}
	}
	return nil
}

// Subfield returns the value of the first subfield with the given code,
// or the empty string when absent.
func (f *DataField) Subfield(code string) string {
	for _, s := range f.Subfields {
		if s.Code == code {
			return s.Value
		}
	}
	return ""
}

// ExternalID derives the cross-system linking key for the record: the single
// 035 $9 value when exactly one exists, otherwise "(LIBRIS)" plus the 001
// control number. The same record always yields the same identifier, which
// existence checks against Alma depend on.
func (r *MarcRecord) ExternalID() string {
	var nines []string
	for _, f := range r.FieldsByTag("035") {
		for _, s := range f.Subfields {
			if s.Code == "9" {
				nines = append(nines, s.Value)
			}
		}
	}
	if len(nines) == 1 {
		return nines[0]
	}
	return "(LIBRIS)" + r.ControlField("001")
}

// BibID returns the Libris record identifier from control field 001.
func (r *MarcRecord) BibID() string {
	return r.ControlField("001")
}
