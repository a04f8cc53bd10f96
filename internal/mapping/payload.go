package mapping

import (
	"time"

	"github.com/kth-biblioteket/almatools-tasks/internal/core/domain"
	"github.com/kth-biblioteket/almatools-tasks/internal/infra/alma"
)

// Fixed holdings record framing, carried over from the manual cataloging
// template.
const (
	holdingsLeader = "#####nx##a22#####1n#4500"
	holdings008    = "1011252u####8###4001uueng0000000"
)

// HoldingsPayload assembles the Alma holdings record from the first 852 field.
// It returns nil when the record carries no 852 at all: no holdings info means
// the record is skipped entirely, which is not a failure.
func HoldingsPayload(rec *domain.MarcRecord) *alma.Holding {
	field := rec.FirstFieldByTag("852")
	if field == nil {
		return nil
	}

	shelfMark := field.Subfield("h")

	// Subfield order is fixed: library, location, shelf mark, sequence
	// number, shelving title.
	var subfields []domain.Subfield
	if lib := LibraryCode(field.Subfield("b")); lib != "" {
		subfields = append(subfields, domain.Subfield{Code: "b", Value: lib})
	}
	if shelfMark != "" {
		subfields = append(subfields, domain.Subfield{Code: "c", Value: LocationCode(shelfMark)})
		subfields = append(subfields, domain.Subfield{Code: "h", Value: shelfMark})
	}
	if seq := field.Subfield("j"); seq != "" {
		subfields = append(subfields, domain.Subfield{Code: "j", Value: seq})
	}
	if title := field.Subfield("l"); title != "" {
		subfields = append(subfields, domain.Subfield{Code: "l", Value: title})
	}

	return &alma.Holding{
		SuppressFromPublishing: "false",
		Record: alma.HoldingRecord{
			Leader:        holdingsLeader,
			ControlFields: []domain.ControlField{{Tag: "008", Value: holdings008}},
			DataFields: []domain.DataField{{
				Tag:       "852",
				Ind1:      field.Ind1,
				Ind2:      field.Ind2,
				Subfields: subfields,
			}},
		},
	}
}

// ItemPayload builds the template item for a thesis copy.
func ItemPayload(now time.Time) *alma.Item {
	return &alma.Item{
		ItemData: alma.ItemData{
			PhysicalMaterialType: alma.CodeValue{Value: "THESIS"},
			Policy:               alma.CodeValue{Value: "14_90_days"},
			ArrivalDate:          now.Format("2006-01-02"),
			BaseStatus:           "1",
		},
	}
}

// POLinePayload builds the template purchase-order line for a book record.
// The receiving note is set only for records both imported and cataloged by
// the owning sigel: those were imported locally, exported to Libris, and have
// now come back, so receiving must not charge for them a second time.
func POLinePayload(rec *domain.MarcRecord, sigel string, now time.Time) *alma.POLine {
	owner := "MAIN"
	if field := rec.FirstFieldByTag("852"); field != nil {
		if lib := LibraryCode(field.Subfield("b")); lib != "" {
			owner = lib
		}
	}

	pol := &alma.POLine{
		Type:              "PRINTED_BOOK_OT",
		Owner:             owner,
		AcquisitionMethod: "VENDOR_SYSTEM",
		MaterialType:      "BOOK",
		ExpectedDate:      now.Format("2006-01-02"),
	}

	if source := rec.FirstFieldByTag("040"); source != nil {
		if source.Subfield("a") == sigel && source.Subfield("d") == sigel {
			pol.ReceivingNote = "Lokalt importerad post"
		}
	}
	return pol
}
