package alma

import (
	"encoding/xml"

	"github.com/kth-biblioteket/almatools-tasks/internal/core/domain"
)

// Config holds Alma API connection configuration.
type Config struct {
	BaseURL     string `yaml:"base_url"`
	SRUBaseURL  string `yaml:"sru_base_url"`
	APIKey      string `yaml:"api_key"`
	Institution string `yaml:"institution"`
}

// Holding is the payload for creating or updating an Alma holdings record.
type Holding struct {
	XMLName                xml.Name      `xml:"holding"`
	SuppressFromPublishing string        `xml:"suppress_from_publishing"`
	Record                 HoldingRecord `xml:"record"`
}

// HoldingRecord is the embedded MARC holdings record. The domain field types
// carry the MARCXML attribute layout, so they marshal directly.
type HoldingRecord struct {
	Leader        string                `xml:"leader"`
	ControlFields []domain.ControlField `xml:"controlfield"`
	DataFields    []domain.DataField    `xml:"datafield"`
}

// Item is the payload for creating an item under a holdings record.
type Item struct {
	XMLName  xml.Name `xml:"item"`
	ItemData ItemData `xml:"item_data"`
}

type ItemData struct {
	PhysicalMaterialType CodeValue `xml:"physical_material_type"`
	Policy               CodeValue `xml:"policy"`
	ArrivalDate          string    `xml:"arrival_date"`
	ReceivingOperator    string    `xml:"receiving_operator"`
	BaseStatus           string    `xml:"base_status"`
}

// CodeValue wraps Alma's xml_value code elements.
type CodeValue struct {
	Value string `xml:"xml_value"`
}

// POLine is the payload for creating a purchase-order line. Alma provisions a
// holdings record as a side effect; its id comes back in the response.
type POLine struct {
	XMLName           xml.Name         `xml:"po_line"`
	Type              string           `xml:"type"`
	Owner             string           `xml:"owner"`
	AcquisitionMethod string           `xml:"acquisition_method"`
	MaterialType      string           `xml:"material_type"`
	ResourceMetadata  ResourceMetadata `xml:"resource_metadata"`
	ExpectedDate      string           `xml:"expected_receipt_date"`
	ReceivingNote     string           `xml:"receiving_note,omitempty"`
}

type ResourceMetadata struct {
	MmsID string `xml:"mms_id"`
}

// POLineResult is the parsed outcome of a po-line creation.
type POLineResult struct {
	Number    string
	HoldingID string
}

// Response shapes. Only the generated identifier of each resource type is
// extracted.

type bibResponse struct {
	XMLName xml.Name `xml:"bib"`
	MmsID   string   `xml:"mms_id"`
}

type holdingResponse struct {
	XMLName   xml.Name `xml:"holding"`
	HoldingID string   `xml:"holding_id"`
}

type itemResponse struct {
	XMLName  xml.Name `xml:"item"`
	ItemData struct {
		PID string `xml:"pid"`
	} `xml:"item_data"`
}

type poLineResponse struct {
	XMLName  xml.Name `xml:"po_line"`
	Number   string   `xml:"number"`
	Holdings []struct {
		ID string `xml:"holding_id"`
	} `xml:"holdings>holding"`
}
