package httpapi

import (
	json "github.com/goccy/go-json"

	"github.com/ghalamif/AegisAgent/internal/domain"
	"github.com/ghalamif/AegisAgent/internal/request"
)

// ProbeDocument is the rendered device model. Devices and their child
// components are encoded bottom-up into raw JSON, which keeps every encoded
// type non-recursive.
type ProbeDocument struct {
	Header  request.Header    `json:"header"`
	Devices []json.RawMessage `json:"devices"`
}

type componentDocument struct {
	ID           string             `json:"id"`
	UUID         string             `json:"uuid,omitempty"`
	Name         string             `json:"name,omitempty"`
	Type         string             `json:"type,omitempty"`
	Manufacturer string             `json:"manufacturer,omitempty"`
	SerialNumber string             `json:"serialNumber,omitempty"`
	DataItems    []*domain.DataItem `json:"dataItems,omitempty"`
	Components   []json.RawMessage  `json:"components,omitempty"`
}

func probeDocument(resp request.ProbeResponse) (ProbeDocument, error) {
	doc := ProbeDocument{Header: resp.Header, Devices: make([]json.RawMessage, 0, len(resp.Devices))}
	for _, d := range resp.Devices {
		raw, err := encodeComponent(&d.Component, d)
		if err != nil {
			return ProbeDocument{}, err
		}
		doc.Devices = append(doc.Devices, raw)
	}
	return doc, nil
}

// encodeComponent renders c and its subtree. dev is set for the device root.
func encodeComponent(c *domain.Component, dev *domain.Device) (json.RawMessage, error) {
	doc := componentDocument{
		ID:        c.ID,
		UUID:      c.UUID,
		Name:      c.Name,
		Type:      c.Type,
		DataItems: c.DataItems,
	}
	if dev != nil {
		doc.Manufacturer = dev.Manufacturer
		doc.SerialNumber = dev.SerialNumber
	}
	for _, child := range c.Components {
		raw, err := encodeComponent(child, nil)
		if err != nil {
			return nil, err
		}
		doc.Components = append(doc.Components, raw)
	}
	return json.Marshal(doc)
}
