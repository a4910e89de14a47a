package protocol

import (
	"encoding/json"

	"github.com/samber/lo"
)

// SelectedElement is one entry in an outbound selection list. TagName is
// present on element-selection messages and omitted on selection-rebuilt
// ones.
type SelectedElement struct {
	ID      string `json:"id"`
	TagName string `json:"tagName,omitempty"`
	XPath   string `json:"xpath"`
}

// AckPayload echoes the raw inbound message that is being acknowledged.
type AckPayload struct {
	Message json.RawMessage `json:"message"`
}

// StatusPayload carries either a state name or free-text progress status.
type StatusPayload struct {
	Status string `json:"status"`
}

// SelectionChangedPayload describes the full selection after one entry
// changed, plus which entry it was.
type SelectionChangedPayload struct {
	SelectedElements   []SelectedElement `json:"selectedElements"`
	SelectedElementIDs []string          `json:"selectedElementIds"`
	ElementID          string            `json:"elementId"`
	ElementXPath       string            `json:"elementXPath"`
}

// SelectionRebuiltPayload reports the entries actually matched by a
// rebuild, which may be empty.
type SelectionRebuiltPayload struct {
	SelectedElements   []SelectedElement `json:"selectedElements"`
	SelectedElementIDs []string          `json:"selectedElementIds"`
}

// Ack builds the unconditional acknowledgment for an inbound message.
func Ack(raw []byte) Envelope {
	return mustEnvelope(TypeAck, AckPayload{Message: json.RawMessage(raw)})
}

// Status builds a status message.
func Status(status string) Envelope {
	return mustEnvelope(TypeStatus, StatusPayload{Status: status})
}

// SelectionChanged builds the notification emitted after an entry is added
// or removed. changedID and changedPath identify the entry that changed.
func SelectionChanged(entries []SelectedElement, changedID, changedPath string) Envelope {
	if entries == nil {
		entries = []SelectedElement{}
	}
	return mustEnvelope(TypeSelectionChanged, SelectionChangedPayload{
		SelectedElements:   entries,
		SelectedElementIDs: ids(entries),
		ElementID:          changedID,
		ElementXPath:       changedPath,
	})
}

// SelectionRebuilt builds the rebuild-complete report. TagName is not part
// of this message's entries.
func SelectionRebuilt(entries []SelectedElement) Envelope {
	stripped := lo.Map(entries, func(e SelectedElement, _ int) SelectedElement {
		return SelectedElement{ID: e.ID, XPath: e.XPath}
	})
	return mustEnvelope(TypeSelectionRebuilt, SelectionRebuiltPayload{
		SelectedElements:   stripped,
		SelectedElementIDs: ids(stripped),
	})
}

func ids(entries []SelectedElement) []string {
	return lo.Map(entries, func(e SelectedElement, _ int) string { return e.ID })
}

func mustEnvelope(typ string, payload any) Envelope {
	data, err := json.Marshal(payload)
	if err != nil {
		// Payload types above are all marshalable; this is unreachable
		// outside programmer error.
		panic("protocol: marshal payload: " + err.Error())
	}
	return Envelope{Type: typ, Payload: data}
}
