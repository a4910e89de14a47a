// Package protocol defines the message envelope exchanged between the
// selection agent and its host application, with one closed variant per
// recognised command. Payload fields are validated here at the boundary;
// the rest of the agent never sees raw JSON.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Inbound command types.
const (
	TypeReady            = "ready"
	TypeElementSelection = "tool-element-selection"
	TypeClearSelection   = "clear-selection"
	TypeRemoveSelection  = "remove-selection"
	TypeRebuildSelection = "rebuild-selection"
)

// Outbound message types.
const (
	TypeAck              = "ack"
	TypeStatus           = "status"
	TypeSelectionChanged = "element-selection"
	TypeSelectionRebuilt = "selection-rebuilt"
)

// Envelope is the wire shape in both directions: a type tag and an
// optional payload object.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Command is the closed set of inbound commands.
type Command interface {
	isCommand()
}

// Ready asks the agent to leave selection mode and clear everything.
type Ready struct{}

// EnterElementSelection activates selection mode.
type EnterElementSelection struct{}

// ClearSelection empties the selection without leaving the current state.
type ClearSelection struct{}

// RemoveSelection removes one entry by stable identifier.
type RemoveSelection struct {
	Element string
}

// RebuildSelection reconstructs a selection from stable identifiers alone.
type RebuildSelection struct {
	IDs []string
}

// Unknown is any recognised-envelope message with an unrecognised type.
// It is acknowledged upstream and otherwise ignored.
type Unknown struct {
	Type string
}

func (Ready) isCommand()                 {}
func (EnterElementSelection) isCommand() {}
func (ClearSelection) isCommand()        {}
func (RemoveSelection) isCommand()       {}
func (RebuildSelection) isCommand()      {}
func (Unknown) isCommand()               {}

// DecodeCommand parses an inbound message into its command variant.
// Malformed JSON is an error; a recognised envelope with missing or
// ill-typed payload fields degrades to empty values rather than failing,
// matching the tolerant boundary the protocol promises.
func DecodeCommand(data []byte) (Command, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("protocol: decode envelope: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("protocol: message without type")
	}

	switch env.Type {
	case TypeReady:
		return Ready{}, nil
	case TypeElementSelection:
		return EnterElementSelection{}, nil
	case TypeClearSelection:
		return ClearSelection{}, nil
	case TypeRemoveSelection:
		var p struct {
			Element string `json:"element"`
		}
		if len(env.Payload) > 0 {
			// Field errors degrade to the zero value.
			_ = json.Unmarshal(env.Payload, &p)
		}
		return RemoveSelection{Element: p.Element}, nil
	case TypeRebuildSelection:
		var p struct {
			IDs []string `json:"ids"`
		}
		if len(env.Payload) > 0 {
			// Missing or non-array ids is treated as an empty list.
			_ = json.Unmarshal(env.Payload, &p)
		}
		if p.IDs == nil {
			p.IDs = []string{}
		}
		return RebuildSelection{IDs: p.IDs}, nil
	default:
		return Unknown{Type: env.Type}, nil
	}
}
