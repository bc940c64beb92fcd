package domain

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// Direction of a navigation action.
type Direction string

const (
	DirectionNext     Direction = "next"
	DirectionPrevious Direction = "previous"
	// DirectionSkip moves forward without submitting responses. For
	// navigation purposes it is a synonym of next.
	DirectionSkip Direction = "skip"
	DirectionJump Direction = "jump"
)

// Forward reports whether the direction moves toward the end of the test.
func (d Direction) Forward() bool {
	return d == DirectionNext || d == DirectionSkip || d == DirectionJump
}

// Scope is the navigation granularity.
type Scope string

const (
	ScopeItem     Scope = "item"
	ScopeSection  Scope = "section"
	ScopeTestPart Scope = "testPart"
)

// MoveParams is the typed payload of a "move" or "skip" action.
type MoveParams struct {
	Direction Direction `mapstructure:"direction" json:"direction"`
	Scope     Scope     `mapstructure:"scope" json:"scope"`
	// Ref is the flat position of the jump target for DirectionJump.
	Ref int `mapstructure:"ref" json:"ref"`
	// Start marks a move into an item that starts a new attempt.
	Start bool `mapstructure:"start" json:"start,omitempty"`
}

// SubmitParams is the typed payload of a "submitItem" action.
type SubmitParams struct {
	ItemIdentifier string         `mapstructure:"itemDefinition" json:"itemDefinition"`
	ItemState      map[string]any `mapstructure:"itemState" json:"itemState,omitempty"`
	ItemResponse   map[string]any `mapstructure:"itemResponse" json:"itemResponse,omitempty"`
}

// DecodeMoveParams decodes untyped action parameters into MoveParams.
func DecodeMoveParams(params map[string]any) (MoveParams, error) {
	var out MoveParams
	if err := decode(params, &out); err != nil {
		return out, fmt.Errorf("invalid move parameters: %w", err)
	}
	if out.Scope == "" {
		out.Scope = ScopeItem
	}
	return out, nil
}

// DecodeSubmitParams decodes untyped action parameters into SubmitParams.
func DecodeSubmitParams(params map[string]any) (SubmitParams, error) {
	var out SubmitParams
	if err := decode(params, &out); err != nil {
		return out, fmt.Errorf("invalid submit parameters: %w", err)
	}
	return out, nil
}

func decode(in map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true, // parameters round-trip through JSON
	})
	if err != nil {
		return err
	}
	return dec.Decode(in)
}
