package core

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Proposal actions, one per movement workflow.
const (
	ActionAcquisition = "ACQUISITION"
	ActionRelocation  = "RELOCATION"
	ActionIssuance    = "ISSUANCE"
	ActionConsumption = "CONSUMPTION"
)

// MovementProposal is the assistant's structured reading of a free-text movement
// description. Names are resolved against the catalog only when the proposal is
// executed. Quantities and costs are strings so the model can't lose precision.
type MovementProposal struct {
	Action                 string  `json:"action" jsonschema:"enum=ACQUISITION,enum=RELOCATION,enum=ISSUANCE,enum=CONSUMPTION"`
	EquipmentKind          string  `json:"equipment_kind" jsonschema_description:"Equipment kind name exactly as listed in the catalog"`
	Location               string  `json:"location" jsonschema_description:"Location of the movement; the source for a relocation"`
	DestinationLocation    string  `json:"destination_location" jsonschema_description:"Destination for a relocation, empty otherwise"`
	Quantity               string  `json:"quantity" jsonschema_description:"Decimal quantity, e.g. \"20\" or \"12.50\""`
	Supplier               string  `json:"supplier"`
	ReferenceNumber        string  `json:"reference_number"`
	Cost                   string  `json:"cost" jsonschema_description:"Total cost for an acquisition, \"0\" when unknown"`
	Reason                 string  `json:"reason" jsonschema_description:"Why equipment was expended"`
	RecipientServiceNumber string  `json:"recipient_service_number"`
	Confidence             float64 `json:"confidence"`
	Reasoning              string  `json:"reasoning"`
	ClarificationNeeded    bool    `json:"clarification_needed"`
	ClarificationMessage   string  `json:"clarification_message"`
}

// Normalize cleans up model output: whitespace, casing and "null" placeholders.
func (p *MovementProposal) Normalize() {
	p.Action = strings.ToUpper(strings.TrimSpace(p.Action))
	p.EquipmentKind = strings.TrimSpace(p.EquipmentKind)
	p.Location = strings.TrimSpace(p.Location)
	p.DestinationLocation = strings.TrimSpace(p.DestinationLocation)
	p.Supplier = strings.TrimSpace(p.Supplier)
	p.ReferenceNumber = strings.TrimSpace(p.ReferenceNumber)
	p.Reason = strings.TrimSpace(p.Reason)
	p.RecipientServiceNumber = strings.TrimSpace(p.RecipientServiceNumber)
	p.ClarificationMessage = strings.TrimSpace(p.ClarificationMessage)

	p.Quantity = normalizeNumber(p.Quantity)
	p.Cost = normalizeNumber(p.Cost)
}

func normalizeNumber(s string) string {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" || strings.EqualFold(s, "null") {
		return "0"
	}
	return s
}

// Validate checks the proposal can be handed to a workflow. A clarification
// request only needs its message.
func (p *MovementProposal) Validate() error {
	if p.Confidence < 0 || p.Confidence > 1 {
		return fmt.Errorf("confidence must be between 0 and 1, got %v", p.Confidence)
	}
	if p.ClarificationNeeded {
		if p.ClarificationMessage == "" {
			return errors.New("clarification requested without a message")
		}
		return nil
	}

	switch p.Action {
	case ActionAcquisition, ActionRelocation, ActionIssuance, ActionConsumption:
	default:
		return fmt.Errorf("unknown action %q", p.Action)
	}
	if p.EquipmentKind == "" {
		return errors.New("proposal must name an equipment kind")
	}
	if p.Location == "" {
		return errors.New("proposal must name a location")
	}

	qty, err := p.QuantityDecimal()
	if err != nil {
		return err
	}
	if err := ValidateQuantity(qty); err != nil {
		return err
	}

	switch p.Action {
	case ActionAcquisition:
		if p.ReferenceNumber == "" {
			return errors.New("acquisition requires a reference number")
		}
		cost, err := decimal.NewFromString(p.Cost)
		if err != nil {
			return fmt.Errorf("invalid cost %q: %v", p.Cost, err)
		}
		if err := validateAmount("cost", cost); err != nil {
			return err
		}
	case ActionRelocation:
		if p.ReferenceNumber == "" {
			return errors.New("relocation requires a reference number")
		}
		if p.DestinationLocation == "" {
			return errors.New("relocation requires a destination location")
		}
		if strings.EqualFold(p.DestinationLocation, p.Location) {
			return newError(KindInvalidTransfer, "source and destination are both %q", p.Location)
		}
	case ActionIssuance:
		if p.RecipientServiceNumber == "" {
			return errors.New("issuance requires the recipient's service number")
		}
	case ActionConsumption:
		if p.ReferenceNumber == "" {
			return errors.New("consumption requires a reference number")
		}
		if p.Reason == "" {
			return errors.New("consumption requires a reason")
		}
	}
	return nil
}

// QuantityDecimal parses Quantity.
func (p *MovementProposal) QuantityDecimal() (decimal.Decimal, error) {
	q, err := decimal.NewFromString(p.Quantity)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid quantity %q: %v", p.Quantity, err)
	}
	return q, nil
}

// CostDecimal parses Cost. Normalize maps an empty cost to "0".
func (p *MovementProposal) CostDecimal() (decimal.Decimal, error) {
	c, err := decimal.NewFromString(p.Cost)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid cost %q: %v", p.Cost, err)
	}
	return c, nil
}
