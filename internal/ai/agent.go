package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"equipment-ledger/internal/core"

	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/responses"
	"github.com/openai/openai-go/shared"
	"github.com/openai/openai-go/shared/constant"
)

// ErrDisabled is returned when the assistant has no API key configured.
var ErrDisabled = errors.New("movement assistant is disabled: OPENAI_API_KEY is not set")

// AgentService turns free-text movement descriptions into proposals.
type AgentService interface {
	InterpretMovement(ctx context.Context, naturalLanguage string, catalog string) (*core.MovementProposal, error)
}

type Agent struct {
	client *openai.Client
	model  string
}

// NewAgent returns an agent using model. An empty apiKey yields an agent whose
// calls fail with ErrDisabled.
func NewAgent(apiKey, model string) *Agent {
	if apiKey == "" {
		return &Agent{model: model}
	}
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &Agent{client: &client, model: model}
}

func (a *Agent) InterpretMovement(ctx context.Context, naturalLanguage string, catalog string) (*core.MovementProposal, error) {
	if a.client == nil {
		return nil, ErrDisabled
	}

	schemaMap, err := proposalSchema()
	if err != nil {
		return nil, err
	}

	params := responses.ResponseNewParams{
		Model: shared.ResponsesModel(a.model),
		Input: responses.ResponseNewParamsInputUnion{
			OfString: param.NewOpt(buildPrompt(naturalLanguage, catalog)),
		},
		Text: responses.ResponseTextConfigParam{
			Format: responses.ResponseFormatTextConfigUnionParam{
				OfJSONSchema: &responses.ResponseFormatTextJSONSchemaConfigParam{
					Type:        constant.JSONSchema("json_schema"),
					Name:        "movement_proposal",
					Strict:      param.NewOpt(true),
					Schema:      schemaMap,
					Description: param.NewOpt("A proposed equipment movement for the inventory ledger"),
				},
			},
		},
	}

	resp, err := a.client.Responses.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai responses error: %w", err)
	}

	return parseProposal(resp.OutputText())
}

func buildPrompt(naturalLanguage, catalog string) string {
	return fmt.Sprintf(`You are a military logistics clerk maintaining an equipment ledger.
Interpret the event below as exactly one movement:
- ACQUISITION: equipment purchased or received from a supplier at a location.
- RELOCATION: equipment moved from one location to another.
- ISSUANCE: equipment handed to a service member (identify them by service number).
- CONSUMPTION: equipment used up, destroyed or expended.
Rules:
1. Use ONLY equipment kind and location names from the catalog below.
2. Quantities and costs are exact decimal strings (e.g. "20", "1500.00").
3. Leave fields that do not apply to the action as empty strings.
4. If the event is ambiguous or names something not in the catalog, set clarification_needed
   and ask one short question in clarification_message.
5. Provide a confidence score (0.0-1.0) and explain your reasoning.

Catalog:
%s

Event: %s`, catalog, naturalLanguage)
}

func parseProposal(content string) (*core.MovementProposal, error) {
	if content == "" {
		return nil, fmt.Errorf("empty response content")
	}

	var proposal core.MovementProposal
	if err := json.Unmarshal([]byte(content), &proposal); err != nil {
		return nil, fmt.Errorf("failed to parse completion: %w", err)
	}

	proposal.Normalize()
	if err := proposal.Validate(); err != nil {
		return nil, fmt.Errorf("proposal validation failed: %w", err)
	}
	return &proposal, nil
}

// proposalSchema reflects MovementProposal into the map form the Responses API expects.
func proposalSchema() (map[string]any, error) {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	schemaJSON, err := json.Marshal(reflector.Reflect(core.MovementProposal{}))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	var schemaMap map[string]any
	if err := json.Unmarshal(schemaJSON, &schemaMap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal schema to map: %w", err)
	}
	return schemaMap, nil
}
