// Package toolconv converts the runtime's vendor-neutral ToolSchema into the
// wire shape a specific provider needs. Bedrock is the one vendor whose tool
// configuration genuinely requires the AWS SDK's document.Document type
// rather than plain JSON, so it keeps its own converter here; the other
// providers serialize ToolSchema directly since they speak raw HTTP.
package toolconv

import (
	"encoding/json"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/haasonsaas/operon/pkg/models"
)

// ToBedrockTools converts tool schemas to a Bedrock ToolConfiguration.
func ToBedrockTools(tools []models.ToolSchema) *types.ToolConfiguration {
	if len(tools) == 0 {
		return nil
	}
	bedrockTools := make([]types.Tool, len(tools))

	for i, tool := range tools {
		var schema any
		if err := json.Unmarshal(tool.InputSchema, &schema); err != nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}

		bedrockTools[i] = &types.ToolMemberToolSpec{
			Value: types.ToolSpecification{
				Name:        aws.String(tool.Name),
				Description: aws.String(tool.Description),
				InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schema)},
			},
		}
	}

	return &types.ToolConfiguration{Tools: bedrockTools}
}
