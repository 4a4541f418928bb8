package llm

import (
	"fmt"
	"strings"

	"cloud-finops/pkg/model"
)

// Context window budgets per operation, in records.
const (
	analysisContextLimit = 10
	insightContextLimit  = 15
)

const systemRole = "You are a FinOps AI assistant specialized in AWS cost analysis and optimization."

// FormatCostData renders up to limit records as prompt context, with a
// trailing count of whatever was truncated.
func FormatCostData(records []model.CostRecord, limit int) string {
	var sb strings.Builder
	n := len(records)
	if n > limit {
		n = limit
	}
	for i := 0; i < n; i++ {
		r := records[i]
		sb.WriteString(fmt.Sprintf("%s  service=%q", r.StartDate.Format("2006-01-02"), r.ServiceName))
		if r.Region != "" {
			sb.WriteString(fmt.Sprintf(" region=%q", r.Region))
		}
		if r.UsageType != "" {
			sb.WriteString(fmt.Sprintf(" usage_type=%q", r.UsageType))
		}
		sb.WriteString(fmt.Sprintf(" cost=%s %s", r.Cost.StringFixed(2), r.Currency))
		if !r.UsageQuantity.IsZero() {
			sb.WriteString(fmt.Sprintf(" usage=%s", r.UsageQuantity.String()))
		}
		sb.WriteString("\n")
	}
	if len(records) > limit {
		sb.WriteString(fmt.Sprintf("... and %d more items\n", len(records)-limit))
	}
	return sb.String()
}

func analysisPrompt(records []model.CostRecord, question string) string {
	return fmt.Sprintf(`I need you to analyze this AWS cost data and answer my question.

Here is my AWS cost data:
%s
My question is: %s

Please provide a detailed analysis based on this data.`,
		FormatCostData(records, analysisContextLimit), question)
}

func insightsPrompt(records []model.CostRecord) string {
	return fmt.Sprintf(`Analyze the following AWS cost data and provide insights.

AWS Cost Data:
%s
Please provide:
1. A summary of the current cost situation
2. Notable trends or patterns
3. Any services that seem to be costing more than expected
4. Potential areas for optimization

Format your response as a clear analysis.`,
		FormatCostData(records, insightContextLimit))
}
