// Package analysis turns a natural-language question into a single SQL
// query against the cost schema, executes it read-only, and summarizes
// the rows back into prose.
package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"cloud-finops/internal/llm"
)

// maxSummaryRows caps how many result rows feed the summary prompt.
const maxSummaryRows = 50

// schemaDescription is embedded in the translation prompt so the model
// writes queries against real tables.
const schemaDescription = `Schema finops:
  finops.cost_data(id, account_id, service_name, region, usage_type, resource_id, cost NUMERIC, usage_quantity NUMERIC, start_date TIMESTAMP, end_date TIMESTAMP, date_range_type, currency, created_at)
  finops.cost_forecasts(id, account_id, service_name, forecast_date DATE, forecasted_cost NUMERIC, confidence_level, model_version, created_at)
  finops.cost_recommendations(id, account_id, resource_id, service_name, recommendation_type, description, potential_savings NUMERIC, status, created_at, updated_at)`

// Store is the read-only slice of the persistence layer the chain uses.
type Store interface {
	RunSelect(ctx context.Context, query string) ([]string, []map[string]any, error)
}

// Result carries everything a caller needs to render an answer,
// including the generated query for transparency.
type Result struct {
	Question string           `json:"question"`
	Query    string           `json:"query"`
	Columns  []string         `json:"columns"`
	Rows     []map[string]any `json:"rows"`
	Summary  string           `json:"summary"`
	// TokensUsed accumulates backend token usage across the chain's
	// calls, zero when the backend does not report usage.
	TokensUsed int `json:"tokens_used,omitempty"`
	// Empty reports that translation or execution failed and the
	// result carries no data. Summary then holds the reason.
	Empty bool `json:"empty"`
}

// Chain wires a backend to the store for question answering.
type Chain struct {
	store  Store
	logger zerolog.Logger
}

// NewChain creates an analysis chain over the given store.
func NewChain(store Store, logger zerolog.Logger) *Chain {
	return &Chain{
		store:  store,
		logger: logger.With().Str("component", "analysis").Logger(),
	}
}

// Ask translates the question to SQL, runs it, and summarizes the rows.
// Translation and execution failures degrade to an empty result rather
// than an error so the caller can always render something.
func (c *Chain) Ask(ctx context.Context, backend llm.Backend, question string) (*Result, error) {
	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("question must not be empty")
	}

	tokens := 0
	query, used, err := c.translate(ctx, backend, question)
	tokens += used
	if err != nil {
		c.logger.Warn().Err(err).Msg("question translation failed")
		return &Result{Question: question, Empty: true, Summary: err.Error()}, nil
	}

	if err := checkReadOnly(query); err != nil {
		c.logger.Warn().Str("query", query).Err(err).Msg("rejected generated query")
		return &Result{Question: question, Query: query, Empty: true, Summary: err.Error()}, nil
	}

	cols, rows, err := c.store.RunSelect(ctx, query)
	if err != nil {
		c.logger.Warn().Str("query", query).Err(err).Msg("generated query failed")
		return &Result{Question: question, Query: query, Empty: true, Summary: fmt.Sprintf("query failed: %v", err)}, nil
	}

	summary, used, err := c.summarize(ctx, backend, question, cols, rows)
	tokens += used
	if err != nil {
		// Rows are still useful without a narrative.
		summary = fmt.Sprintf("summary unavailable: %v", err)
	}

	return &Result{
		Question:   question,
		Query:      query,
		Columns:    cols,
		Rows:       rows,
		Summary:    summary,
		TokensUsed: tokens,
	}, nil
}

// generate runs one backend call, picking up token usage when the
// backend reports it.
func generate(ctx context.Context, backend llm.Backend, prompt string, maxTokens int) (string, int, error) {
	if ua, ok := backend.(llm.UsageAware); ok {
		return ua.GenerateWithUsage(ctx, prompt, maxTokens)
	}
	text, err := backend.Generate(ctx, prompt, maxTokens)
	return text, 0, err
}

func (c *Chain) translate(ctx context.Context, backend llm.Backend, question string) (string, int, error) {
	prompt := fmt.Sprintf(`You are a PostgreSQL expert. Write ONE SELECT statement that answers the question using this schema.

%s

Question: %s

Rules:
- Respond with the SQL statement only, no explanation and no markdown.
- SELECT statements only.
- Always include a LIMIT of at most 100.`, schemaDescription, question)

	raw, used, err := generate(ctx, backend, prompt, 500)
	if err != nil {
		return "", used, err
	}
	return cleanQuery(raw), used, nil
}

func (c *Chain) summarize(ctx context.Context, backend llm.Backend, question string, cols []string, rows []map[string]any) (string, int, error) {
	if len(rows) == 0 {
		return "The query returned no rows for this question.", 0, nil
	}

	sample := rows
	if len(sample) > maxSummaryRows {
		sample = sample[:maxSummaryRows]
	}
	encoded, err := json.Marshal(sample)
	if err != nil {
		return "", 0, fmt.Errorf("failed to encode result rows: %w", err)
	}

	prompt := fmt.Sprintf(`Summarize the following query result in two or three sentences for a FinOps analyst. Mention concrete figures.

Question: %s
Columns: %s
Rows (%d of %d shown): %s`,
		question, strings.Join(cols, ", "), len(sample), len(rows), encoded)

	return generate(ctx, backend, prompt, 500)
}

// cleanQuery strips markdown fences and trailing semicolons from the
// model output.
func cleanQuery(raw string) string {
	text := strings.TrimSpace(raw)
	if start := strings.Index(text, "```"); start != -1 {
		text = text[start:]
		text = strings.TrimPrefix(text, "```sql")
		text = strings.TrimPrefix(text, "```")
		if end := strings.Index(text, "```"); end != -1 {
			text = text[:end]
		}
	}
	text = strings.TrimSpace(text)
	return strings.TrimSuffix(text, ";")
}

// checkReadOnly rejects anything that is not a plain SELECT. The model
// output is untrusted input.
func checkReadOnly(query string) error {
	trimmed := strings.TrimSpace(strings.ToLower(query))
	if trimmed == "" {
		return fmt.Errorf("model produced no query")
	}
	if !strings.HasPrefix(trimmed, "select") && !strings.HasPrefix(trimmed, "with") {
		return fmt.Errorf("generated query is not a SELECT statement")
	}
	for _, kw := range []string{"insert ", "update ", "delete ", "drop ", "alter ", "truncate ", "create ", "grant ", "revoke "} {
		if strings.Contains(trimmed, kw) {
			return fmt.Errorf("generated query contains forbidden keyword %q", strings.TrimSpace(kw))
		}
	}
	if strings.Contains(trimmed, ";") {
		return fmt.Errorf("generated query must be a single statement")
	}
	return nil
}
