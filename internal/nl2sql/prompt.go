package nl2sql

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

const systemTemplate = `You are a {dialect} expert. Given an input question, first create a syntactically correct {dialect} query to run, then look at the results of the query and return the answer to the input question.
Unless the user specifies in the question a specific number of examples to obtain, query for at most {top_k} results using the LIMIT clause as per {dialect}. You can order the results to return the most informative data in the database.
Never query for all columns from a table. You must query only the columns that are needed to answer the question. Wrap each column name in double quotes to denote them as delimited identifiers.
Pay attention to use only the column names you can see in the tables below. Be careful to not query for columns that do not exist. Also, pay attention to which column is in which table.

Use the following format:

Question: Question here
SQLQuery: SQL Query to run
SQLResult: Result of the SQLQuery
Answer: Final answer here

Only use the following tables:
{table_info}`

const maxHistoryMessages = 10

// PromptBuilder renders the chat messages sent to the model for one
// question.
type PromptBuilder struct {
	template prompt.ChatTemplate
}

func NewPromptBuilder() *PromptBuilder {
	return &PromptBuilder{
		template: prompt.FromMessages(
			schema.FString,
			schema.SystemMessage(systemTemplate),
			schema.MessagesPlaceholder("history", true),
			schema.UserMessage("Question: {question}"),
		),
	}
}

func (b *PromptBuilder) Build(ctx context.Context, req Request) ([]*schema.Message, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, fmt.Errorf("question is required")
	}
	dialect := strings.TrimSpace(req.Dialect)
	if dialect == "" {
		dialect = "SQL"
	}
	topK := req.TopK
	if topK <= 0 {
		topK = 5
	}

	messages, err := b.template.Format(ctx, map[string]any{
		"dialect":    dialect,
		"top_k":      topK,
		"table_info": renderTableInfo(req.Tables),
		"history":    historyMessages(req.History),
		"question":   question,
	})
	if err != nil {
		return nil, fmt.Errorf("format prompt: %w", err)
	}
	return messages, nil
}

func historyMessages(history []HistoryMessage) []*schema.Message {
	if len(history) > maxHistoryMessages {
		history = history[len(history)-maxHistoryMessages:]
	}
	out := make([]*schema.Message, 0, len(history))
	for _, msg := range history {
		content := strings.TrimSpace(msg.Content)
		if content == "" {
			continue
		}
		switch msg.Role {
		case "user":
			out = append(out, schema.UserMessage(content))
		case "assistant":
			out = append(out, schema.AssistantMessage(content, nil))
		}
	}
	return out
}

func renderTableInfo(tables []TableContext) string {
	if len(tables) == 0 {
		return "(no tables found)"
	}
	var b strings.Builder
	for i, table := range tables {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "Table: %s", table.TableName)
		if len(table.Columns) > 0 {
			fmt.Fprintf(&b, "\nColumns: %s", strings.Join(table.Columns, ", "))
		}
		if len(table.SampleRows) > 0 {
			fmt.Fprintf(&b, "\n/*\n%d rows from %s table:", len(table.SampleRows), table.TableName)
			if len(table.Columns) > 0 {
				b.WriteString("\n" + strings.Join(table.Columns, "\t"))
			}
			for _, row := range table.SampleRows {
				cells := make([]string, len(row))
				for j, value := range row {
					cells[j] = fmt.Sprint(value)
				}
				b.WriteString("\n" + strings.Join(cells, "\t"))
			}
			b.WriteString("\n*/")
		}
	}
	return b.String()
}
