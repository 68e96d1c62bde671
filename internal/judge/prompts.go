package judge

import (
	"fmt"
	"strings"

	"github.com/ricesearch/rice-eval/internal/corpus"
	"github.com/ricesearch/rice-eval/internal/reasoning"
)

const levelAnchors = `0 means the article has absolutely no relevance for the query.
1 means the article is only very slightly relevant to the query, sharing at most a similar topic.
2 means the article is relevant to the query and shares many similarities, but is still not entirely relevant.
3 means the article is completely relevant to the query.`

const workedExample = `Read the following article, named 'Increased lifespan on athletes', with the following content:
Sports practicing has been shown to increase lifespan and health.
%s: Positive health impacts on volleyball practice.
Response: %d`

var booleanSystemPrompt = `You are an assistant specialized in judging articles against a search query.
Decide whether the article is at least slightly relevant to the query. Being in the same field is enough to count as relevant.
Return only the number 1 or 0, where 1 means relevant and 0 means not relevant. For example:
` + fmt.Sprintf(workedExample, "Evaluate if the article is relevant to the following query", 1)

var gradedSystemPrompt = `You are an assistant specialized in judging articles against a search query.
Rate how relevant the article is to the query. Return only one of the integers 0, 1, 2, or 3.
` + levelAnchors + `
For example:
` + fmt.Sprintf(workedExample, "Evaluate how relevant the article is to the following query", 2)

func describeArticle(doc corpus.Document) string {
	if strings.TrimSpace(doc.Title) == "" {
		return fmt.Sprintf("Read the following article, with the following content:\n%s\n", doc.Body)
	}
	return fmt.Sprintf("Read the following article, named '%s', with the following content:\n%s\n", doc.Title, doc.Body)
}

func booleanMessages(query string, doc corpus.Document) []reasoning.Message {
	return []reasoning.Message{
		reasoning.System(booleanSystemPrompt),
		reasoning.User(describeArticle(doc) +
			"Evaluate if the article is relevant to the following query, and don't be strict about your classification: " + query),
	}
}

func initialMessages(query string, doc corpus.Document) []reasoning.Message {
	return []reasoning.Message{
		reasoning.System(gradedSystemPrompt),
		reasoning.User(describeArticle(doc) + "Evaluate how relevant the article is to the following query: " + query),
	}
}

func feedbackMessages(query string, doc corpus.Document, initial string) []reasoning.Message {
	var b strings.Builder
	b.WriteString("You are an assistant specialized in re-evaluating relevance judgments. ")
	b.WriteString("Review the classification a previous assistant gave to an article for a search query. The relevance levels are:\n")
	b.WriteString(levelAnchors)
	b.WriteString("\n")
	if strings.TrimSpace(doc.Title) != "" {
		fmt.Fprintf(&b, "The article, titled '%s', has the following content:\n%s\n", doc.Title, doc.Body)
	} else {
		fmt.Fprintf(&b, "The article has the following content:\n%s\n", doc.Body)
	}
	fmt.Fprintf(&b, "The query is: %s\n", query)
	fmt.Fprintf(&b, "The previous evaluation is: %s\n", initial)
	b.WriteString("Do you agree with the previous evaluation? ")
	b.WriteString("Try to avoid extreme answers like 0 or 3 unless you are sure that is the case. ")
	b.WriteString("Answer with this JSON structure, where 'explanation' is your reasoning and 'eval' is your evaluation:\n")
	b.WriteString(`{"explanation": "your explanation", "eval": "your evaluation, exactly 0, 1, 2, or 3"}`)

	return []reasoning.Message{reasoning.User(b.String())}
}
