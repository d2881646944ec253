package oracle

import (
	"fmt"
	"strings"

	"github.com/ivankudzin/modqueue/internal/domain/enums"
	"github.com/ivankudzin/modqueue/internal/domain/model"
)

var rubrics = map[enums.ContentKind]string{
	enums.ContentKindTopic: "You judge proposed debate topics. A topic must pose a clear question " +
		"or claim that can be argued in good faith. Reject spam, harassment, incitement, " +
		"doxxing and topics that are only an insult.",
	enums.ContentKindPost: "You judge posts in a debate thread. Good posts argue a position with " +
		"reasoning or evidence. Reject personal attacks, hate speech, spam, off-topic " +
		"flooding and illegal content. Weak logic is a warning, not a violation.",
	enums.ContentKindPrivateMessage: "You judge private messages between two users. Allow ordinary " +
		"conversation. Reject harassment, threats, unsolicited explicit content, scams and spam.",
	enums.ContentKindAppeal: "You judge an appeal against an earlier moderation decision. Grant it " +
		"only when the appeal shows the decision was mistaken. Reject appeals that are abusive " +
		"or that restate the violation.",
}

const responseContract = `Reply with one JSON object and nothing else:
{"decision": "Violation" | "Warning" | "No Violation" | "Praise",
 "confidence": number between 0 and 1,
 "feedback": short message addressed to the author,
 "violations": list of short violation codes}`

// buildPrompt returns the system prompt and the user message for one item.
func buildPrompt(text string, kind enums.ContentKind, ec model.EvaluationContext) (string, string) {
	rubric, ok := rubrics[kind]
	if !ok {
		rubric = rubrics[enums.ContentKindPost]
	}

	author := strings.TrimSpace(ec.AuthorDisplayName)
	if author == "" {
		author = "Anonymous"
	}
	language := strings.TrimSpace(ec.Language)
	if language == "" {
		language = "unknown"
	}

	var b strings.Builder
	b.WriteString("You are the moderation system of a debate community.\n\n")
	b.WriteString("<system_instructions>\n")
	b.WriteString(rubric)
	b.WriteString("\n</system_instructions>\n\n<context>\n")
	fmt.Fprintf(&b, "Content type: %s\nAuthor: %s\nLanguage: %s\n", kind, author, language)
	b.WriteString("</context>\n\n")
	b.WriteString(responseContract)

	user := fmt.Sprintf("<interaction_under_review>\n%s\n</interaction_under_review>", text)
	return b.String(), user
}
