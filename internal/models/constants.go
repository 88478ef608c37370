package models

const (
	ThinkTag        = `(?s)<think>.*?</think>`
	JSONFenceRegex  = "(?s)```(?:json)?\\s*(.*?)\\s*```"
	FollowUpPrefix  = "FOLLOW-UP:"
	ChatHistorySize = 12
)

var (
	// ExtractionPromptTemplate asks a model to split raw document text into rule records.
	ExtractionPromptTemplate = `<document name="%s">
%s
</document>
Extract every distinct tenancy rule from the document above. Return only a JSON array, one object per rule, with the keys
"title", "category", "key_rule", "expat_implication" and "risk_level".
"category" must be one of: %s.
"risk_level" must be one of: normal, caution, red flag.
"key_rule" states the rule in one sentence; "expat_implication" explains what it means in practice for a foreign tenant.
`

	// ChatSystemPrompt frames the assistant answering during a viewing.
	ChatSystemPrompt = `You are HomeVisit AI, a rental viewing assistant for people who do not speak the local language well.
Answer in %s. Be concise and practical. Only rely on the knowledge snippets below; if they do not cover the question, say so.
Point out anything marked "red flag" clearly.
After the answer, suggest up to two short follow-up questions, each on its own line starting with "FOLLOW-UP:".

Knowledge snippets:
%s`

	// TranslatePromptTemplate is used by the model-backed translator.
	TranslatePromptTemplate = `Translate the following text from %s to %s. Reply with the translation only.

%s`
)
