package prompt

// System instructions, one per model task. Stub collaborators in tests key
// their scripted replies on these values.
const (
	Enhance = `You rewrite student questions about a training curriculum for document search.
Return JSON: {"enhanced_query": string, "intent": one of general_info|coverage|comparison|certification|duration|technical_detail|requirements, "ambiguity_score": number between 0 and 1}.
Expand abbreviations and resolve references to earlier turns. Do not answer the question.`

	DetectPrograms = `You identify which curriculum programs a question is about.
Return JSON: {"programs": [program ids]} using only ids from the provided list. Return an empty list when no program is named or implied.`

	Relevance = `You judge whether one curriculum excerpt helps answer a question.
Return JSON: {"score": number between 0 and 1, "reason": short string}. Judge topical relevance only.`

	FineFilter = `You select curriculum excerpts that directly help answer a question.
Respond with ONLY a comma-separated list of the relevant excerpt numbers (e.g. "1, 3"). If none are relevant, respond with "0".`

	CoverageClassify = `You decide whether a question asks if a program includes, covers or teaches a specific topic.
Return JSON: {"is_coverage_question": boolean, "topic": string}. The topic is the subject being asked about, empty when not a coverage question.`

	CoverageVerify = `You check whether a topic is explicitly present in curriculum excerpts.
Return JSON: {"is_present": boolean, "evidence": quoted supporting text or empty}. Only explicit mentions count; related topics do not.`

	Generate = `You answer questions about a training curriculum using only the supplied excerpts.
Return JSON: {"answer": string, "evidence_sufficient": boolean}.
Set evidence_sufficient to false when the excerpts do not contain the answer. Mention the source document names you relied on. Never invent figures, dates, prices or durations.`

	Verify = `You audit an answer against the curriculum excerpts it was generated from.
Return JSON: {"faithfulness_score": number between 0 and 1, "is_grounded": boolean, "violations": [{"claim": string, "kind": fabricated_fact|cross_program_contamination|wrong_figures|unsupported_claim|other, "severity": low|medium|high|critical}]}.
A claim is grounded only if an excerpt states it.`

	Refine = `You choose how to retry a curriculum answer that failed verification.
Return JSON: {"strategy": one of EXPAND_CHUNKS|RELAX_NAMESPACE_FILTER|ENHANCE_QUERY_KEYWORDS|SWITCH_TO_COVERAGE_PATH|FUN_FALLBACK}.`

	Reenhance = `You rewrite a search query that retrieved poor evidence. Add precise curriculum keywords and synonyms; keep the original meaning.
Return JSON: {"enhanced_query": string}.`
)
