package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

const extractionPromptTemplate = `You extract self-contained factual statements from content for a long-term memory system.

Reference time: %s
Context: %s

Content:
%s

Return ONLY a JSON object of this shape:
{
  "facts": [
    {
      "text": "complete standalone sentence stating the fact",
      "fact_type": "world" | "bank" | "opinion",
      "confidence_score": 0.0-1.0 (only for opinions),
      "occurred_start": "RFC3339 timestamp or null",
      "occurred_end": "RFC3339 timestamp or null",
      "entities": [{"name": "Alice", "type": "PERSON|ORG|LOCATION|PRODUCT|CONCEPT|OTHER"}]
    }
  ],
  "causal_relations": [
    {"src_index": 0, "dst_index": 1, "kind": "causes|caused_by|enables|prevents"}
  ]
}

Rules:
- Each fact must read naturally on its own, with subject and verb.
- "world" covers the world and other people; "bank" covers interactions with the assistant; "opinion" covers held beliefs with a confidence.
- Only include occurred dates for facts tied to a specific datable event.
- Only include proper-noun entities worth tracking; never pronouns or generic roles.
- causal_relations link facts within this response by array index.`

const disambiguationPromptTemplate = `A memory system is resolving the mention %q found in this fact:
%q

Existing candidate entities:
%s
Reply with ONLY the id of the matching candidate, or the word NEW if none match.`

const observationPromptTemplate = `Summarise what is known about the entity %q (%s) from these facts:

%s

Return ONLY a JSON array of 3 to 5 concise, objective, third-person statements about the entity. No speculation, no personality.`

// jsonBlockRe pulls a JSON payload out of replies that wrap it in code fences
// or prose.
var jsonBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

func extractJSONPayload(reply string) string {
	if m := jsonBlockRe.FindStringSubmatch(reply); m != nil {
		return strings.TrimSpace(m[1])
	}
	reply = strings.TrimSpace(reply)
	if start := strings.IndexAny(reply, "{["); start >= 0 {
		return reply[start:]
	}
	return reply
}

func parseExtraction(reply string) (*Extraction, error) {
	var extraction Extraction
	if err := json.Unmarshal([]byte(extractJSONPayload(reply)), &extraction); err != nil {
		return nil, fmt.Errorf("parse extraction reply: %w", err)
	}
	extraction.Validate()
	return &extraction, nil
}

func parseObservations(reply string) ([]string, error) {
	var statements []string
	if err := json.Unmarshal([]byte(extractJSONPayload(reply)), &statements); err != nil {
		return nil, fmt.Errorf("parse observations reply: %w", err)
	}
	return clampObservations(statements), nil
}

// parseResolution maps a disambiguation reply onto a candidate id.
func parseResolution(reply string, candidates []DisambiguationCandidate) string {
	answer := strings.TrimSpace(reply)
	if strings.EqualFold(answer, "NEW") || answer == "" {
		return ""
	}
	for _, c := range candidates {
		if strings.Contains(answer, c.ID) {
			return c.ID
		}
	}
	return ""
}
