package llm

import (
	"fmt"
	"strings"
)

const categories = "Politics, Economy, Society, World, Tech, Culture, Sports"

func numbered(lines []string) string {
	var b strings.Builder
	for i, line := range lines {
		fmt.Fprintf(&b, "- [%d] %s\n", i, strings.TrimSpace(line))
	}
	return b.String()
}

func topicLabelPrompt(titles []string) string {
	return fmt.Sprintf(`You are a media analyst. The %d headlines below were grouped as coverage of one news event.

Headlines:
%s
Return one JSON object with these fields:
- "topic_name": a specific, descriptive name for the event.
- "keywords": 3 to 5 short keywords.
- "category": one of %s.
- "stances": {"factual": [...], "critical": [...], "supportive": [...]} holding headline indices by the stance each headline takes.
- "outliers": indices of headlines that are not about the dominant event.

Indices are the numbers in brackets. Return JSON only.`, len(titles), numbered(titles), categories)
}

func megatopicLabelPrompt(names []string) string {
	return fmt.Sprintf(`You are a global news editor. The local topics below come from different countries and were grouped as one global story.

Local topics:
%s
Pick the single dominant global theme. Topics about a different theme are outliers.

Return one JSON object with these fields:
- "megatopic_name": a broad, neutral global headline for the dominant theme.
- "keywords": 3 to 5 global keywords.
- "category": one of %s.
- "outliers": indices of topics that do not belong to the dominant theme.

Indices are the numbers in brackets. Return JSON only.`, numbered(names), categories)
}

func translationPrompt(title, summary, sourceLang, targetLang string) string {
	source := sourceLang
	if strings.TrimSpace(source) == "" {
		source = "the detected language"
	}
	return fmt.Sprintf(`Translate this news item from %s to %s. Keep names of people, brands and organizations as they are.

Title: %s
Summary: %s

Return one JSON object: {"title": "...", "summary": "..."}. Leave "summary" empty when no summary is given. Return JSON only.`,
		source, targetLang, strings.TrimSpace(title), strings.TrimSpace(summary))
}
