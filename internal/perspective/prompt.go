// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package perspective

import "text/template"

// perspectivesPromptTmpl asks the model for distinct expert viewpoints on a
// topic, each with a few literature search queries.
var perspectivesPromptTmpl = template.Must(template.New("perspectives").Parse(`You are planning a literature review. Propose {{.Count}} distinct expert perspectives from which to research the topic below. Each perspective should lead to different papers than the others (for example clinical, mechanistic, epidemiological, methodological, economic, or ethical angles, whichever fit the topic).

For each perspective give:
- name: a short label (2-5 words)
- description: one sentence on what this perspective focuses on
- queries: 2 or 3 concise search queries suitable for PubMed, arXiv, or Semantic Scholar

Respond with a JSON object containing a "perspectives" array and nothing else.

Example response:
{"perspectives": [{"name": "Clinical outcomes", "description": "Effects observed in human trials.", "queries": ["metformin aging randomized trial", "metformin mortality older adults"]}]}

Topic: {{.Topic}}
{{- if .Answers}}

The researcher clarified:
{{- range .Answers}}
- {{.}}
{{- end}}
{{- end}}
`))

// clarifyPromptTmpl asks the model for questions that narrow the topic.
var clarifyPromptTmpl = template.Must(template.New("clarify").Parse(`A researcher wants a literature review on the topic below. Ask between 2 and 4 short questions whose answers would most narrow the search (population, time frame, outcome of interest, study types).

Respond with a JSON object of the form {"questions": ["...", "..."]} and nothing else.

Topic: {{.Topic}}
`))
