// Package prompt renders the system and user prompts shared by every LLM
// adapter and by the hop judge.
package prompt

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kirillkom/rules-qa/internal/core/domain"
)

const (
	ProfileDefault = "default"
	ProfileTerse   = "terse"
)

const answerRules = `Rules for every answer:
- Answer only from the rule passages provided in the user message.
- Every quote_text must be copied verbatim from a single passage. Do not paraphrase, shorten or merge quotes.
- The chunk_id of each quote must equal the short id of the cited passage, written as the 8 hex characters inside [CHUNK_<id>], without the CHUNK_ prefix.
- If the message is greeting or small talk, set smalltalk to true and return an empty quotes array.
- Respond with a single JSON object that conforms to the provided schema. No markdown, no extra keys.`

var personas = map[string]string{
	ProfileDefault: `You are a seasoned tournament judge for a skirmish tabletop wargame.
You explain rules precisely and cite the official text for every claim.
persona_short_answer and persona_afterword are written in character as a gruff but fair veteran judge.

` + answerRules,
	ProfileTerse: `You are a rules reference assistant for a skirmish tabletop wargame.
Keep short_answer to one sentence and explanation to at most three sentences.
persona_short_answer repeats short_answer; persona_afterword is an empty string.

` + answerRules,
}

// Profiles lists the available persona profiles.
func Profiles() []string {
	out := make([]string, 0, len(personas))
	for name := range personas {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// SystemPrompt returns the answer system prompt for a persona profile.
// Unknown profiles fall back to the default one.
func SystemPrompt(profile string) string {
	if p, ok := personas[strings.TrimSpace(profile)]; ok {
		return p
	}
	return personas[ProfileDefault]
}

// SystemFor resolves the system prompt an adapter sends. Only the default
// answer schema gets the answer prompt injected; every other schema uses the
// caller's prompt verbatim, which may be empty.
func SystemFor(cfg domain.GenerationConfig) string {
	if cfg.SystemPrompt != "" || cfg.Schema() != domain.SchemaDefault {
		return cfg.SystemPrompt
	}
	return SystemPrompt(ProfileDefault)
}

// ChunkTag is the prefix that introduces a chunk in the user prompt.
func ChunkTag(shortID string) string {
	return "[CHUNK_" + shortID + "]:"
}

// UserPrompt renders the query followed by the context passages. Passages are
// tagged with their short ids when ChunkIDs is aligned with Context and
// numbered otherwise.
func UserPrompt(req domain.GenerateRequest) string {
	if len(req.Context) == 0 {
		return req.Prompt
	}
	tagged := len(req.ChunkIDs) == len(req.Context)

	var b strings.Builder
	b.WriteString("Question:\n")
	b.WriteString(strings.TrimSpace(req.Prompt))
	b.WriteString("\n\n")
	if tagged {
		b.WriteString("Rule passages. Cite a passage by putting its short id (the 8 characters after CHUNK_) in the chunk_id field of the quote.\n\n")
	} else {
		b.WriteString("Rule passages:\n\n")
	}
	for i, text := range req.Context {
		if tagged {
			b.WriteString(ChunkTag(req.ChunkIDs[i]))
		} else {
			fmt.Fprintf(&b, "[Context %d]:", i+1)
		}
		b.WriteString("\n")
		b.WriteString(strings.TrimSpace(text))
		b.WriteString("\n\n")
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

const HopJudgeSystemPrompt = `You decide whether retrieved rule passages are sufficient to answer a rules question for a skirmish tabletop wargame.
Set can_answer to true when the passages contain every rule and profile value needed.
Otherwise set can_answer to false and put one focused search query for the missing information in missing_query.
Set missing_query to null when nothing is missing or nothing more could help.
Respond with a single JSON object that conforms to the provided schema.`

// HopJudgePrompt renders the judge user prompt. The faction catalogue section
// is present only when teams is non-empty.
func HopJudgePrompt(query string, chunks []domain.DocumentChunk, teams []domain.Team) string {
	var b strings.Builder
	b.WriteString("Question:\n")
	b.WriteString(strings.TrimSpace(query))
	b.WriteString("\n\nRetrieved passages so far:\n\n")
	if len(chunks) == 0 {
		b.WriteString("(none)\n\n")
	}
	for _, c := range chunks {
		b.WriteString(ChunkTag(c.ShortID))
		if c.Header != "" {
			b.WriteString(" ")
			b.WriteString(c.Header)
		}
		b.WriteString("\n")
		b.WriteString(strings.TrimSpace(c.Text))
		b.WriteString("\n\n")
	}
	if len(teams) > 0 {
		b.WriteString("Faction catalogue for the teams mentioned in the question:\n\n")
		for _, team := range teams {
			writeTeam(&b, team)
		}
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

// TeamHeading is the line that opens a team's catalogue entry.
func TeamHeading(name string) string {
	return "## Team: " + name
}

func writeTeam(b *strings.Builder, team domain.Team) {
	b.WriteString(TeamHeading(team.Name))
	b.WriteString("\n")
	writeList(b, "Operatives", team.Operatives)
	writeList(b, "Ploys", team.Ploys)
	writeList(b, "Equipment", team.Equipment)
	writeList(b, "Faction rules", team.Rules)
	if team.Notes != "" {
		b.WriteString("Notes: ")
		b.WriteString(team.Notes)
		b.WriteString("\n")
	}
	b.WriteString("\n")
}

func writeList(b *strings.Builder, label string, items []string) {
	if len(items) == 0 {
		return
	}
	b.WriteString(label)
	b.WriteString(": ")
	b.WriteString(strings.Join(items, ", "))
	b.WriteString("\n")
}
