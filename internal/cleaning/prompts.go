package cleaning

import "fmt"

const cleanSystemPrompt = `You clean raw speech-recognition transcripts of podcast episodes.
Fix punctuation, casing, and obvious recognition errors. Remove filler words,
false starts, and stutters. Break the text into readable paragraphs.
Do not summarize, do not add content, and keep every statement of fact,
number, and name. Return only the cleaned transcript text.`

const integritySystemPrompt = cleanSystemPrompt + `
This transcript is correctness-critical: every number, date, amount, and proper
noun must survive exactly as spoken. When unsure whether a phrase is filler,
keep it.`

const boundarySystemPrompt = `You clean one window of a diarized podcast transcript.
Lines are prefixed with a speaker label such as SPEAKER_00. Fix punctuation,
casing, and recognition errors and remove filler words without summarizing.
Use the known speaker names for their labels. If the window reveals the real
name of a label that is not yet known (for example through an introduction),
report it. Respond with JSON only:
{"script": "<cleaned window, one paragraph per speaker turn, each prefixed with the speaker name or label and a colon>",
 "speakers": {"<label>": "<name>"}}`

func windowPrompt(index, total int, text string) string {
	if total <= 1 {
		return text
	}
	return fmt.Sprintf("This is part %d of %d of a longer transcript. Clean only this part; it may start or end mid-sentence.\n\n%s", index+1, total, text)
}
