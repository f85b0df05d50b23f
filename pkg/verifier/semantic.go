package verifier

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/louannemur/agent-orchestrator-sub000/pkg/llm"
)

// MaxDiffBytes bounds the diff handed to the semantic judge (spec.md §4.3).
const MaxDiffBytes = 10 * 1024

// GitDiffProvider returns the working tree's diff against its parent/main
// reference (tracked via "git diff HEAD"), truncated to MaxDiffBytes.
func GitDiffProvider(workingDir string) (string, error) {
	cmd := exec.Command("git", "diff", "HEAD")
	cmd.Dir = workingDir
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git diff: %w", err)
	}
	diff := string(out)
	if len(diff) > MaxDiffBytes {
		diff = diff[:MaxDiffBytes]
	}
	return diff, nil
}

// semanticSystemPrompt instructs the model to judge the diff and return
// strict JSON, with a regex-extractable fallback score as a safety net —
// mirrors the teacher's scoringOutputSchema convention of asking the LLM
// for a machine-parseable tail even when the primary format is JSON.
const semanticSystemPrompt = `You are reviewing a code change for whether it correctly implements its task.
Respond with a single JSON object: {"score": <number 0.0-1.0>, "explanation": "<one paragraph>"}.
If you cannot produce valid JSON, end your response with the score alone on the last line.`

type semanticResponse struct {
	Score       float64 `json:"score"`
	Explanation string  `json:"explanation"`
}

// fallbackScoreRegex extracts a decimal or integer score from the last
// line of a non-JSON response, the same "number on the last line" contract
// tarsy's extractScore relies on.
var fallbackScoreRegex = regexp.MustCompile(`([01](?:\.\d+)?)\s*$`)

// LLMSemanticJudge implements SemanticJudge by asking an LLMClient to score
// a diff, decoding its response as the sum type described in spec.md §9:
// Parsed (strict JSON) | Fallback (regex-extracted score, default 0.5).
type LLMSemanticJudge struct {
	client llm.LLMClient
	model  string
}

// NewLLMSemanticJudge builds a judge calling client with the given model
// identifier (passed through to llm.GenerateInput.Model).
func NewLLMSemanticJudge(client llm.LLMClient, model string) *LLMSemanticJudge {
	return &LLMSemanticJudge{client: client, model: model}
}

func (j *LLMSemanticJudge) Score(ctx context.Context, diff string) (float64, string, error) {
	resp, err := llm.Call(ctx, j.client, &llm.GenerateInput{
		Model: j.model,
		Messages: []llm.ConversationMessage{
			{Role: llm.RoleSystem, Content: semanticSystemPrompt},
			{Role: llm.RoleUser, Content: diff},
		},
	})
	if err != nil {
		return 0, "", fmt.Errorf("semantic judge call: %w", err)
	}

	if score, explanation, ok := parseStrictJSON(resp.Text); ok {
		return clampScore(score), explanation, nil
	}
	if score, ok := parseFallbackScore(resp.Text); ok {
		return clampScore(score), resp.Text, nil
	}
	return 0.5, "could not parse a score from the semantic judge's response; defaulting to 0.5", nil
}

func parseStrictJSON(text string) (score float64, explanation string, ok bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end < start {
		return 0, "", false
	}
	var parsed semanticResponse
	if err := json.Unmarshal([]byte(text[start:end+1]), &parsed); err != nil {
		return 0, "", false
	}
	return parsed.Score, parsed.Explanation, true
}

func parseFallbackScore(text string) (float64, bool) {
	text = strings.TrimRight(text, "\n\r \t")
	if text == "" {
		return 0, false
	}
	lastNewline := strings.LastIndex(text, "\n")
	lastLine := text
	if lastNewline != -1 {
		lastLine = text[lastNewline+1:]
	}
	m := fallbackScoreRegex.FindStringSubmatch(strings.TrimSpace(lastLine))
	if m == nil {
		return 0, false
	}
	score, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return score, true
}

func clampScore(score float64) float64 {
	switch {
	case score < 0:
		return 0
	case score > 1:
		return 1
	default:
		return score
	}
}

var _ SemanticJudge = (*LLMSemanticJudge)(nil)
