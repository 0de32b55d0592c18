package generator

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"
)

// LLMClient is the interface all generator backends satisfy.
type LLMClient interface {
	Generate(ctx context.Context, systemPrompt string, userPrompt string) (*LLMResponse, error)
}

// LLMResponse holds the raw response content and token usage.
type LLMResponse struct {
	Content      string
	PromptTokens int
	OutputTokens int
}

// Generator wraps an LLMClient with the typed calls the pipeline stages make.
type Generator struct {
	llm   LLMClient
	model string
}

func NewGenerator() *Generator {
	var llm LLMClient
	model := "mock"

	if os.Getenv("USE_CLI_GENERATOR") == "true" {
		cliPath := os.Getenv("CLAUDE_CLI_PATH")
		if cliPath == "" {
			cliPath = "claude"
		}
		llm = NewCLIClient(cliPath)
		model = "claude-cli"
		log.Println("Generator using Claude CLI (local plan)")
	} else if os.Getenv("MOCK_GENERATOR") == "true" {
		llm = NewMockClient()
		log.Println("Generator using mock data")
	} else {
		model = os.Getenv("ANTHROPIC_MODEL")
		if model == "" {
			model = "claude-opus-4-5-20251101"
		}
		llm = NewAPIClient(model)
		log.Println("Generator using Anthropic API:", model)
	}

	return &Generator{llm: llm, model: model}
}

// NewGeneratorWith injects a client directly; used by tests.
func NewGeneratorWith(llm LLMClient) *Generator {
	return &Generator{llm: llm, model: "injected"}
}

func (g *Generator) ModelName() string {
	return g.model
}

// ── outline calls ──────────────────────────────────────

func (g *Generator) DraftSubtopics(ctx context.Context, topic string, minN, maxN int) ([]string, error) {
	resp, err := g.llm.Generate(ctx, OutlineSystemPrompt(), BuildDraftPrompt(topic, minN, maxN))
	if err != nil {
		return nil, fmt.Errorf("draft subtopics: %w", err)
	}
	titles, err := ParseTitleList(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("parse subtopic draft: %w", err)
	}
	return titles, nil
}

func (g *Generator) MakeRubric(ctx context.Context, topic string) (*Rubric, error) {
	resp, err := g.llm.Generate(ctx, OutlineSystemPrompt(), BuildRubricPrompt(topic))
	if err != nil {
		return nil, fmt.Errorf("make rubric: %w", err)
	}
	rubric, err := ParseRubric(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("parse rubric: %w", err)
	}
	return rubric, nil
}

func (g *Generator) VerifyOutline(ctx context.Context, topic string, rubric *Rubric, titles []string) (*OutlineVerdict, error) {
	resp, err := g.llm.Generate(ctx, OutlineSystemPrompt(), BuildVerifyPrompt(topic, rubric, titles))
	if err != nil {
		return nil, fmt.Errorf("verify outline: %w", err)
	}
	verdict, err := ParseOutlineVerdict(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("parse outline verdict: %w", err)
	}
	return verdict, nil
}

func (g *Generator) CoalesceTitles(ctx context.Context, topic string, titles []string, target int) ([]string, error) {
	resp, err := g.llm.Generate(ctx, OutlineSystemPrompt(), BuildCoalescePrompt(topic, titles, target))
	if err != nil {
		return nil, fmt.Errorf("coalesce titles: %w", err)
	}
	merged, err := ParseTitleList(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("parse coalesced titles: %w", err)
	}
	return merged, nil
}

func (g *Generator) TopUpTitles(ctx context.Context, topic string, existing []string, need int) ([]string, error) {
	resp, err := g.llm.Generate(ctx, OutlineSystemPrompt(), BuildTopUpPrompt(topic, existing, need))
	if err != nil {
		return nil, fmt.Errorf("top up titles: %w", err)
	}
	extra, err := ParseTitleList(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("parse top-up titles: %w", err)
	}
	return extra, nil
}

// ── concept calls ──────────────────────────────────────

// RewriteConcept returns plain prose, not JSON.
func (g *Generator) RewriteConcept(ctx context.Context, topic, subtopic, source, outlineSlot, disambiguation string) (string, error) {
	resp, err := g.llm.Generate(ctx, ConceptSystemPrompt(), BuildConceptPrompt(topic, subtopic, source, outlineSlot, disambiguation))
	if err != nil {
		return "", fmt.Errorf("rewrite concept: %w", err)
	}
	return strings.TrimSpace(stripCodeFences(resp.Content)), nil
}

func (g *Generator) AssessCaseAmenability(ctx context.Context, topic, subtopic, concept string) (bool, int, error) {
	resp, err := g.llm.Generate(ctx, QASystemPrompt(), BuildAmenabilityPrompt(topic, subtopic, concept))
	if err != nil {
		return false, 0, fmt.Errorf("assess amenability: %w", err)
	}
	amenable, confidence, err := ParseAmenability(resp.Content)
	if err != nil {
		return false, 0, fmt.Errorf("parse amenability: %w", err)
	}
	return amenable, confidence, nil
}

// RankCaseCandidates picks up to slots subtopic ids from the candidate lines
// ("id | title | confidence" rows).
func (g *Generator) RankCaseCandidates(ctx context.Context, topic string, candidateLines []string, slots int) ([]string, error) {
	resp, err := g.llm.Generate(ctx, QASystemPrompt(), BuildRankPrompt(topic, candidateLines, slots))
	if err != nil {
		return nil, fmt.Errorf("rank case candidates: %w", err)
	}
	picks, err := ParseCasePick(resp.Content, slots)
	if err != nil {
		return nil, fmt.Errorf("parse case picks: %w", err)
	}
	return picks, nil
}

// ── MCQ calls ──────────────────────────────────────────

func (g *Generator) PlanMCQs(ctx context.Context, topic, subtopic, concept string, maxPerSub int) (*MCQPlan, error) {
	resp, err := g.llm.Generate(ctx, MCQSystemPrompt(), BuildMCQPlanPrompt(topic, subtopic, concept, maxPerSub))
	if err != nil {
		return nil, fmt.Errorf("plan mcqs: %w", err)
	}
	plan, err := ParseMCQPlan(resp.Content, maxPerSub)
	if err != nil {
		return nil, fmt.Errorf("parse mcq plan: %w", err)
	}
	return plan, nil
}

// GenerateMCQBatch runs one attempt. problems carries the validation findings
// from the previous attempt so the model can repair them.
func (g *Generator) GenerateMCQBatch(ctx context.Context, topic, subtopic, concept string, plan *MCQPlan, problems []string) ([]MCQBlock, error) {
	resp, err := g.llm.Generate(ctx, MCQSystemPrompt(), BuildMCQPrompt(topic, subtopic, concept, plan, problems))
	if err != nil {
		return nil, fmt.Errorf("generate mcq batch: %w", err)
	}
	blocks, err := ParseMCQBatch(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("parse mcq batch: %w", err)
	}
	return blocks, nil
}

// EnsureVariants fills in missing stem variants with a follow-up call.
func (g *Generator) EnsureVariants(ctx context.Context, block MCQBlock) (MCQBlock, error) {
	if block.Variant1 != nil && block.Variant2 != nil {
		return block, nil
	}
	resp, err := g.llm.Generate(ctx, MCQSystemPrompt(), BuildVariantPrompt(block))
	if err != nil {
		return block, fmt.Errorf("ensure variants: %w", err)
	}
	var filled struct {
		Variant1 *MCQVariant `json:"variant1"`
		Variant2 *MCQVariant `json:"variant2"`
	}
	if err := DecodeJSON(resp.Content, &filled); err != nil {
		return block, fmt.Errorf("parse variants: %w", err)
	}
	if block.Variant1 == nil {
		block.Variant1 = filled.Variant1
	}
	if block.Variant2 == nil {
		block.Variant2 = filled.Variant2
	}
	return block, nil
}

// ── case calls ─────────────────────────────────────────

func (g *Generator) ComposeCase(ctx context.Context, topic, subtopic, concept string) (*CasePayload, error) {
	resp, err := g.llm.Generate(ctx, CaseSystemPrompt(), BuildCasePrompt(topic, subtopic, concept))
	if err != nil {
		return nil, fmt.Errorf("compose case: %w", err)
	}
	payload, err := ParseCasePayload(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("parse case: %w", err)
	}
	return payload, nil
}

func (g *Generator) CaseMCQs(ctx context.Context, topic, title, vignette, objective string) ([]MCQBlock, error) {
	resp, err := g.llm.Generate(ctx, MCQSystemPrompt(), BuildCaseMCQPrompt(topic, title, vignette, objective))
	if err != nil {
		return nil, fmt.Errorf("generate case mcqs: %w", err)
	}
	blocks, err := ParseMCQBatch(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("parse case mcqs: %w", err)
	}
	return blocks, nil
}

// VerifyCaseBundle reviews a serialized case-plus-questions bundle.
func (g *Generator) VerifyCaseBundle(ctx context.Context, topic, subtopic, bundleJSON string) (*QAVerdict, error) {
	resp, err := g.llm.Generate(ctx, QASystemPrompt(), BuildCaseVerifyPrompt(topic, subtopic, bundleJSON))
	if err != nil {
		return nil, fmt.Errorf("verify case bundle: %w", err)
	}
	verdict, err := ParseQAVerdict(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("parse qa verdict: %w", err)
	}
	return verdict, nil
}

// ExtractCases pulls self-contained vignettes out of stitched narrative text.
func (g *Generator) ExtractCases(ctx context.Context, topic, stitched string) ([]ExtractedCase, error) {
	resp, err := g.llm.Generate(ctx, CaseSystemPrompt(), BuildExtractPrompt(topic, stitched))
	if err != nil {
		return nil, fmt.Errorf("extract cases: %w", err)
	}
	cases, err := ParseExtractedCases(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("parse extracted cases: %w", err)
	}
	return cases, nil
}

// AssignTarget is one subtopic a pre-authored case may attach to.
type AssignTarget struct {
	ID    string
	Title string
}

func (g *Generator) AssignCases(ctx context.Context, topic string, targets []AssignTarget, cases []ExtractedCase) ([]CaseAssignment, error) {
	resp, err := g.llm.Generate(ctx, CaseSystemPrompt(), BuildAssignPrompt(topic, targets, cases))
	if err != nil {
		return nil, fmt.Errorf("assign cases: %w", err)
	}
	valid := make(map[string]bool, len(targets))
	for _, t := range targets {
		valid[t.ID] = true
	}
	assignments, err := ParseCaseAssignments(resp.Content, len(cases), valid)
	if err != nil {
		return nil, fmt.Errorf("parse case assignments: %w", err)
	}
	return assignments, nil
}

// ── APIClient — Anthropic SDK (Production) ─────────────────

type APIClient struct {
	client *anthropic.Client
	model  string
}

func NewAPIClient(model string) *APIClient {
	client := anthropic.NewClient(
		option.WithAPIKey(os.Getenv("ANTHROPIC_API_KEY")),
	)
	return &APIClient{client: &client, model: model}
}

func (c *APIClient) Generate(ctx context.Context, systemPrompt string, userPrompt string) (*LLMResponse, error) {
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		MaxTokens:   8192,
		Temperature: param.NewOpt(0.4),
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	}

	message, err := c.callWithRetry(ctx, params)
	if err != nil {
		return nil, err
	}

	var responseText string
	for _, block := range message.Content {
		if block.Type == "text" {
			responseText = block.Text
			break
		}
	}

	if responseText == "" {
		return nil, fmt.Errorf("no text content in API response")
	}

	return &LLMResponse{
		Content:      responseText,
		PromptTokens: int(message.Usage.InputTokens),
		OutputTokens: int(message.Usage.OutputTokens),
	}, nil
}

func (c *APIClient) callWithRetry(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			sleepDuration := time.Duration(1<<uint(attempt)) * time.Second
			log.Printf("Retrying Anthropic API call in %v (attempt %d)", sleepDuration, attempt+1)
			time.Sleep(sleepDuration)
		}

		message, err := c.client.Messages.New(ctx, params)
		if err == nil {
			return message, nil
		}
		lastErr = err
		log.Printf("Anthropic API attempt %d failed: %v", attempt+1, err)
	}
	return nil, fmt.Errorf("anthropic API failed after retries: %w", lastErr)
}
