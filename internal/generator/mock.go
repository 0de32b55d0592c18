package generator

import (
	"context"
	"fmt"
	"strings"
)

// MockClient returns deterministic payloads for local development without an
// API key. It keys off the schema markers in the user prompt, so every stage
// gets JSON its parser accepts.
type MockClient struct{}

func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) Generate(ctx context.Context, systemPrompt string, userPrompt string) (*LLMResponse, error) {
	return &LLMResponse{
		Content:      mockContent(userPrompt),
		PromptTokens: 1500,
		OutputTokens: 3000,
	}, nil
}

func mockContent(userPrompt string) string {
	switch {
	case strings.Contains(userPrompt, `"topic_kind"`):
		return `{"topic_kind":"infection","dimensions":[
  {"name":"epidemiology","why":"[Mock] disease burden","required":false,"weight":2},
  {"name":"diagnosis","why":"[Mock] confirmation pathway","required":true,"weight":5},
  {"name":"management","why":"[Mock] treatment decisions","required":true,"weight":5},
  {"name":"prevention","why":"[Mock] vaccination and hygiene","required":true,"weight":4}]}`

	case strings.Contains(userPrompt, `"merge"`):
		return `{"complete":true,"missing":[],"drop":[],"merge":[],"reword":[],"notes":"[Mock] outline acceptable"}`

	case strings.Contains(userPrompt, `"subtopics"`):
		return mockTitles()

	case strings.Contains(userPrompt, `"amenable"`):
		return `{"amenable":true,"confidence":82,"why":"[Mock] clear decision point","suggested_case_focus":["initial assessment"]}`

	case strings.Contains(userPrompt, `"pick"`):
		return `{"pick":[],"why":"[Mock] no slots assigned"}`

	case strings.Contains(userPrompt, `"recommendation"`):
		return `{"recommendation":{"count":2,"reason":"[Mock] material supports two items"},"blueprint":[
  {"focus":"first-line management","why":"[Mock] highest yield","skill":"management","priority":1},
  {"focus":"recognising red flags","why":"[Mock] safety critical","skill":"diagnosis","priority":2}]}`

	case strings.Contains(userPrompt, `"mcqs"`):
		return mockMCQs(strings.Contains(userPrompt, `"variant1"`))

	case strings.Contains(userPrompt, `"case_title"`):
		return `{"cases":[]}`

	case strings.Contains(userPrompt, `"assignments"`):
		return `{"assignments":[]}`

	case strings.Contains(userPrompt, `"verdict"`):
		return `{"verdict":"pass","issues":[],"suggested_fixes":[]}`

	case strings.Contains(userPrompt, `"vignette"`):
		return fmt.Sprintf(`{"title":"[Mock] Febrile child with poor intake","vignette":%q,"learning_objective":"[Mock] Choose initial management for moderate dehydration."}`, mockVignette())

	case strings.Contains(userPrompt, `"variant1"`):
		return `{"variant1":{"stem":"[Mock] Which initial step is most appropriate for this child?","correct_index":0},
"variant2":{"stem":"[Mock] What should the clinic team do first?","correct_index":0}}`

	default:
		return mockConcept()
	}
}

func mockTitles() string {
	themes := []string{
		"Epidemiology and Burden", "Aetiology and Risk Factors", "Pathophysiology",
		"Clinical Presentation in Infants", "Clinical Presentation in Older Children",
		"Differential Diagnosis", "History and Examination", "Laboratory Diagnosis",
		"Imaging and Adjunct Tests", "Severity Assessment", "Outpatient Management",
		"Inpatient Management", "Fluid and Electrolyte Therapy", "Antimicrobial Choices",
		"Supportive Care", "Monitoring and Response to Treatment", "Complications",
		"Danger Signs and Escalation", "Nutrition During Illness", "Recovery and Follow-up",
		"Prevention and Vaccination", "Family Counselling", "Public Health Notification",
		"Special Situations and Comorbidity",
	}
	quoted := make([]string, len(themes))
	for i, t := range themes {
		quoted[i] = fmt.Sprintf("%q", "[Mock] "+t)
	}
	return fmt.Sprintf(`{"subtopics":[%s]}`, strings.Join(quoted, ","))
}

// mockConcept and the correct choice in mockMCQs share the phrase "oral
// rehydration therapy" so review checks that compare them succeed.
func mockConcept() string {
	para := "[Mock] Assessment begins with hydration status, perfusion, and conscious level, because these determine disposition more reliably than any single laboratory value. A child who is alert, drinking, and passing urine can usually be managed at home with oral rehydration therapy and structured safety-netting advice, whereas lethargy, sunken eyes, or reduced skin turgor mark the child who needs supervised rehydration. Oral rehydration therapy remains the first-line intervention; small frequent volumes are better tolerated than large boluses, and breastfeeding should continue throughout. Intravenous fluids are reserved for shock, persistent vomiting, or failure of the oral route. Reassessment after each treatment phase matters as much as the initial plan: weight, ongoing losses, and clinical signs should be rechecked before stepping treatment up or down. Families need explicit return advice covering reduced urine output, bilious vomiting, blood in stool, and drowsiness, since most deterioration happens after the first contact. Antibiotics have no routine role and are confined to specific indications identified on review."
	return para + " " + para
}

func mockVignette() string {
	return "[Mock] A 14-month-old girl is brought to the clinic with two days of watery stools and vomiting. She has refused solids but takes sips of water, and her mother reports fewer wet nappies since last night. On examination she is irritable but consolable, with a heart rate of 148, capillary refill of 2 seconds, slightly sunken eyes, and moist lips. Weight is 9.6 kg, down from 10.0 kg at a visit two weeks ago. She has no fever at triage and no blood in the stool. The clinic has oral rehydration salts, a small observation area, and referral transport available within an hour. The team must decide how to manage her hydration now."
}

func mockMCQs(withVariants bool) string {
	variants := ""
	if withVariants {
		variants = `,
      "variant1":{"stem":"[Mock] Which initial step best addresses this child's fluid needs?","correct_index":0},
      "variant2":{"stem":"[Mock] What is the most appropriate first intervention?","correct_index":0}`
	}
	block := func(stem string) string {
		return fmt.Sprintf(`{
      "stem":%q,
      "choices":[
        "Begin oral rehydration therapy with small frequent volumes",
        "Start an immediate intravenous fluid bolus",
        "Prescribe empirical antibiotics and review tomorrow",
        "Advise clear fluids only and stop breastfeeding"],
      "rationales":[
        "Oral rehydration therapy is first line when the child tolerates the oral route.",
        "Intravenous fluids are reserved for shock or failure of the oral route.",
        "Antibiotics have no routine role in this presentation.",
        "Breastfeeding should continue throughout rehydration."],
      "correct_index":0,
      "explanation":"[Mock] Small frequent volumes of oral rehydration therapy restore hydration safely in a child who is still drinking."%s
    }`, stem, variants)
	}
	return fmt.Sprintf(`{"mcqs":[%s,%s]}`,
		block("[Mock] Which management step is most appropriate first?"),
		block("[Mock] Which option best manages this child's hydration?"))
}
