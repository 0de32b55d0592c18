package plans

import (
	"fmt"
	"strings"
)

// Outline slots classify where a subtopic sits in the teaching arc. The
// concept prompt uses the descriptor to keep each rewrite inside its lane
// instead of drifting into sibling material.
type outlineSlot struct {
	keywords   []string
	descriptor string
}

// slotTable is ordered: the first slot whose keyword matches the title wins.
var slotTable = []outlineSlot{
	{[]string{"epidemiolog", "burden", "incidence", "prevalence"},
		"background material on disease burden; no clinical decisions belong here"},
	{[]string{"aetiolog", "etiolog", "risk factor", "cause"},
		"causes and risk factors; stop short of pathophysiologic mechanisms"},
	{[]string{"pathophysiolog", "pathogenesis", "mechanism"},
		"mechanism of disease; clinical findings belong to the presentation slots"},
	{[]string{"presentation", "clinical feature", "sign", "symptom", "history", "examination"},
		"what the clinician sees and elicits; defer confirmation to the diagnosis slots"},
	{[]string{"differential"},
		"conditions to distinguish from; the confirmatory pathway lives elsewhere"},
	{[]string{"diagnos", "investigation", "laboratory", "imaging", "test", "screening"},
		"the confirmatory work-up; treatment decisions belong to the management slots"},
	{[]string{"severity", "assessment", "triage", "classification"},
		"grading and disposition decisions"},
	{[]string{"management", "treatment", "therapy", "antimicrobial", "antibiotic", "fluid", "drug"},
		"treatment decisions; diagnostic reasoning belongs to earlier slots"},
	{[]string{"monitoring", "response", "follow-up", "follow up", "recovery", "discharge"},
		"tracking response and aftercare"},
	{[]string{"complication", "danger", "escalation", "emergenc", "red flag"},
		"deterioration, complications, and when to escalate"},
	{[]string{"nutrition", "feeding", "diet"},
		"nutritional aspects during and after illness"},
	{[]string{"prevention", "vaccin", "immuni", "prophyla", "hygiene", "sanitation"},
		"prevention; treatment of established disease belongs to the management slots"},
	{[]string{"counsel", "family", "parent", "education", "communication"},
		"what families are told and taught"},
	{[]string{"public health", "notification", "outbreak", "surveillance"},
		"the public-health and reporting dimension"},
}

// OutlineSlot renders the teaching-arc position passed to the concept prompt.
func OutlineSlot(title string, seq, total int) string {
	lower := strings.ToLower(title)
	for _, slot := range slotTable {
		for _, kw := range slot.keywords {
			if strings.Contains(lower, kw) {
				return fmt.Sprintf("sub-topic %d of %d; %s", seq, total, slot.descriptor)
			}
		}
	}
	return fmt.Sprintf("sub-topic %d of %d", seq, total)
}
