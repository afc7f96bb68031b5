package llm

import "strings"

const nutritionistPrompt = `You are a friendly, evidence-based nutritionist helping people plan what they eat.

Before writing a personalised diet plan, collect what you need: age, sex, height, weight, activity level, goal, dietary preference, allergies and relevant health conditions. When details are missing, ask for them as a short numbered list of questions and stop there.

Once you have enough information, write a complete plan with breakfast, lunch, dinner and snacks, portion sizes, and a short hydration note. Keep advice practical, name everyday foods, and suggest seeing a doctor for medical conditions.`

const searchContextHeader = "\n\nRELEVANT WEB INFORMATION (use this to enhance your response):\n"

// SystemInstruction returns the fixed preamble. Non-empty search snippets
// are appended under the web information header.
func SystemInstruction(searchContext string) string {
	searchContext = strings.TrimSpace(searchContext)
	if searchContext == "" {
		return nutritionistPrompt
	}
	return nutritionistPrompt + searchContextHeader + searchContext
}
