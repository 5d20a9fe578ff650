// Package prompts holds the built-in prompt presets for caption generation.
package prompts

import "strings"

// Preset pairs a human-readable name with its prompt text.
type Preset struct {
	Name   string
	Prompt string
}

var presets = []Preset{
	{Name: "Detailed Description (Default)", Prompt: "Describe this image in detail:"},
	{Name: "Short Description", Prompt: "Provide a short description:"},
	{Name: "List Objects and People", Prompt: "List all objects and people in this image:"},
	{Name: "Scene and Mood", Prompt: "Describe the scene, mood, and setting:"},
	{Name: "What's Happening", Prompt: "What is happening in this image?"},
	{Name: "Technical Details", Prompt: "Describe the composition, colors, and technical aspects of this image:"},
}

// Presets returns a copy of the built-in prompt presets.
func Presets() []Preset {
	out := make([]Preset, len(presets))
	copy(out, presets)
	return out
}

// Default returns the default prompt text.
func Default() string {
	return presets[0].Prompt
}

// Lookup finds a preset by name, case-insensitively. The "(Default)" suffix on
// the first preset may be omitted.
func Lookup(name string) (Preset, bool) {
	want := strings.ToLower(strings.TrimSpace(name))
	if want == "" {
		return Preset{}, false
	}
	for _, preset := range presets {
		candidate := strings.ToLower(preset.Name)
		if candidate == want {
			return preset, true
		}
		if trimmed := strings.TrimSuffix(candidate, " (default)"); trimmed == want {
			return preset, true
		}
	}
	return Preset{}, false
}
