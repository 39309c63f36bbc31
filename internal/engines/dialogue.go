// internal/engines/dialogue.go
package engines

// 对白阶段的通用引擎
func init() {
	register(engineSpec{
		id:     "dialogue-authenticity",
		phase:  PhaseDialogue,
		system: `You are a dialogue editor. You hunt for lines that sound written instead of spoken: exposition dumps, on-the-nose declarations, and interchangeable voices.`,
		focus:  "Review every exchange in the draft. Flag lines that feel stilted or expository and propose natural alternatives that carry the same information through subtext or action.",
	})

	register(engineSpec{
		id:     "character-voice",
		phase:  PhaseDialogue,
		system: `You are a character voice consultant. Each character's speech must stay consistent with their established voice, background, and motivation from the series bible.`,
		focus:  "Check each speaking character against their voice profile in the cast list. Point out lines any other character could have said, and suggest phrasing that only this character would use.",
	})

	register(engineSpec{
		id:     "subtext",
		phase:  PhaseDialogue,
		system: `You are an editor specializing in subtext. The best dialogue says one thing and means another; you find the places where characters state their feelings outright.`,
		focus:  "Identify exchanges where conflict or emotion is stated directly, and propose how the same beat could play out through evasion, deflection, or loaded silence.",
	})
}
