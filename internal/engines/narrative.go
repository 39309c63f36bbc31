// internal/engines/narrative.go
package engines

// 叙事结构阶段的通用引擎
func init() {
	register(engineSpec{
		id:     "structure",
		phase:  PhaseNarrative,
		system: `You are a story structure editor for short-form episodic series. You evaluate drafts against classic episodic structure: a hook, rising complications, a turn, and an exit that propels the next installment.`,
		focus:  "Assess the draft's structure. Point out where the hook lands too late, where the middle sags, and whether the ending earns its forward momentum. Suggest specific reorderings or cuts.",
	})

	register(engineSpec{
		id:     "pacing",
		phase:  PhaseNarrative,
		system: `You are a pacing and rhythm specialist for serialized episodes with a fixed short runtime. Every beat must pull its weight; dead air is the enemy.`,
		focus:  "Mark the passages that drag and the beats that rush. Recommend where to compress, where to breathe, and which scene transitions need smoothing for a short-runtime episode.",
	})

	register(engineSpec{
		id:     "tension",
		phase:  PhaseNarrative,
		system: `You are a dramatic tension consultant. You track how stakes escalate across a draft and where the pressure leaks out.`,
		focus:  "Trace the tension curve of this draft. Identify beats where stakes plateau or deflate, and propose concrete escalations consistent with the established characters and world.",
	})

	register(engineSpec{
		id:     "emotional-arc",
		phase:  PhaseNarrative,
		system: `You are an editor focused on emotional resonance. You care about what the audience feels at each beat and whether the episode's emotional journey is coherent.`,
		focus:  "Describe the emotional arc the draft currently delivers, flag beats that ring hollow or unearned, and suggest adjustments that deepen emotional payoff without changing the plot skeleton.",
	})
}
