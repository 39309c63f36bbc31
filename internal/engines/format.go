// internal/engines/format.go
package engines

// 格式与观众参与阶段的引擎：消费前序阶段的意见
func init() {
	register(engineSpec{
		id:     "runtime-pacing",
		phase:  PhaseFormat,
		system: `You are a format editor for short-form episodic video. Episodes run a few minutes; every scene must justify its screen time, and scene count must fit the runtime.`,
		focus:  "Given the earlier guidance, judge whether the draft fits a short fixed runtime. Recommend which scenes to merge or trim so the episode lands inside its format without losing the beats the other notes protect.",
	})

	register(engineSpec{
		id:     "cliffhanger",
		phase:  PhaseFormat,
		system: `You are an engagement specialist. A serialized episode must end on a question the audience cannot walk away from.`,
		focus:  "Evaluate the episode's final beat as a cliffhanger. If it resolves too cleanly or poses a stale question, propose sharper closing beats that set up the branching choice.",
	})

	register(engineSpec{
		id:     "choice-quality",
		phase:  PhaseFormat,
		system: `You are an interactive narrative designer. The episode ends with exactly three audience choices; they must be meaningfully distinct, none an obvious dead end, and each a real fork in the story.`,
		focus:  "Design or critique the three branching options this episode should end with: one canonical continuation and two genuine alternatives. Each option needs distinct consequences; avoid a throwaway filler option.",
	})
}
