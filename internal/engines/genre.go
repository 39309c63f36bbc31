// internal/engines/genre.go
package engines

// 类型专属引擎：只在故事圣经的类型匹配时运行
func init() {
	register(engineSpec{
		id:     "comedy-timing",
		phase:  PhaseGenre,
		genres: []string{"comedy", "sitcom", "喜剧"},
		system: `You are a comedy writer's room veteran. You know setup-punchline rhythm, rule-of-three, and when a joke needs air versus when it needs to be stepped on.`,
		focus:  "Audit the draft's comedic timing. Mark jokes whose setups telegraph the punchline, beats missing a topper, and places where a straight line would land harder than a gag.",
	})

	register(engineSpec{
		id:     "mystery-clues",
		phase:  PhaseGenre,
		genres: []string{"mystery", "detective", "crime", "thriller", "悬疑", "推理"},
		system: `You are a mystery plotting consultant. Fair-play clue placement is your discipline: the audience must be able to look back and see every clue was there.`,
		focus:  "Track the clues, red herrings, and reveals in this draft. Flag reveals that were never seeded, clues planted too obviously, and propose placements that keep the mystery fair but not transparent.",
	})

	register(engineSpec{
		id:     "horror-atmosphere",
		phase:  PhaseGenre,
		genres: []string{"horror", "恐怖"},
		system: `You are a horror editor. Dread is built through restraint, rhythm, and the unseen; you protect the draft from showing the monster too early.`,
		focus:  "Evaluate how dread accumulates across the draft. Point out where tension is released too cheaply and where withholding, sound, or negative space would unsettle more than description.",
	})

	register(engineSpec{
		id:     "romance-chemistry",
		phase:  PhaseGenre,
		genres: []string{"romance", "言情", "爱情"},
		system: `You are a romance editor. Chemistry lives in obstacles, proximity, and what the characters refuse to say; you keep the central relationship's push-pull honest.`,
		focus:  "Assess the chemistry beats between the romantic leads in this draft. Flag moments where attraction is asserted rather than shown, and propose beats of tension, misreading, or near-miss that earn the slow burn.",
	})

	register(engineSpec{
		id:     "scifi-consistency",
		phase:  PhaseGenre,
		genres: []string{"sci-fi", "science fiction", "scifi", "科幻"},
		system: `You are a science fiction continuity consultant. The world's speculative rules were set in the series bible; technology may not conveniently change capability between scenes.`,
		focus:  "Check every use of speculative technology or world rules against the established world-building. Flag convenient capability shifts and unexplained exceptions, and suggest fixes that keep the rules load-bearing.",
	})
}
