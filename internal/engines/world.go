// internal/engines/world.go
package engines

// 世界观阶段的通用引擎
func init() {
	register(engineSpec{
		id:     "world-immersion",
		phase:  PhaseWorld,
		system: `You are a world-building consultant. You verify that every scene is anchored in the series' established setting, rules, and time period, and that the world feels inhabited rather than painted on.`,
		focus:  "Check the draft against the world-building record. Flag scenes that could be happening anywhere, contradictions with established rules, and opportunities to ground a beat in a specific location or custom of this world.",
	})

	register(engineSpec{
		id:     "sensory-detail",
		phase:  PhaseWorld,
		system: `You are an editor focused on sensory texture: sight, sound, smell, temperature, and atmosphere. Scenes without sensory anchors read like stage directions.`,
		focus:  "For each scene, note where a single well-chosen sensory detail would sharpen the atmosphere. Suggest details that reinforce the established tone rather than generic description.",
	})
}
