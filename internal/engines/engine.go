// internal/engines/engine.go
package engines

import (
	"context"
	"fmt"
	"strings"

	"github.com/Corphon/SeriesForgeMCP/internal/gateway"
	"github.com/Corphon/SeriesForgeMCP/internal/models"
)

// promptEngine 目录驱动的增强引擎实现：
// 把草稿、故事圣经与前序意见组装成一个聚焦提示词，交给网关生成改进意见。
type promptEngine struct {
	spec engineSpec
	gw   *gateway.Gateway
}

func (e *promptEngine) ID() string {
	return e.spec.id
}

func (e *promptEngine) Phase() Phase {
	return e.spec.phase
}

func (e *promptEngine) AppliesTo(story *models.StoryContext) bool {
	if len(e.spec.genres) == 0 {
		return true
	}
	genre := strings.ToLower(story.Genre)
	for _, keyword := range e.spec.genres {
		if strings.Contains(genre, keyword) {
			return true
		}
	}
	return false
}

func (e *promptEngine) Enhance(ctx context.Context, draft *models.EpisodeDraft, story *models.StoryContext, prior []models.EnhancementNote) (models.EnhancementNote, error) {
	note := models.EnhancementNote{
		EngineID: e.spec.id,
		Phase:    string(e.spec.phase),
	}

	params := e.gw.Config().Enhance
	result, err := e.gw.Generate(ctx, gateway.Request{
		SystemPrompt: e.spec.system,
		Prompt:       e.buildPrompt(draft, story, prior),
		Temperature:  params.Temperature,
		MaxTokens:    params.MaxTokens,
	})
	if err != nil {
		return note, fmt.Errorf("引擎 %s 生成意见失败: %w", e.spec.id, err)
	}

	note.Guidance = strings.TrimSpace(result.Text)
	note.Success = true
	return note, nil
}

// buildPrompt 组装引擎提示词
func (e *promptEngine) buildPrompt(draft *models.EpisodeDraft, story *models.StoryContext, prior []models.EnhancementNote) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Series: %s (genre: %s, tone: %s)\n", story.Title, story.Genre, story.Tone)
	if story.Synopsis != "" {
		fmt.Fprintf(&b, "Series synopsis: %s\n", story.Synopsis)
	}
	if story.Theme != "" {
		fmt.Fprintf(&b, "Theme: %s\n", story.Theme)
	}

	if len(story.Characters) > 0 {
		b.WriteString("\nCast:\n")
		for _, ch := range story.Characters {
			fmt.Fprintf(&b, "- %s (%s): %s\n", ch.Name, ch.Archetype, ch.Description)
		}
	}

	if draft.Number > 0 {
		fmt.Fprintf(&b, "\nEpisode %d draft", draft.Number)
		if draft.Title != "" {
			fmt.Fprintf(&b, " %q", draft.Title)
		}
		b.WriteString(":\n")
	} else {
		b.WriteString("\nCurrent draft:\n")
	}
	b.WriteString(draft.Text())
	b.WriteString("\n")

	if draft.PreviousChoice != "" {
		fmt.Fprintf(&b, "\nThe audience chose this continuation after the previous episode: %s\n", draft.PreviousChoice)
	}

	// 依赖前序阶段的引擎会收到已完成阶段的意见作为额外上下文
	if len(prior) > 0 {
		b.WriteString("\nGuidance already collected from earlier passes:\n")
		for _, p := range prior {
			if !p.Success {
				continue
			}
			fmt.Fprintf(&b, "- [%s/%s] %s\n", p.Phase, p.EngineID, p.Guidance)
		}
	}

	b.WriteString("\nTask: ")
	b.WriteString(e.spec.focus)
	b.WriteString("\nReply with concise, concrete, actionable notes (under 200 words). Do not rewrite the draft.")

	return b.String()
}
