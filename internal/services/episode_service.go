// internal/services/episode_service.go
package services

import (
	"context"
	"fmt"
	"strings"

	apperrors "github.com/Corphon/SeriesForgeMCP/internal/errors"
	"github.com/Corphon/SeriesForgeMCP/internal/models"
	"github.com/Corphon/SeriesForgeMCP/internal/storage"
)

// EpisodeService 剧集服务：顺序生成、分支选择与场景编辑。
// 第N集只有在第N-1集已持久化后才允许生成；
// 第一集落盘的瞬间故事圣经进入锁定状态。
type EpisodeService struct {
	store    *storage.StoryStore
	pipeline *PipelineService
	bible    *BibleService
	locks    *LockManager
}

// NewEpisodeService 创建剧集服务
func NewEpisodeService(store *storage.StoryStore, pipeline *PipelineService, bible *BibleService, locks *LockManager) *EpisodeService {
	return &EpisodeService{
		store:    store,
		pipeline: pipeline,
		bible:    bible,
		locks:    locks,
	}
}

// GenerateEpisode 为故事圣经生成下一集。
// number 必须恰好等于已有剧集数加一；上一集若有观众选择则从该分支延续，
// 否则沿规范分支延续。成片持久化后触发尽力而为的剧集回写。
func (s *EpisodeService) GenerateEpisode(ctx context.Context, taskID, storyID string, number int) (*models.Episode, error) {
	if number <= 0 {
		return nil, apperrors.NewValidationError(fmt.Sprintf("剧集编号必须为正数: %d", number), nil)
	}

	story, err := s.store.Get(storyID)
	if err != nil {
		return nil, err
	}

	count, err := s.store.EpisodeCount(storyID)
	if err != nil {
		return nil, err
	}
	if number != count+1 {
		if number <= count {
			return nil, apperrors.NewConflictError(fmt.Sprintf("第%d集已存在", number), nil)
		}
		return nil, apperrors.NewValidationError(
			fmt.Sprintf("第%d集尚不能生成：必须先生成第%d集", number, count+1), nil)
	}

	previousChoice := ""
	if number > 1 {
		previous, err := s.store.GetEpisode(storyID, number-1)
		if err != nil {
			return nil, err
		}
		previousChoice = continuationChoice(previous)
	}

	episode, err := s.pipeline.RunEpisodePipeline(ctx, taskID, story, number, previousChoice)
	if err != nil {
		return nil, err
	}

	if err := s.store.AppendEpisode(storyID, episode); err != nil {
		return nil, err
	}

	// 成片已落盘，回写失败不影响结果
	s.bible.ReflectEpisode(ctx, storyID, episode)

	return episode, nil
}

// ChooseBranch 记录观众对某一集分支选项的选择，驱动下一集的方向
func (s *EpisodeService) ChooseBranch(storyID string, number int, optionID string) (*models.Episode, error) {
	var updated *models.Episode

	err := s.locks.ExecuteWithStoryLock(storyID, func() error {
		episode, err := s.store.GetEpisode(storyID, number)
		if err != nil {
			return err
		}

		found := false
		for _, opt := range episode.Options {
			if opt.ID == optionID {
				found = true
				break
			}
		}
		if !found {
			return apperrors.NewValidationError(fmt.Sprintf("分支选项不存在: %s", optionID), nil)
		}

		// 下一集生成后选择即固化，不允许改写历史
		count, err := s.store.EpisodeCount(storyID)
		if err != nil {
			return err
		}
		if number < count {
			return apperrors.NewConflictError(
				fmt.Sprintf("第%d集的后续剧集已生成，分支选择不可更改", number), nil)
		}

		episode.ChosenOptionID = optionID
		if err := s.store.UpdateEpisode(storyID, episode); err != nil {
			return err
		}
		updated = episode
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// EditScene 编辑剧集中指定场景的文本。编辑过的剧集标记为显式来源。
func (s *EpisodeService) EditScene(storyID string, number, sceneIndex int, content string) (*models.Episode, error) {
	if strings.TrimSpace(content) == "" {
		return nil, apperrors.NewValidationError("场景内容不能为空", nil)
	}

	var updated *models.Episode

	err := s.locks.ExecuteWithStoryLock(storyID, func() error {
		episode, err := s.store.GetEpisode(storyID, number)
		if err != nil {
			return err
		}
		if sceneIndex < 0 || sceneIndex >= len(episode.Scenes) {
			return apperrors.NewValidationError(
				fmt.Sprintf("场景序号越界: %d（共 %d 个场景）", sceneIndex, len(episode.Scenes)), nil)
		}

		episode.Scenes[sceneIndex].Content = content
		episode.Source = models.SourceExplicit

		if err := s.store.UpdateEpisode(storyID, episode); err != nil {
			return err
		}
		updated = episode
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// GetEpisode 读取指定剧集
func (s *EpisodeService) GetEpisode(storyID string, number int) (*models.Episode, error) {
	return s.store.GetEpisode(storyID, number)
}

// ListEpisodes 按编号顺序列出全部剧集
func (s *EpisodeService) ListEpisodes(storyID string) ([]models.Episode, error) {
	return s.store.ListEpisodes(storyID)
}

// continuationChoice 返回驱动下一集的分支文本：
// 观众已选择时用所选分支，否则沿规范分支延续
func continuationChoice(episode *models.Episode) string {
	if chosen, ok := episode.ChosenOption(); ok {
		return chosen.Text
	}
	if canonical, ok := episode.CanonicalOption(); ok {
		return canonical.Text
	}
	return ""
}
