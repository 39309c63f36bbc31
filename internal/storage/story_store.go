// internal/storage/story_store.go
package storage

import (
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	apperrors "github.com/Corphon/SeriesForgeMCP/internal/errors"
	"github.com/Corphon/SeriesForgeMCP/internal/models"
)

const (
	storyFileName        = "story.json"
	regenerationFileName = "regeneration.json"
	episodesDirName      = "episodes"
	versionsDirName      = "versions"
	preProductionDirName = "preproduction"
)

// regenerationRecord 记录一个故事圣经已消耗的完整流水线生成次数。
// 与故事内容分开存放：失败的生成尝试也要计数，即使内容从未写入。
type regenerationRecord struct {
	Attempts    int       `json:"attempts"`
	LastAttempt time.Time `json:"last_attempt"`
}

// StoryStore 故事圣经与剧集的持久化边界。
// 写入采用乐观并发：Put 校验期望版本号，不匹配则返回冲突错误。
type StoryStore struct {
	fs *FileStorage

	// 按故事ID串行化读-改-写
	storyLocks sync.Map // storyID -> *sync.Mutex
}

// NewStoryStore 创建故事存储
func NewStoryStore(fs *FileStorage) *StoryStore {
	return &StoryStore{fs: fs}
}

func (s *StoryStore) lockFor(storyID string) *sync.Mutex {
	value, _ := s.storyLocks.LoadOrStore(storyID, &sync.Mutex{})
	return value.(*sync.Mutex)
}

func storyDir(storyID string) string {
	return filepath.Join("stories", storyID)
}

// Get 读取故事圣经
func (s *StoryStore) Get(storyID string) (*models.StoryContext, error) {
	if !s.fs.FileExists(storyDir(storyID), storyFileName) {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("故事圣经不存在: %s", storyID), nil)
	}

	var story models.StoryContext
	if err := s.fs.LoadJSONFile(storyDir(storyID), storyFileName, &story); err != nil {
		return nil, fmt.Errorf("读取故事圣经失败: %w", err)
	}

	return &story, nil
}

// Put 保存故事圣经。
// expectedRevision >= 0 时执行版本校验：与当前持久化版本不一致则返回冲突错误，
// 不做任何写入（并发双重提交按乐观并发处理，而不是后写覆盖）。
// 传入 -1 跳过校验（仅限首次创建等无竞争场景）。
func (s *StoryStore) Put(story *models.StoryContext, expectedRevision int) error {
	if err := story.Validate(); err != nil {
		return apperrors.NewValidationError("故事圣经校验失败", err)
	}

	lock := s.lockFor(story.ID)
	lock.Lock()
	defer lock.Unlock()

	currentRevision := 0
	if s.fs.FileExists(storyDir(story.ID), storyFileName) {
		var current models.StoryContext
		if err := s.fs.LoadJSONFile(storyDir(story.ID), storyFileName, &current); err != nil {
			return fmt.Errorf("读取当前故事圣经失败: %w", err)
		}
		currentRevision = current.Revision
	}

	if expectedRevision >= 0 && currentRevision != expectedRevision {
		return apperrors.NewConflictError(
			fmt.Sprintf("故事圣经版本冲突: 期望 %d，实际 %d", expectedRevision, currentRevision), nil)
	}

	story.Revision = currentRevision + 1
	story.LastUpdated = time.Now()

	if err := s.fs.SaveJSONFile(storyDir(story.ID), storyFileName, story); err != nil {
		return fmt.Errorf("保存故事圣经失败: %w", err)
	}

	return nil
}

// SaveVersion 保存故事圣经的不可变快照
func (s *StoryStore) SaveVersion(version *models.Version) error {
	filename := fmt.Sprintf("version_%d_%s.json", version.CreatedAt.UnixNano(), version.ID)
	dir := filepath.Join(storyDir(version.StoryContextID), versionsDirName)
	if err := s.fs.SaveJSONFile(dir, filename, version); err != nil {
		return fmt.Errorf("保存版本快照失败: %w", err)
	}
	return nil
}

// ListVersions 按时间顺序列出故事圣经的全部版本快照
func (s *StoryStore) ListVersions(storyID string) ([]models.Version, error) {
	dir := filepath.Join(storyDir(storyID), versionsDirName)
	files, err := s.fs.ListFiles(dir, ".json")
	if err != nil {
		return nil, err
	}

	versions := make([]models.Version, 0, len(files))
	for _, name := range files {
		var v models.Version
		if err := s.fs.LoadJSONFile(dir, name, &v); err != nil {
			continue // 跳过损坏的快照
		}
		versions = append(versions, v)
	}

	sort.Slice(versions, func(i, j int) bool {
		return versions[i].CreatedAt.Before(versions[j].CreatedAt)
	})

	return versions, nil
}

// AppendEpisode 追加一个已生成的剧集。剧集一经写入不会被整体覆盖。
func (s *StoryStore) AppendEpisode(storyID string, episode *models.Episode) error {
	if err := episode.Validate(); err != nil {
		return apperrors.NewValidationError("剧集校验失败", err)
	}

	dir := filepath.Join(storyDir(storyID), episodesDirName)
	filename := episodeFileName(episode.Number)

	if s.fs.FileExists(dir, filename) {
		return apperrors.NewConflictError(fmt.Sprintf("剧集 %d 已存在", episode.Number), nil)
	}

	if err := s.fs.SaveJSONFile(dir, filename, episode); err != nil {
		return fmt.Errorf("保存剧集失败: %w", err)
	}

	return nil
}

// UpdateEpisode 更新既有剧集（分支选择、场景文本编辑）
func (s *StoryStore) UpdateEpisode(storyID string, episode *models.Episode) error {
	if err := episode.Validate(); err != nil {
		return apperrors.NewValidationError("剧集校验失败", err)
	}

	dir := filepath.Join(storyDir(storyID), episodesDirName)
	filename := episodeFileName(episode.Number)

	if !s.fs.FileExists(dir, filename) {
		return apperrors.NewNotFoundError(fmt.Sprintf("剧集 %d 不存在", episode.Number), nil)
	}

	if err := s.fs.SaveJSONFile(dir, filename, episode); err != nil {
		return fmt.Errorf("保存剧集失败: %w", err)
	}

	return nil
}

// GetEpisode 读取指定编号的剧集
func (s *StoryStore) GetEpisode(storyID string, number int) (*models.Episode, error) {
	dir := filepath.Join(storyDir(storyID), episodesDirName)
	filename := episodeFileName(number)

	if !s.fs.FileExists(dir, filename) {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("剧集 %d 不存在", number), nil)
	}

	var episode models.Episode
	if err := s.fs.LoadJSONFile(dir, filename, &episode); err != nil {
		return nil, fmt.Errorf("读取剧集失败: %w", err)
	}

	return &episode, nil
}

// ListEpisodes 按编号顺序列出全部剧集
func (s *StoryStore) ListEpisodes(storyID string) ([]models.Episode, error) {
	dir := filepath.Join(storyDir(storyID), episodesDirName)
	files, err := s.fs.ListFiles(dir, ".json")
	if err != nil {
		return nil, err
	}

	episodes := make([]models.Episode, 0, len(files))
	for _, name := range files {
		var e models.Episode
		if err := s.fs.LoadJSONFile(dir, name, &e); err != nil {
			continue // 跳过损坏的剧集文件
		}
		episodes = append(episodes, e)
	}

	sort.Slice(episodes, func(i, j int) bool {
		return episodes[i].Number < episodes[j].Number
	})

	return episodes, nil
}

// EpisodeCount 返回故事圣经已持久化的剧集数量
func (s *StoryStore) EpisodeCount(storyID string) (int, error) {
	dir := filepath.Join(storyDir(storyID), episodesDirName)
	files, err := s.fs.ListFiles(dir, ".json")
	if err != nil {
		return 0, err
	}
	return len(files), nil
}

// IncrementRegeneration 将故事圣经的生成尝试计数加一并返回新值。
// 在流水线启动前调用，成功与失败的尝试都会计入。
func (s *StoryStore) IncrementRegeneration(storyID string) (int, error) {
	lock := s.lockFor(storyID)
	lock.Lock()
	defer lock.Unlock()

	var record regenerationRecord
	if s.fs.FileExists(storyDir(storyID), regenerationFileName) {
		if err := s.fs.LoadJSONFile(storyDir(storyID), regenerationFileName, &record); err != nil {
			return 0, fmt.Errorf("读取生成计数失败: %w", err)
		}
	}

	record.Attempts++
	record.LastAttempt = time.Now()

	if err := s.fs.SaveJSONFile(storyDir(storyID), regenerationFileName, &record); err != nil {
		return 0, fmt.Errorf("保存生成计数失败: %w", err)
	}

	return record.Attempts, nil
}

// RegenerationCount 返回已消耗的生成尝试次数
func (s *StoryStore) RegenerationCount(storyID string) (int, error) {
	if !s.fs.FileExists(storyDir(storyID), regenerationFileName) {
		return 0, nil
	}

	var record regenerationRecord
	if err := s.fs.LoadJSONFile(storyDir(storyID), regenerationFileName, &record); err != nil {
		return 0, fmt.Errorf("读取生成计数失败: %w", err)
	}
	return record.Attempts, nil
}

// ResetRegeneration 重置生成尝试计数。管理操作，不暴露给最终用户。
func (s *StoryStore) ResetRegeneration(storyID string) error {
	lock := s.lockFor(storyID)
	lock.Lock()
	defer lock.Unlock()

	record := regenerationRecord{Attempts: 0, LastAttempt: time.Now()}
	if err := s.fs.SaveJSONFile(storyDir(storyID), regenerationFileName, &record); err != nil {
		return fmt.Errorf("重置生成计数失败: %w", err)
	}
	return nil
}

// SavePreProduction 保存前期制作文档
func (s *StoryStore) SavePreProduction(doc *models.PreProductionDocument) error {
	dir := filepath.Join(storyDir(doc.StoryContextID), preProductionDirName)
	filename := fmt.Sprintf("%s_episode_%03d.json", doc.Type, doc.EpisodeNumber)
	if err := s.fs.SaveJSONFile(dir, filename, doc); err != nil {
		return fmt.Errorf("保存前期制作文档失败: %w", err)
	}
	return nil
}

// GetPreProduction 读取前期制作文档
func (s *StoryStore) GetPreProduction(storyID string, episodeNumber int, docType models.PreProductionType) (*models.PreProductionDocument, error) {
	dir := filepath.Join(storyDir(storyID), preProductionDirName)
	filename := fmt.Sprintf("%s_episode_%03d.json", docType, episodeNumber)

	if !s.fs.FileExists(dir, filename) {
		return nil, apperrors.NewNotFoundError(
			fmt.Sprintf("前期制作文档不存在: %s 第%d集", docType, episodeNumber), nil)
	}

	var doc models.PreProductionDocument
	if err := s.fs.LoadJSONFile(dir, filename, &doc); err != nil {
		return nil, fmt.Errorf("读取前期制作文档失败: %w", err)
	}

	return &doc, nil
}

// ListStories 列出全部故事圣经ID
func (s *StoryStore) ListStories() ([]string, error) {
	return s.fs.ListDirs("stories")
}

func episodeFileName(number int) string {
	return fmt.Sprintf("episode_%03d.json", number)
}
