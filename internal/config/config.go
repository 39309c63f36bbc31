// internal/config/config.go
package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Corphon/SeriesForgeMCP/internal/utils"
	"github.com/joho/godotenv"
)

// 当前配置的单例实例
var (
	currentConfig *AppConfig
	configMutex   sync.RWMutex
	configFile    string
)

// AppConfig 包含应用程序的所有配置
type AppConfig struct {
	// 基础配置
	Port      string `json:"port"`
	DataDir   string `json:"data_dir"`
	LogDir    string `json:"log_dir"`
	DebugMode bool   `json:"debug_mode"`

	// 生成后端配置：主后端与备份后端各自独立的提供商凭据
	PrimaryProvider string            `json:"primary_provider"`
	PrimaryConfig   map[string]string `json:"primary_config"`
	BackupProvider  string            `json:"backup_provider"`
	BackupConfig    map[string]string `json:"backup_config"`

	// 流水线设置文件路径（YAML）
	PipelineFile string `json:"pipeline_file,omitempty"`

	// API访问令牌的签名密钥，仅保存在进程内，不落盘
	AuthSecret string `json:"-"`
}

// encryptionKey 用于API密钥落盘加密，来自环境变量，只在进程内保存
var encryptionKey string

// encryptedPrefix 标记配置文件中已加密的字段值
const encryptedPrefix = "enc:"

// sealKey 按需加密一个密钥值用于落盘
func sealKey(value string) string {
	if encryptionKey == "" || value == "" || strings.HasPrefix(value, encryptedPrefix) {
		return value
	}
	sealed, err := utils.Encrypt(value, encryptionKey)
	if err != nil {
		log.Printf("警告: 加密API密钥失败，将以明文保存: %v", err)
		return value
	}
	return encryptedPrefix + sealed
}

// openKey 解密从配置文件加载的密钥值
func openKey(value string) string {
	if !strings.HasPrefix(value, encryptedPrefix) {
		return value
	}
	if encryptionKey == "" {
		log.Printf("警告: 配置中的API密钥已加密但未设置CONFIG_ENCRYPTION_KEY")
		return ""
	}
	opened, err := utils.Decrypt(strings.TrimPrefix(value, encryptedPrefix), encryptionKey)
	if err != nil {
		log.Printf("警告: 解密API密钥失败: %v", err)
		return ""
	}
	return opened
}

// Config 存储从环境变量加载的基础配置
type Config struct {
	Port            string
	DataDir         string
	LogDir          string
	DebugMode       bool
	PrimaryProvider string
	BackupProvider  string
	OpenAIAPIKey    string
	AnthropicAPIKey string
	GoogleAPIKey    string
	PipelineFile    string
	AuthSecret      string
	EncryptionKey   string
}

// Load 从环境变量加载配置
func Load() (*Config, error) {
	// 尝试加载.env文件（可选）
	godotenv.Load()

	config := &Config{
		Port:            getEnv("PORT", "8080"),
		DataDir:         getEnvPath("DATA_DIR", "data"),
		LogDir:          getEnvPath("LOG_DIR", "logs"),
		DebugMode:       getEnvBool("DEBUG_MODE", true),
		PrimaryProvider: getEnv("PRIMARY_PROVIDER", "openai"),
		BackupProvider:  getEnv("BACKUP_PROVIDER", "anthropic"),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		GoogleAPIKey:    getEnv("GOOGLE_API_KEY", ""),
		PipelineFile:    getEnv("PIPELINE_FILE", ""),
		AuthSecret:      getEnv("AUTH_SECRET", ""),
		EncryptionKey:   getEnv("CONFIG_ENCRYPTION_KEY", ""),
	}

	if config.OpenAIAPIKey == "" && config.AnthropicAPIKey == "" && config.GoogleAPIKey == "" {
		// 只记录警告，不返回错误
		log.Println("警告: 未设置任何生成后端的API密钥，生成功能在配置密钥前不可用")
	}

	return config, nil
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvPath 获取环境变量表示的路径，如果不存在则返回默认值
func getEnvPath(key, defaultValue string) string {
	path := getEnv(key, defaultValue)

	// 确保目录存在
	if _, err := os.Stat(path); os.IsNotExist(err) {
		err = os.MkdirAll(path, 0755)
		if err != nil {
			fmt.Printf("警告: 创建目录失败 %s: %v\n", path, err)
		}
	}

	return path
}

// getEnvBool 获取布尔类型环境变量
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	return value == "true" || value == "1" || value == "yes"
}

// providerKey 返回提供商对应的环境变量密钥
func (c *Config) providerKey(provider string) string {
	switch provider {
	case "openai":
		return c.OpenAIAPIKey
	case "anthropic":
		return c.AnthropicAPIKey
	case "google":
		return c.GoogleAPIKey
	}
	return ""
}

// InitConfig 初始化配置管理器
func InitConfig(dataDir string) error {
	configFile = filepath.Join(dataDir, "config.json")

	// 加载基础配置
	baseConfig, err := Load()
	if err != nil {
		return err
	}

	configMutex.Lock()
	defer configMutex.Unlock()

	encryptionKey = baseConfig.EncryptionKey

	currentConfig = &AppConfig{
		Port:            baseConfig.Port,
		DataDir:         baseConfig.DataDir,
		LogDir:          baseConfig.LogDir,
		DebugMode:       baseConfig.DebugMode,
		PrimaryProvider: baseConfig.PrimaryProvider,
		PrimaryConfig: map[string]string{
			"api_key": baseConfig.providerKey(baseConfig.PrimaryProvider),
		},
		BackupProvider: baseConfig.BackupProvider,
		BackupConfig: map[string]string{
			"api_key": baseConfig.providerKey(baseConfig.BackupProvider),
		},
		PipelineFile: baseConfig.PipelineFile,
		AuthSecret:   baseConfig.AuthSecret,
	}

	// 尝试从文件加载已保存的配置
	if _, err := os.Stat(configFile); !os.IsNotExist(err) {
		data, err := os.ReadFile(configFile)
		if err == nil {
			var savedConfig AppConfig
			if json.Unmarshal(data, &savedConfig) == nil {
				// 合并配置：保留文件中的后端设置，使用最新的基础配置
				savedConfig.Port = baseConfig.Port
				savedConfig.DataDir = baseConfig.DataDir
				savedConfig.LogDir = baseConfig.LogDir
				savedConfig.DebugMode = baseConfig.DebugMode
				savedConfig.AuthSecret = baseConfig.AuthSecret

				// 落盘加密的密钥需要先解密
				if savedConfig.PrimaryConfig != nil {
					savedConfig.PrimaryConfig["api_key"] = openKey(savedConfig.PrimaryConfig["api_key"])
				}
				if savedConfig.BackupConfig != nil {
					savedConfig.BackupConfig["api_key"] = openKey(savedConfig.BackupConfig["api_key"])
				}

				// 文件中缺少密钥时回退到环境变量
				if savedConfig.PrimaryConfig != nil && savedConfig.PrimaryConfig["api_key"] == "" {
					savedConfig.PrimaryConfig["api_key"] = baseConfig.providerKey(savedConfig.PrimaryProvider)
				}
				if savedConfig.BackupConfig != nil && savedConfig.BackupConfig["api_key"] == "" {
					savedConfig.BackupConfig["api_key"] = baseConfig.providerKey(savedConfig.BackupProvider)
				}

				currentConfig = &savedConfig
			}
		}
	}

	// 保存初始配置到文件
	return SaveConfig()
}

// GetCurrentConfig 返回当前配置的副本
func GetCurrentConfig() *AppConfig {
	configMutex.RLock()
	defer configMutex.RUnlock()

	if currentConfig == nil {
		// 紧急情况，返回一个基本配置
		baseConfig, _ := Load()
		return &AppConfig{
			Port:            baseConfig.Port,
			DataDir:         baseConfig.DataDir,
			LogDir:          baseConfig.LogDir,
			DebugMode:       baseConfig.DebugMode,
			PrimaryProvider: baseConfig.PrimaryProvider,
			PrimaryConfig: map[string]string{
				"api_key": baseConfig.providerKey(baseConfig.PrimaryProvider),
			},
			BackupProvider: baseConfig.BackupProvider,
			BackupConfig: map[string]string{
				"api_key": baseConfig.providerKey(baseConfig.BackupProvider),
			},
			AuthSecret: baseConfig.AuthSecret,
		}
	}

	// 返回配置的副本
	configCopy := *currentConfig
	return &configCopy
}

// UpdateBackendConfig 更新生成后端配置
func UpdateBackendConfig(primaryProvider string, primaryConfig map[string]string, backupProvider string, backupConfig map[string]string) error {
	configMutex.Lock()
	defer configMutex.Unlock()

	if currentConfig == nil {
		return fmt.Errorf("配置系统未初始化")
	}

	currentConfig.PrimaryProvider = primaryProvider
	currentConfig.PrimaryConfig = primaryConfig
	currentConfig.BackupProvider = backupProvider
	currentConfig.BackupConfig = backupConfig

	return SaveConfig()
}

// SaveConfig 保存当前配置到文件
func SaveConfig() error {
	if currentConfig == nil {
		return fmt.Errorf("没有配置可保存")
	}

	// 确保目录存在
	dir := filepath.Dir(configFile)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("创建配置目录失败: %w", err)
		}
	}

	// 落盘副本中的API密钥按需加密，内存中始终保持明文
	diskConfig := *currentConfig
	diskConfig.PrimaryConfig = sealedConfigMap(currentConfig.PrimaryConfig)
	diskConfig.BackupConfig = sealedConfigMap(currentConfig.BackupConfig)

	// 序列化并保存
	data, err := json.MarshalIndent(&diskConfig, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化配置失败: %w", err)
	}

	return os.WriteFile(configFile, data, 0644)
}

// sealedConfigMap 复制后端配置并加密其中的API密钥
func sealedConfigMap(src map[string]string) map[string]string {
	if src == nil {
		return nil
	}
	dst := make(map[string]string, len(src))
	for k, v := range src {
		if k == "api_key" {
			dst[k] = sealKey(v)
		} else {
			dst[k] = v
		}
	}
	return dst
}
