package config

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var placeholder = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// LoadConfig 按优先级合并配置文件：base.yaml <- {env}.yaml，再替换 ${VAR} 占位符。
// 占位符先查 secrets.env，再查系统环境变量。
func LoadConfig(env string, configDir string) (map[string]any, error) {
	if configDir == "" {
		configDir = "config"
	}

	merged, err := loadYAMLFile(filepath.Join(configDir, "base.yaml"))
	if err != nil {
		return nil, fmt.Errorf("failed to load base.yaml: %w", err)
	}

	if env != "" && env != "base" {
		overlay, err := loadYAMLFile(filepath.Join(configDir, env+".yaml"))
		switch {
		case errors.Is(err, fs.ErrNotExist):
			// 没有环境文件时只用 base
		case err != nil:
			return nil, fmt.Errorf("failed to load %s.yaml: %w", env, err)
		default:
			mergeInto(merged, overlay)
		}
	}

	secrets, err := loadEnvFile(filepath.Join(configDir, "secrets.env"))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load secrets.env: %w", err)
	}
	expand(merged, func(name string) (string, bool) {
		if v, ok := secrets[name]; ok {
			return v, true
		}
		return os.LookupEnv(name)
	})

	return merged, nil
}

// Load 加载并解码为 Config：默认值 <- base.yaml <- {env}.yaml <- secrets.env <- 系统环境变量
func Load(env string, configDir string) (*Config, error) {
	merged, err := LoadConfig(env, configDir)
	if err != nil {
		return nil, err
	}

	// 通过 YAML 往返把合并后的 map 解码到强类型结构
	data, err := yaml.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("failed to encode merged config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	OverrideFromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验关键配置
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "memory", "postgres":
	default:
		return fmt.Errorf("unsupported storage driver %q", c.Storage.Driver)
	}
	if c.Upload.TickInterval <= 0 {
		return fmt.Errorf("upload.tick_interval must be positive")
	}
	if c.Upload.MaxStep <= 0 || c.Upload.MaxStep > 100 {
		return fmt.Errorf("upload.max_step must be within 1..100")
	}
	if c.Upload.MaxParallel < 0 {
		return fmt.Errorf("upload.max_parallel must not be negative")
	}
	return nil
}

func loadYAMLFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any)
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return out, nil
}

// loadEnvFile 解析 KEY=VALUE 格式，忽略空行和 # 注释，去掉值两侧的引号
func loadEnvFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	env := make(map[string]string)
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		if len(value) >= 2 && (value[0] == '"' || value[0] == '\'') && value[len(value)-1] == value[0] {
			value = value[1 : len(value)-1]
		}
		env[strings.TrimSpace(key)] = value
	}
	return env, sc.Err()
}

// mergeInto 把 src 递归合并进 dst，同名的非 map 值以 src 为准
func mergeInto(dst, src map[string]any) {
	for k, v := range src {
		srcMap, srcIsMap := v.(map[string]any)
		dstMap, dstIsMap := dst[k].(map[string]any)
		if srcIsMap && dstIsMap {
			mergeInto(dstMap, srcMap)
			continue
		}
		dst[k] = v
	}
}

// expand 原地替换所有字符串值中的 ${VAR}；找不到的占位符替换为空串
func expand(node map[string]any, lookup func(string) (string, bool)) {
	for k, v := range node {
		switch val := v.(type) {
		case string:
			node[k] = placeholder.ReplaceAllStringFunc(val, func(m string) string {
				value, _ := lookup(placeholder.FindStringSubmatch(m)[1])
				return value
			})
		case map[string]any:
			expand(val, lookup)
		}
	}
}

// GetEnv 获取环境变量，如果未设置则返回默认值
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetConfigEnv 获取配置环境（从环境变量 CONFIG_ENV，默认为 local）
func GetConfigEnv() string {
	return GetEnv("CONFIG_ENV", "local")
}

