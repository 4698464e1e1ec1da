package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

func LoadEnvFile(path string) (map[string]string, error) {
	out, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("读取 .env 失败：%w", err)
	}
	return out, nil
}

func UpsertEnvVar(path, key, value string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("env key 为空")
	}
	env := map[string]string{}
	if _, err := os.Stat(path); err == nil {
		existing, err := godotenv.Read(path)
		if err != nil {
			return fmt.Errorf("读取 .env 失败：%w", err)
		}
		env = existing
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("读取 .env 失败：%w", err)
	}
	env[key] = strings.TrimSpace(value)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("创建 .env 目录失败：%w", err)
	}
	if err := godotenv.Write(env, path); err != nil {
		return fmt.Errorf("写入 .env 失败：%w", err)
	}
	return nil
}

// ResolveAPIKey prefers the .env value and falls back to the process environment.
func ResolveAPIKey(envMap map[string]string, keyName string) string {
	if v := strings.TrimSpace(envMap[keyName]); v != "" {
		return v
	}
	return strings.TrimSpace(os.Getenv(keyName))
}
