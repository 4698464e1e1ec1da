package app

import (
	"fmt"
	"os"
	"strings"

	"kw-listing/internal/config"
)

// resolveAPIKey reads the key from ~/.kw-listing/.env and falls back to the
// process environment.
func resolveAPIKey(paths *config.Paths, keyName string) (string, error) {
	keyName = strings.TrimSpace(keyName)
	if keyName == "" {
		keyName = "OPENAI_API_KEY"
	}
	envMap := map[string]string{}
	if _, err := os.Stat(paths.EnvPath); err == nil {
		loaded, err := config.LoadEnvFile(paths.EnvPath)
		if err != nil {
			return "", err
		}
		envMap = loaded
	}
	if key := config.ResolveAPIKey(envMap, keyName); key != "" {
		return key, nil
	}
	return "", fmt.Errorf("尚未配置 API KEY（%s）\n执行：kw-listing set key <api_key>", keyName)
}
