package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

const templateHeader = `# capipc runtime configuration.
# Policies: "ignore" answers success, "error" returns a result code,
# "fatal" aborts the process. Only log_level is reloaded while running.

`

// Template renders Default as TOML.
func Template() (string, error) {
	body, err := toml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("config template: %w", err)
	}
	return templateHeader + string(body), nil
}

func WriteTemplate(path string, overwrite bool) error {
	template, err := Template()
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}
