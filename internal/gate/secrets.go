package gate

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/pipewright/pipewright/internal/model"
)

// bindSecrets loads the environment's dotenv secrets file and merges the
// plain vars over it. Bindings never touch the process environment; they are
// handed to the deployer for this one promotion only. A missing secrets file
// is an error; an environment with no secrets_file binds vars alone.
func bindSecrets(env *model.Environment) (map[string]string, error) {
	bindings := make(map[string]string, len(env.Vars))

	if env.SecretsFile != "" {
		if _, err := os.Stat(env.SecretsFile); err != nil {
			return nil, fmt.Errorf("secrets file for environment %q: %w", env.Name, err)
		}
		secrets, err := godotenv.Read(env.SecretsFile)
		if err != nil {
			return nil, fmt.Errorf("parsing secrets file %q: %w", env.SecretsFile, err)
		}
		for k, v := range secrets {
			bindings[k] = v
		}
	}

	// Plain vars override secrets on collision; they are the visible layer.
	for k, v := range env.Vars {
		bindings[k] = v
	}
	return bindings, nil
}
