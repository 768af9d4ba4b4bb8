package monaco

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fgeck/dynabackup/internal/models"
	"gopkg.in/yaml.v3"
)

// TokenEnvVar is the variable through which the child receives the credential.
const TokenEnvVar = "DT_API_TOKEN"

// ProjectName is the project folder monaco creates inside each run directory.
const ProjectName = "project"

type manifest struct {
	ManifestVersion   string             `yaml:"manifestVersion"`
	Projects          []manifestProject  `yaml:"projects"`
	EnvironmentGroups []environmentGroup `yaml:"environmentGroups"`
}

type manifestProject struct {
	Name string `yaml:"name"`
	Path string `yaml:"path,omitempty"`
}

type environmentGroup struct {
	Name         string                `yaml:"name"`
	Environments []manifestEnvironment `yaml:"environments"`
}

type manifestEnvironment struct {
	Name string      `yaml:"name"`
	URL  manifestURL `yaml:"url"`
	Auth struct {
		Token struct {
			Name string `yaml:"name"`
		} `yaml:"token"`
	} `yaml:"auth"`
}

type manifestURL struct {
	Value string `yaml:"value"`
}

// writeManifest writes a monaco v2 manifest for env into dir and returns its path.
// The manifest only names the token variable; the credential itself never touches disk.
func writeManifest(dir string, env models.EnvironmentConfig, projectPath string) (string, error) {
	e := manifestEnvironment{Name: env.Name, URL: manifestURL{Value: env.URL}}
	e.Auth.Token.Name = TokenEnvVar

	m := manifest{
		ManifestVersion: "1.0",
		Projects:        []manifestProject{{Name: ProjectName, Path: projectPath}},
		EnvironmentGroups: []environmentGroup{{
			Name:         "default",
			Environments: []manifestEnvironment{e},
		}},
	}

	data, err := yaml.Marshal(&m)
	if err != nil {
		return "", fmt.Errorf("encoding manifest: %w", err)
	}

	path := filepath.Join(dir, "manifest.yaml")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("writing manifest: %w", err)
	}
	return path, nil
}
