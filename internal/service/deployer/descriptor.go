package deployer

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/pagehaul/pagehaul/internal/config"
)

const (
	// DescriptorFilename is the name the descriptor gets on the host.
	DescriptorFilename = "docker-compose.yaml"

	// servicePort is the fixed HTTP port exposed on the host and inside
	// the container.
	servicePort = "80:80"

	// restartPolicy restarts the service automatically on failure.
	restartPolicy = "on-failure"
)

// composeDocument is the deployment descriptor: one service running the
// mutable image reference.
type composeDocument struct {
	// Services maps the service name to its definition.
	Services map[string]composeService `yaml:"services"`
}

// composeService declares the single site-serving service.
type composeService struct {
	// Image is the artifact reference to run, by mutable tag.
	Image string `yaml:"image"`
	// Ports maps the host port to the container port.
	Ports []string `yaml:"ports"`
	// Restart is the automatic restart policy.
	Restart string `yaml:"restart"`
}

// RenderDescriptor produces the deployment descriptor for the configured
// image. It is regenerated on every deployment and overwrites the previous
// copy on the host.
func RenderDescriptor(cfg *config.Config) ([]byte, error) {
	document := composeDocument{
		Services: map[string]composeService{
			cfg.Deploy.ServiceName: {
				Image:   cfg.Image.Repository + ":" + cfg.Image.MutableTag,
				Ports:   []string{servicePort},
				Restart: restartPolicy,
			},
		},
	}

	data, err := yaml.Marshal(document)
	if err != nil {
		return nil, fmt.Errorf("marshal descriptor: %w", err)
	}

	return data, nil
}
