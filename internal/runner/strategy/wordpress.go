package strategy

import (
	"fmt"

	"wpdock/internal/domain"

	"gopkg.in/yaml.v3"
)

type composeFile struct {
	Name     string                    `yaml:"name"`
	Services map[string]composeService `yaml:"services"`
}

type composeService struct {
	Image         string            `yaml:"image"`
	ContainerName string            `yaml:"container_name,omitempty"`
	Restart       string            `yaml:"restart,omitempty"`
	User          string            `yaml:"user,omitempty"`
	Command       []string          `yaml:"command,omitempty"`
	Ports         []string          `yaml:"ports,omitempty"`
	Environment   map[string]string `yaml:"environment,omitempty"`
	Volumes       []string          `yaml:"volumes,omitempty"`
	ExtraHosts    []string          `yaml:"extra_hosts,omitempty"`
	DependsOn     []string          `yaml:"depends_on,omitempty"`
}

type WordPress struct{}

func (w *WordPress) Name() string { return domain.PlatformWordPress }

func (w *WordPress) Compose(site domain.Site, opts Options) ([]byte, error) {
	if site.WPPort <= 0 {
		return nil, fmt.Errorf("site %s has no port", site.ProjectName)
	}
	if opts.WordPressImage == "" {
		opts.WordPressImage = "wordpress:latest"
	}
	if opts.CLIImage == "" {
		opts.CLIImage = "wordpress:cli"
	}

	port := fmt.Sprintf("%d:80", site.WPPort)
	if opts.BindAddress != "" {
		port = opts.BindAddress + ":" + port
	}

	env := map[string]string{
		"WORDPRESS_DB_HOST":     opts.DBHost,
		"WORDPRESS_DB_NAME":     site.DBName,
		"WORDPRESS_DB_USER":     site.DBUser,
		"WORDPRESS_DB_PASSWORD": site.DBPassword,
	}
	volumes := []string{"./html:/var/www/html"}
	hosts := []string{"host.docker.internal:host-gateway"}

	file := composeFile{
		Name: site.ProjectName,
		Services: map[string]composeService{
			"wordpress": {
				Image:         opts.WordPressImage,
				ContainerName: site.ProjectName + "_wordpress",
				Restart:       "unless-stopped",
				Ports:         []string{port},
				Environment:   env,
				Volumes:       volumes,
				ExtraHosts:    hosts,
			},
			"cli": {
				Image:         opts.CLIImage,
				ContainerName: site.ProjectName + "_cli",
				Restart:       "unless-stopped",
				User:          "33:33",
				Command:       []string{"sleep", "infinity"},
				Environment:   env,
				Volumes:       volumes,
				ExtraHosts:    hosts,
				DependsOn:     []string{"wordpress"},
			},
		},
	}

	out, err := yaml.Marshal(&file)
	if err != nil {
		return nil, fmt.Errorf("error rendering compose file: %w", err)
	}
	return out, nil
}
