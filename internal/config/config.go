package config

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"
)

const (
	defaultConfigName   = "config.json"
	defaultSitesDir     = "sites"
	defaultBackupsDir   = "backups"
	defaultDatabaseFile = "wpdock.db"
	defaultPort         = 8080
	secretFileName      = ".wpdock_secret"
	envPrefix           = "WPDOCK_"
)

type Config struct {
	Port         int    `json:"port"`
	SitesPath    string `json:"sites_path"`
	BackupsPath  string `json:"backups_path"`
	DatabasePath string `json:"database_path"`

	BaseDomain     string `json:"base_domain"`
	PublicHost     string `json:"public_host"`
	PortRangeStart int    `json:"port_range_start"`
	PortRangeEnd   int    `json:"port_range_end"`

	MySQLAdminDSN   string `json:"mysql_admin_dsn"`
	ContainerDBHost string `json:"container_db_host"`
	MySQLDumpBinary string `json:"mysqldump_binary"`
	MySQLBinary     string `json:"mysql_binary"`

	DockerBinary   string `json:"docker_binary"`
	WordPressImage string `json:"wordpress_image"`
	WPCLIImage     string `json:"wpcli_image"`

	NginxSitesAvailable string `json:"nginx_sites_available"`
	NginxSitesEnabled   string `json:"nginx_sites_enabled"`
	NginxReload         bool   `json:"nginx_reload"`

	JobWorkers        int    `json:"job_workers"`
	JobQueueSize      int    `json:"job_queue_size"`
	ToggleWait        string `json:"toggle_wait"`
	ReconcileInterval string `json:"reconcile_interval"`
	ProbeTimeout      string `json:"probe_timeout"`
	HealthTimeout     string `json:"health_timeout"`

	BackupKeep    int `json:"backup_keep"`
	ActivityLimit int `json:"activity_limit"`
	JobHistory    int `json:"job_history"`

	AdminUsername string `json:"admin_username"`
	AdminPassword string `json:"admin_password"`
}

func defaults(configDir string) Config {
	return Config{
		Port:                defaultPort,
		SitesPath:           filepath.Join(configDir, defaultSitesDir),
		BackupsPath:         filepath.Join(configDir, defaultBackupsDir),
		DatabasePath:        filepath.Join(configDir, defaultDatabaseFile),
		PublicHost:          "localhost",
		PortRangeStart:      8100,
		PortRangeEnd:        8199,
		MySQLAdminDSN:       "root:root@tcp(127.0.0.1:3306)/",
		ContainerDBHost:     "host.docker.internal:3306",
		MySQLDumpBinary:     "mysqldump",
		MySQLBinary:         "mysql",
		DockerBinary:        "docker",
		WordPressImage:      "wordpress:latest",
		WPCLIImage:          "wordpress:cli",
		NginxSitesAvailable: "/etc/nginx/sites-available",
		NginxSitesEnabled:   "/etc/nginx/sites-enabled",
		NginxReload:         true,
		JobWorkers:          4,
		JobQueueSize:        64,
		ToggleWait:          "3s",
		ReconcileInterval:   "30s",
		ProbeTimeout:        "5s",
		HealthTimeout:       "2m",
		BackupKeep:          10,
		ActivityLimit:       100,
		JobHistory:          50,
		AdminUsername:       "admin",
	}
}

func LoadConfig(configDir string) (*Config, error) {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return nil, err
	}

	configPath := filepath.Join(configDir, defaultConfigName)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := createDefaultConfig(configPath, configDir); err != nil {
			return nil, err
		}
	}

	file, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	cfg := defaults(configDir)
	if err := json.Unmarshal(file, &cfg); err != nil {
		return nil, fmt.Errorf("error parsing %s: %w", configPath, err)
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func createDefaultConfig(configPath, configDir string) error {
	cfg := defaults(configDir)

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(configPath, data, 0600)
}

// applyEnv overrides every field from WPDOCK_<JSON_TAG_UPPER>.
func applyEnv(cfg *Config) error {
	v := reflect.ValueOf(cfg).Elem()
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		tag := strings.Split(t.Field(i).Tag.Get("json"), ",")[0]
		raw, ok := os.LookupEnv(envPrefix + strings.ToUpper(tag))
		if !ok {
			continue
		}
		field := v.Field(i)
		switch field.Kind() {
		case reflect.String:
			field.SetString(raw)
		case reflect.Int:
			n, err := strconv.Atoi(raw)
			if err != nil {
				return fmt.Errorf("%s%s: %w", envPrefix, strings.ToUpper(tag), err)
			}
			field.SetInt(int64(n))
		case reflect.Bool:
			b, err := strconv.ParseBool(raw)
			if err != nil {
				return fmt.Errorf("%s%s: %w", envPrefix, strings.ToUpper(tag), err)
			}
			field.SetBool(b)
		}
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.PortRangeStart <= 0 || c.PortRangeEnd > 65535 || c.PortRangeStart > c.PortRangeEnd {
		return fmt.Errorf("invalid port range: %d-%d", c.PortRangeStart, c.PortRangeEnd)
	}
	if c.JobWorkers <= 0 {
		return fmt.Errorf("job_workers must be positive")
	}
	for name, raw := range map[string]string{
		"toggle_wait":        c.ToggleWait,
		"reconcile_interval": c.ReconcileInterval,
		"probe_timeout":      c.ProbeTimeout,
		"health_timeout":     c.HealthTimeout,
	} {
		if _, err := time.ParseDuration(raw); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func (c *Config) Duration(raw string) time.Duration {
	d, _ := time.ParseDuration(raw)
	return d
}

// SiteURL builds the public URL of a site from its subdomain and port.
func (c *Config) SiteURL(subdomain string, port int) string {
	if c.BaseDomain != "" {
		return fmt.Sprintf("http://%s.%s", subdomain, c.BaseDomain)
	}
	return fmt.Sprintf("http://%s:%d", c.PublicHost, port)
}

func IsDev() bool {
	return os.Getenv(envPrefix+"ENV") == "dev"
}

func Env() string {
	if IsDev() {
		return "dev"
	}
	return "production"
}

// DefaultDir returns the directory config.json lives in unless
// WPDOCK_CONFIG_DIR says otherwise.
func DefaultDir() (string, error) {
	if dir := os.Getenv(envPrefix + "CONFIG_DIR"); dir != "" {
		return dir, nil
	}
	if os.Geteuid() == 0 {
		return "/etc/wpdock", nil
	}
	userConfigDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	appName := "wpdock"
	if IsDev() {
		appName = "wpdock-dev"
	}
	return filepath.Join(userConfigDir, appName), nil
}

func LoadOrGenerateSecret(dir string) string {
	if secret := os.Getenv(envPrefix + "SECRET_KEY"); secret != "" {
		return secret
	}

	secretPath := filepath.Join(dir, secretFileName)
	if data, err := os.ReadFile(secretPath); err == nil {
		if secret := strings.TrimSpace(string(data)); secret != "" {
			return secret
		}
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	secret := hex.EncodeToString(buf)

	_ = os.MkdirAll(dir, 0755)
	_ = os.WriteFile(secretPath, []byte(secret), 0600)

	return secret
}
