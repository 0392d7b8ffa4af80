package strategy

import (
	"errors"
	"testing"

	"wpdock/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestGetPlatform(t *testing.T) {
	p, err := GetPlatform("")
	require.NoError(t, err)
	assert.Equal(t, "wordpress", p.Name())

	p, err = GetPlatform("WordPress")
	require.NoError(t, err)
	assert.Equal(t, "wordpress", p.Name())

	_, err = GetPlatform("drupal")
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func TestWordPressCompose(t *testing.T) {
	site := domain.Site{
		ProjectName: "demo",
		WPPort:      8101,
		DBName:      "wp_demo",
		DBUser:      "wp_demo_ab12",
		DBPassword:  "s3cret",
	}

	out, err := (&WordPress{}).Compose(site, Options{DBHost: "host.docker.internal:3306", BindAddress: "127.0.0.1"})
	require.NoError(t, err)

	var parsed composeFile
	require.NoError(t, yaml.Unmarshal(out, &parsed))

	wp := parsed.Services["wordpress"]
	assert.Equal(t, "wordpress:latest", wp.Image)
	assert.Equal(t, []string{"127.0.0.1:8101:80"}, wp.Ports)
	assert.Equal(t, "wp_demo", wp.Environment["WORDPRESS_DB_NAME"])
	assert.Equal(t, "host.docker.internal:3306", wp.Environment["WORDPRESS_DB_HOST"])

	cli := parsed.Services["cli"]
	assert.Equal(t, "wordpress:cli", cli.Image)
	assert.Equal(t, wp.Volumes, cli.Volumes)
	assert.Equal(t, "33:33", cli.User)
}

func TestWordPressComposeNeedsPort(t *testing.T) {
	_, err := (&WordPress{}).Compose(domain.Site{ProjectName: "demo"}, Options{})
	assert.Error(t, err)
}
