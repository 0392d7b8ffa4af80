package database

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"wpdock/internal/runner"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureExec struct {
	last runner.Command
	out  string
}

func (c *captureExec) Run(ctx context.Context, cmd runner.Command) (string, error) {
	c.last = cmd
	if cmd.Stdout != nil {
		_, _ = cmd.Stdout.Write([]byte(c.out))
	}
	return "", nil
}

func TestOpenRejectsBadDSN(t *testing.T) {
	_, err := Open("not a dsn", Options{})
	assert.Error(t, err)
}

func TestDumpUsesAdminCredentialsFromDSN(t *testing.T) {
	fe := &captureExec{out: "-- dump\n"}
	admin, err := Open("root:toor@tcp(db.internal:3307)/", Options{Exec: fe})
	require.NoError(t, err)
	defer admin.Close()

	var buf bytes.Buffer
	require.NoError(t, admin.Dump(context.Background(), "wp_demo", &buf))

	assert.Equal(t, "-- dump\n", buf.String())
	assert.Equal(t, "mysqldump", fe.last.Name)
	assert.Contains(t, fe.last.Args, "--host=db.internal")
	assert.Contains(t, fe.last.Args, "--port=3307")
	assert.Contains(t, fe.last.Args, "--user=root")
	assert.Equal(t, "wp_demo", fe.last.Args[len(fe.last.Args)-1])
	assert.Equal(t, []string{"MYSQL_PWD=toor"}, fe.last.Env)
	for _, a := range fe.last.Args {
		assert.NotContains(t, a, "toor")
	}
}

func TestImportFeedsStdin(t *testing.T) {
	fe := &captureExec{}
	admin, err := Open("root@tcp(127.0.0.1:3306)/", Options{Exec: fe, MySQLBinary: "mariadb"})
	require.NoError(t, err)
	defer admin.Close()

	require.NoError(t, admin.Import(context.Background(), "wp_demo", strings.NewReader("SELECT 1;")))
	assert.Equal(t, "mariadb", fe.last.Name)
	assert.NotNil(t, fe.last.Stdin)
	assert.Empty(t, fe.last.Env)
}

func TestIdentifiersAreChecked(t *testing.T) {
	admin, err := Open("root@tcp(127.0.0.1:3306)/", Options{Exec: &captureExec{}})
	require.NoError(t, err)
	defer admin.Close()

	ctx := context.Background()
	assert.Error(t, admin.CreateDatabase(ctx, "wp`; DROP", "u", "p"))
	assert.Error(t, admin.CreateDatabase(ctx, "wp_ok", "bad-user", "p"))
	assert.Error(t, admin.DropDatabase(ctx, "", ""))
	assert.Error(t, admin.Dump(ctx, "x y", &bytes.Buffer{}))
}
