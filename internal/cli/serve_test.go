package cli

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/varkeep/internal/store"
)

func TestServe_StopsOnCancel(t *testing.T) {
	rootOpts := testOptions(t, "text", testDefsYAML)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	buf := &bytes.Buffer{}
	cmd := &cobra.Command{}
	cmd.SetContext(ctx)
	cmd.SetOut(buf)

	var body string
	opts := &ServeOptions{
		RootOptions: rootOpts,
		MetricsAddr: "127.0.0.1:0",
		Ready: func(addr string) {
			defer cancel()
			resp, err := http.Get("http://" + addr + "/metrics")
			if err != nil {
				t.Errorf("scrape metrics: %v", err)
				return
			}
			defer resp.Body.Close()
			data, _ := io.ReadAll(resp.Body)
			body = string(data)
		},
	}

	done := make(chan error, 1)
	go func() { done <- runServe(opts, cmd) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop after cancel")
	}

	assert.Contains(t, buf.String(), "Engine started")
	assert.Contains(t, body, "varkeep_memstore_dirty_entries")
}

func TestServe_BadDatabase(t *testing.T) {
	rootOpts := testOptions(t, "text", testDefsYAML)
	rootOpts.Config.Driver = "oracle"

	_, err := execute(t, NewServeCommand(rootOpts))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestReloadDefinitions(t *testing.T) {
	rootOpts := testOptions(t, "text", testDefsYAML)
	ctx := context.Background()

	sess, err := openSession(ctx, rootOpts)
	require.NoError(t, err)
	defer sess.Close(ctx)

	_, err = sess.engine.Get(ctx, "", "mana")
	require.Error(t, err)

	sess.cfg.Definitions = writeFile(t, "more.yaml", testDefsYAML+`  mana:
    scope: global
    type: INT
    initial: "9"
`)
	reloadDefinitions(sess)
	assert.Len(t, sess.defs, 5)

	v, err := sess.engine.Get(ctx, "", "mana")
	require.NoError(t, err)
	assert.Equal(t, "9", v)

	// A broken file keeps the running set.
	sess.cfg.Definitions = writeFile(t, "broken.yaml", "variables: [\n")
	reloadDefinitions(sess)
	assert.Len(t, sess.defs, 5)
}

func TestSessionCloseFlushes(t *testing.T) {
	rootOpts := testOptions(t, "text", testDefsYAML)
	ctx := context.Background()

	sess, err := openSession(ctx, rootOpts)
	require.NoError(t, err)
	_, err = sess.engine.Set(ctx, "", "gold", "12")
	require.NoError(t, err)
	require.NoError(t, sess.Close(ctx))

	st, err := store.Open(rootOpts.Config.DBPath)
	require.NoError(t, err)
	defer st.Close()

	v, ok, err := st.QueryValue(ctx, "SELECT value FROM global_variables WHERE variable_key = ?", "gold")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "12", v)
}
