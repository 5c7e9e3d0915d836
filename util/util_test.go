package util

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSocketPathHonoursEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(DataDirEnv, dir)

	assert.Equal(t, dir, GetDataDir())

	path, err := GetSocketPath("demo")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "sockets", "peripheral-demo.sock"), path)
	assert.DirExists(t, filepath.Join(dir, "sockets"))
}

func TestGoNamesGoroutine(t *testing.T) {
	got := make(chan string, 1)
	Go(context.Background(), "actor", func(ctx context.Context) {
		got <- GoroutineName(ctx)
	})

	select {
	case name := <-got:
		assert.Equal(t, "actor", name)
	case <-time.After(time.Second):
		t.Fatal("goroutine did not run")
	}

	assert.Empty(t, GoroutineName(context.Background()))
}
