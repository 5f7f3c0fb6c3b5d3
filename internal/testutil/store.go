// Package testutil provides shared fixtures for tests that need a post store.
package testutil

import (
	"io"
	"log/slog"
	"testing"

	"stableposts/internal/bootstrap"
	"stableposts/internal/models"
	"stableposts/internal/stable"

	"github.com/stretchr/testify/require"
)

// QuietLogger discards everything.
func QuietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// NewPostStore opens an in-memory post map that is closed when t ends.
func NewPostStore(t testing.TB, opts stable.Options) *stable.BTreeMap[models.Post] {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = QuietLogger()
	}
	backend, err := stable.OpenPebble(stable.PebbleOptions{InMemory: true, Logger: opts.Logger})
	require.NoError(t, err)
	posts, err := stable.Open[models.Post]("posts", backend, stable.NewJSONCodec[models.Post](bootstrap.PostCodecVersion), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = posts.Close() })
	return posts
}
