package inject

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/libbyhq/libby/pkg/errors"
	"github.com/libbyhq/libby/pkg/library"
)

func artifact(t *testing.T, name string, isolated bool, loader string) LocalArtifact {
	t.Helper()
	return LocalArtifact{
		Descriptor: library.NewBuilder("com.example", name, "1.0").MustBuild(),
		Path:       filepath.Join(string(filepath.Separator)+"cache", name+".jar"),
		Isolated:   isolated,
		LoaderID:   loader,
	}
}

func TestClassPath_Routing(t *testing.T) {
	ctx := context.Background()
	cp := NewClassPath()

	for _, a := range []LocalArtifact{
		artifact(t, "a", false, ""),
		artifact(t, "b", true, "plugins"),
		artifact(t, "c", true, ""),
		artifact(t, "a", false, ""),
		artifact(t, "d", true, "plugins"),
	} {
		require.NoError(t, Inject(ctx, cp, a))
	}

	sep := string(os.PathListSeparator)
	assert.Equal(t, artifact(t, "a", false, "").Path, cp.String())
	assert.Equal(t, strings.Join([]string{artifact(t, "b", true, "").Path, artifact(t, "d", true, "").Path}, sep), cp.Isolated("plugins"))
	assert.Equal(t, artifact(t, "c", true, "").Path, cp.Isolated(""))
	assert.Equal(t, []string{"plugins", ""}, cp.Groups())
}

func TestClassPath_RejectsRelativePath(t *testing.T) {
	cp := NewClassPath()
	a := artifact(t, "a", false, "")
	a.Path = "relative.jar"

	err := cp.Add(context.Background(), a)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))
	assert.Equal(t, errors.StageInject, errors.Context(err).Stage)
}

func TestClassPath_WriteManifest(t *testing.T) {
	ctx := context.Background()
	cp := NewClassPath()
	require.NoError(t, cp.Add(ctx, artifact(t, "a", false, "")))
	require.NoError(t, cp.AddIsolated(ctx, "x", artifact(t, "b", true, "x")))

	path := filepath.Join(t.TempDir(), "classpath.json")
	require.NoError(t, cp.WriteManifest(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var m Manifest
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, ManifestVersion, m.Version)
	require.Len(t, m.ClassPath, 1)
	assert.Equal(t, "com.example:a:1.0", m.ClassPath[0].Coordinate)
	require.Len(t, m.Isolated["x"], 1)
	assert.Equal(t, "com.example:b:1.0", m.Isolated["x"][0].Coordinate)
}

func TestClassPath_EmptyManifest(t *testing.T) {
	m := NewClassPath().Manifest()
	assert.NotNil(t, m.ClassPath)
	assert.Empty(t, m.Isolated)
}
