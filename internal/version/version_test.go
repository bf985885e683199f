package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func withVersion(t *testing.T, v string) {
	t.Helper()
	orig := Version
	Version = v
	t.Cleanup(func() { Version = orig })
}

func TestDevBuild(t *testing.T) {
	withVersion(t, "dev")

	assert.True(t, IsDev())
	assert.Equal(t, "devflow version dev (built from source)", Full())
	assert.Equal(t, "devflow/dev (https://github.com/devflow-labs/devflow)", UserAgent())
}

func TestReleaseBuild(t *testing.T) {
	for _, v := range []string{"1.2.3", "v0.4.0", ""} {
		t.Run(v, func(t *testing.T) {
			withVersion(t, v)
			assert.False(t, IsDev())
			assert.Equal(t, "devflow version "+v, Full())
			assert.True(t, len(UserAgent()) > len("devflow/"))
		})
	}
}
