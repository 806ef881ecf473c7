package version

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGet(t *testing.T) {
	info := Get()

	assert.Equal(t, Component, info.Component)
	assert.Equal(t, Version, info.Version)
	assert.NotEmpty(t, info.GitCommit)
	assert.NotEmpty(t, info.BuildDate)
	assert.Equal(t, runtime.Version(), info.GoVersion)
	assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, info.Platform)
}

func TestString(t *testing.T) {
	info := Info{
		Component: Component,
		Version:   "v1.2.3",
		GitCommit: "abc1234",
		BuildDate: "2024-05-01",
		GoVersion: "go1.24.0",
		Platform:  "linux/amd64",
	}

	assert.Equal(t, "eco-stack-collector v1.2.3 (commit abc1234, built 2024-05-01, go1.24.0 linux/amd64)", info.String())
}

func TestUserAgent(t *testing.T) {
	original := Version
	t.Cleanup(func() { Version = original })

	Version = "v9.9.9"
	assert.Equal(t, "eco-stack-collector/v9.9.9", UserAgent())
}
