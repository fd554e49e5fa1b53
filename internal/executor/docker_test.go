package executor

import (
	"archive/tar"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/docker/docker/api/types/mount"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Harsh-BH/codesandbox/internal/domain"
)

func newConfigOnlyRuntime() *DockerRuntime {
	return &DockerRuntime{
		images: map[domain.Language]string{
			domain.LangPython:     "python:3.12-alpine",
			domain.LangJavaScript: "node:20-alpine",
			domain.LangCpp:        "gcc:13",
		},
		logger: zap.NewNop(),
	}
}

func TestDockerContainerConfig(t *testing.T) {
	rt := newConfigOnlyRuntime()
	req := newRequest(domain.LangPython, "print(input())")
	req.Input = "42"
	req.Limits = domain.Limits{TimeLimit: 2 * time.Second, MemoryLimitKB: 65536}

	cfg, hostCfg, err := rt.containerConfig(req)
	require.NoError(t, err)

	assert.Equal(t, "python:3.12-alpine", cfg.Image)
	assert.True(t, cfg.NetworkDisabled)
	assert.Equal(t, "sh", cfg.Cmd[0])
	assert.Equal(t, "python3 /sandbox/main.py < /sandbox/input", cfg.Cmd[2])
	assert.Empty(t, cfg.Env)
	assert.Equal(t, req.TaskID.String(), cfg.Labels["codesandbox.task_id"])

	assert.Equal(t, "none", string(hostCfg.NetworkMode))
	assert.True(t, hostCfg.ReadonlyRootfs)
	require.Len(t, hostCfg.Mounts, 1)
	assert.Equal(t, mount.TypeVolume, hostCfg.Mounts[0].Type)
	assert.Equal(t, sandboxDir, hostCfg.Mounts[0].Target)
	assert.Empty(t, hostCfg.Mounts[0].Source)
	assert.Equal(t, int64(65536*1024), hostCfg.Resources.Memory)
	require.NotNil(t, hostCfg.Resources.PidsLimit)
	assert.Equal(t, int64(dockerPidsLimit), *hostCfg.Resources.PidsLimit)
}

func TestDockerContainerConfig_PerLanguageScripts(t *testing.T) {
	rt := newConfigOnlyRuntime()

	for lang, tool := range map[domain.Language]string{
		domain.LangPython:     "python3",
		domain.LangJavaScript: "node",
		domain.LangCpp:        "g++",
	} {
		cfg, _, err := rt.containerConfig(newRequest(lang, "x"))
		require.NoError(t, err, lang)
		assert.True(t, strings.Contains(cfg.Cmd[2], tool), "%s script should invoke %s", lang, tool)
	}
}

// Linux rejects any single argv or environment string longer than
// MAX_ARG_STRLEN (32 pages).
const maxArgStrlen = 128 * 1024

func TestDockerContainerConfig_LargePayloadStaysOutOfArgvAndEnv(t *testing.T) {
	rt := newConfigOnlyRuntime()
	req := newRequest(domain.LangPython, "x = 1\n"+strings.Repeat("#", 1<<20))
	req.Input = strings.Repeat("9", 1<<20)

	cfg, _, err := rt.containerConfig(req)
	require.NoError(t, err)

	for _, arg := range cfg.Cmd {
		assert.LessOrEqual(t, len(arg), maxArgStrlen, "argv entry too long")
	}
	for _, env := range cfg.Env {
		assert.LessOrEqual(t, len(env), maxArgStrlen, "env entry too long")
	}
}

func TestSandboxArchive(t *testing.T) {
	code := "#include <iostream>\n" + strings.Repeat("// pad\n", 40000)
	req := newRequest(domain.LangCpp, code)
	req.Input = "3 4\n"

	archive, err := sandboxArchive(req)
	require.NoError(t, err)

	files := map[string]string{}
	tr := tar.NewReader(archive)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		body, err := io.ReadAll(tr)
		require.NoError(t, err)
		files[hdr.Name] = string(body)
	}

	assert.Equal(t, map[string]string{"main.cpp": code, "input": "3 4\n"}, files)

	_, err = sandboxArchive(newRequest(domain.Language("ruby"), "x"))
	assert.ErrorIs(t, err, ErrUnsupportedLanguage)
}

func TestSandboxArchive_EmptyInput(t *testing.T) {
	archive, err := sandboxArchive(newRequest(domain.LangJavaScript, "console.log(1)"))
	require.NoError(t, err)

	tr := tar.NewReader(archive)
	names := []string{}
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		names = append(names, hdr.Name)
		if hdr.Name == "input" {
			assert.Zero(t, hdr.Size)
		}
	}
	assert.Equal(t, []string{"main.js", "input"}, names)
}

func TestDockerContainerConfig_Errors(t *testing.T) {
	rt := newConfigOnlyRuntime()

	_, _, err := rt.containerConfig(newRequest(domain.Language("ruby"), "x"))
	assert.True(t, errors.Is(err, ErrUnsupportedLanguage))

	delete(rt.images, domain.LangCpp)
	_, _, err = rt.containerConfig(newRequest(domain.LangCpp, "x"))
	assert.Error(t, err)
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "0123456789ab", shortID("0123456789abcdef"))
	assert.Equal(t, "abc", shortID("abc"))
}
