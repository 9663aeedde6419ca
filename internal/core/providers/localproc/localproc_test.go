package localproc

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"garden-doctor-go/internal/core/providers"
	"garden-doctor-go/internal/platform/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 打印收到的路径以及调用时文件是否存在
const echoScript = `#!/bin/sh
if [ -f "$1" ]; then present=true; else present=false; fi
printf '{"plant_name":"%s","is_healthy":%s}' "$1" "$present"
`

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell fixtures require a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "analyze.sh")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o755))
	return path
}

func newTestProvider(t *testing.T, script string) (*Provider, string) {
	t.Helper()
	scratch, err := EnsureScratchDir(filepath.Join(t.TempDir(), ".tmp"))
	require.NoError(t, err)
	p := NewProvider(Config{PythonPath: script, WaitDelay: 200 * time.Millisecond}, scratch, nil)
	return p, scratch
}

func testImage() providers.Image {
	return providers.Image{Bytes: []byte("A"), MediaType: "image/jpeg", Extension: ".jpg"}
}

type echoReply struct {
	PlantName string `json:"plant_name"`
	IsHealthy bool   `json:"is_healthy"`
}

func assertScratchEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "scratch directory should be empty")
}

func TestInvokeSuccessRemovesScratchFile(t *testing.T) {
	p, scratch := newTestProvider(t, writeScript(t, echoScript))

	out, err := p.Invoke(context.Background(), testImage())
	require.NoError(t, err)

	var reply echoReply
	require.NoError(t, json.Unmarshal([]byte(out), &reply))

	assert.True(t, reply.IsHealthy, "scratch file must exist while the program runs")
	assert.True(t, strings.HasPrefix(filepath.Base(reply.PlantName), "upload_"))
	assert.Equal(t, ".jpg", filepath.Ext(reply.PlantName))
	assert.Equal(t, scratch, filepath.Dir(reply.PlantName))

	_, statErr := os.Stat(reply.PlantName)
	assert.True(t, os.IsNotExist(statErr))
	assertScratchEmpty(t, scratch)
}

func TestInvokeNonZeroExitRemovesScratchFile(t *testing.T) {
	p, scratch := newTestProvider(t, writeScript(t, `#!/bin/sh
echo "model exploded" >&2
exit 3
`))

	_, err := p.Invoke(context.Background(), testImage())
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindExecution))

	var typed *errors.Error
	require.True(t, errors.As(err, &typed))
	assert.Contains(t, typed.Details, "model exploded")
	assertScratchEmpty(t, scratch)
}

func TestInvokeErrorEnvelope(t *testing.T) {
	tests := []struct {
		name   string
		script string
	}{
		{
			name: "exit zero",
			script: `#!/bin/sh
printf '{"error": "OPENROUTER_API_KEY not found in .env"}'
`,
		},
		{
			name: "exit one without stderr",
			script: `#!/bin/sh
printf '{"error": "OPENROUTER_API_KEY not found in .env"}'
exit 1
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, scratch := newTestProvider(t, writeScript(t, tt.script))

			_, err := p.Invoke(context.Background(), testImage())
			require.Error(t, err)
			assert.True(t, errors.IsKind(err, errors.KindExecution))

			var typed *errors.Error
			require.True(t, errors.As(err, &typed))
			assert.Equal(t, "OPENROUTER_API_KEY not found in .env", typed.Details)
			assertScratchEmpty(t, scratch)
		})
	}
}

func TestInvokeUnusableOutputIsParseError(t *testing.T) {
	for name, script := range map[string]string{
		"empty":    "#!/bin/sh\nexit 0\n",
		"not utf8": "#!/bin/sh\nprintf '\\377\\376'\n",
	} {
		t.Run(name, func(t *testing.T) {
			p, scratch := newTestProvider(t, writeScript(t, script))
			_, err := p.Invoke(context.Background(), testImage())
			require.Error(t, err)
			assert.True(t, errors.IsKind(err, errors.KindParse))
			assertScratchEmpty(t, scratch)
		})
	}
}

func TestInvokeNonJSONPassesThrough(t *testing.T) {
	p, _ := newTestProvider(t, writeScript(t, "#!/bin/sh\necho 'not json'\n"))
	out, err := p.Invoke(context.Background(), testImage())
	require.NoError(t, err)
	assert.Equal(t, "not json\n", out)
}

func TestInvokeTimeoutRemovesScratchFile(t *testing.T) {
	p, scratch := newTestProvider(t, writeScript(t, "#!/bin/sh\nsleep 5\n"))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := p.Invoke(ctx, testImage())
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindExecution))
	assert.Less(t, time.Since(start), 4*time.Second)
	assertScratchEmpty(t, scratch)
}

// expiredAfterRunCtx reports a deadline through Err but never closes Done, so
// the child runs to completion and the deadline only shows up afterwards.
type expiredAfterRunCtx struct {
	context.Context
}

func (expiredAfterRunCtx) Err() error { return context.DeadlineExceeded }

func TestInvokeSuccessIsKeptWhenDeadlinePassesAfterExit(t *testing.T) {
	p, scratch := newTestProvider(t, writeScript(t, echoScript))

	out, err := p.Invoke(expiredAfterRunCtx{context.Background()}, testImage())
	require.NoError(t, err)

	var reply echoReply
	require.NoError(t, json.Unmarshal([]byte(out), &reply))
	assert.True(t, reply.IsHealthy)
	assertScratchEmpty(t, scratch)
}

func TestConcurrentInvocationsUseDistinctScratchFiles(t *testing.T) {
	p, scratch := newTestProvider(t, writeScript(t, echoScript))

	const n = 16
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		paths = make(map[string]struct{}, n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := p.Invoke(context.Background(), testImage())
			if !assert.NoError(t, err) {
				return
			}
			var reply echoReply
			if !assert.NoError(t, json.Unmarshal([]byte(out), &reply)) {
				return
			}
			assert.True(t, reply.IsHealthy)
			mu.Lock()
			paths[reply.PlantName] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, paths, n)
	assertScratchEmpty(t, scratch)
}

func TestResolveProgram(t *testing.T) {
	script := writeScript(t, echoScript)
	scratch := t.TempDir()

	t.Run("explicit path", func(t *testing.T) {
		p := NewProvider(Config{PythonPath: script}, scratch, nil)
		got, err := p.ResolveProgram()
		require.NoError(t, err)
		assert.Equal(t, script, got)
	})

	t.Run("explicit path missing", func(t *testing.T) {
		p := NewProvider(Config{PythonPath: filepath.Join(scratch, "nope")}, scratch, nil)
		_, err := p.ResolveProgram()
		require.Error(t, err)
		assert.True(t, errors.IsKind(err, errors.KindConfig))
	})

	t.Run("fallback location", func(t *testing.T) {
		p := NewProvider(Config{FallbackPath: script, Command: "garden-doctor-no-such-binary"}, scratch, nil)
		got, err := p.ResolveProgram()
		require.NoError(t, err)
		assert.Equal(t, script, got)
	})

	t.Run("search path", func(t *testing.T) {
		p := NewProvider(Config{FallbackPath: filepath.Join(scratch, "missing"), Command: "sh"}, scratch, nil)
		got, err := p.ResolveProgram()
		require.NoError(t, err)
		assert.Equal(t, "sh", filepath.Base(got))
	})

	t.Run("unresolvable", func(t *testing.T) {
		p := NewProvider(Config{
			FallbackPath: filepath.Join(scratch, "missing"),
			Command:      "garden-doctor-no-such-binary",
		}, scratch, nil)
		_, err := p.ResolveProgram()
		require.Error(t, err)
		assert.True(t, errors.IsKind(err, errors.KindConfig))
	})
}

func TestInvokeUnresolvableProgramWritesNothing(t *testing.T) {
	scratch := t.TempDir()
	p := NewProvider(Config{
		FallbackPath: filepath.Join(scratch, "missing"),
		Command:      "garden-doctor-no-such-binary",
	}, scratch, nil)

	_, err := p.Invoke(context.Background(), testImage())
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindConfig))
	assertScratchEmpty(t, scratch)
}

func TestScriptArgumentPrecedesImagePath(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell fixtures require a POSIX shell")
	}
	dir := t.TempDir()
	// 解释器为 sh，脚本作为第一个参数
	script := filepath.Join(dir, "analyze_plant.sh")
	require.NoError(t, os.WriteFile(script, []byte(`printf '{"plant_name":"%s"}' "$1"`), 0o644))

	scratch, err := EnsureScratchDir(filepath.Join(dir, "scratch"))
	require.NoError(t, err)

	p := NewProvider(Config{
		FallbackPath: filepath.Join(dir, "missing"),
		Command:      "sh",
		Script:       script,
	}, scratch, nil)

	out, err := p.Invoke(context.Background(), testImage())
	require.NoError(t, err)
	assert.Contains(t, out, scratch)
}

func TestEnsureScratchDir(t *testing.T) {
	base := t.TempDir()
	dir, err := EnsureScratchDir(filepath.Join(base, "a", "b"))
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(dir))

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	// 幂等
	again, err := EnsureScratchDir(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, again)
}
