package localproc

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"
	"unicode/utf8"

	"garden-doctor-go/internal/core/providers"
	"garden-doctor-go/internal/domain/diagnosis"
	"garden-doctor-go/internal/platform/errors"
	"garden-doctor-go/internal/platform/logging"
	"garden-doctor-go/internal/platform/observability"

	"github.com/google/uuid"
)

const Name = "local"

const defaultWaitDelay = 2 * time.Second

// Config 本地分析程序配置
type Config struct {
	// PythonPath 显式指定的解释器路径，优先级最高
	PythonPath string
	// FallbackPath 为空时使用平台默认位置
	FallbackPath string
	// Command 在 PATH 中查找的命令名
	Command string
	// Script 非空时作为第一个参数传给解释器
	Script string
	// WaitDelay bounds how long Wait blocks on inherited pipes after the process is killed.
	WaitDelay time.Duration
}

// Provider writes each image to a scratch file and runs the analysis program on it.
type Provider struct {
	config     Config
	scratchDir string
	logger     *logging.Logger

	lookPath func(string) (string, error)
	stat     func(string) (os.FileInfo, error)
}

var _ providers.Backend = (*Provider)(nil)

// EnsureScratchDir creates dir if needed and returns its absolute path.
func EnsureScratchDir(dir string) (string, error) {
	if strings.TrimSpace(dir) == "" {
		dir = ".tmp"
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve scratch dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}
	return abs, nil
}

// NewProvider 创建本地进程提供者，scratchDir 必须已经存在
func NewProvider(config Config, scratchDir string, logger *logging.Logger) *Provider {
	if logger == nil {
		logger = logging.NewDiscard()
	}
	if config.Command == "" {
		config.Command = "python"
	}
	if config.WaitDelay <= 0 {
		config.WaitDelay = defaultWaitDelay
	}
	return &Provider{
		config:     config,
		scratchDir: scratchDir,
		logger:     logger,
		lookPath:   exec.LookPath,
		stat:       os.Stat,
	}
}

func (p *Provider) Name() string { return Name }

// Initialize resolves the program once so misconfiguration shows up in the startup log.
func (p *Provider) Initialize() error {
	program, err := p.ResolveProgram()
	if err != nil {
		p.logger.WarnTag("本地进程", "未找到分析程序: %v", err)
		return nil
	}
	p.logger.InfoTag("本地进程", "初始化成功: program=%s script=%s scratch_dir=%s", program, p.config.Script, p.scratchDir)
	return nil
}

func (p *Provider) Cleanup() error { return nil }

// DefaultFallbackPath is the one platform-specific location probed when no
// explicit path is configured.
func DefaultFallbackPath() string {
	if runtime.GOOS == "windows" {
		return filepath.Join(os.Getenv("LOCALAPPDATA"),
			"Microsoft", "WindowsApps", "PythonSoftwareFoundation.Python.3.11_qbz5n2kfra8p0", "python.exe")
	}
	return "/usr/bin/python3"
}

// ResolveProgram picks the configured path, then the fallback location, then
// the command on PATH. Failure is a config error.
func (p *Provider) ResolveProgram() (string, error) {
	const op = "localproc.resolve"

	if explicit := strings.TrimSpace(p.config.PythonPath); explicit != "" {
		path, err := p.lookPath(explicit)
		if err != nil {
			return "", errors.Wrap(errors.KindConfig, op, "configured program is not executable", err).
				WithDetails(fmt.Sprintf("PYTHON_PATH=%s: %v", explicit, err))
		}
		return path, nil
	}

	fallback := p.config.FallbackPath
	if fallback == "" {
		fallback = DefaultFallbackPath()
	}
	if info, err := p.stat(fallback); err == nil && !info.IsDir() {
		return fallback, nil
	}

	path, err := p.lookPath(p.config.Command)
	if err != nil {
		return "", errors.Wrap(errors.KindConfig, op, "analysis program not found", err).
			WithDetails(fmt.Sprintf("%q is not on PATH and PYTHON_PATH is not set", p.config.Command))
	}
	return path, nil
}

// ScratchPath returns a request-unique file name under the scratch directory.
func (p *Provider) ScratchPath(ext string) string {
	if ext == "" {
		ext = ".jpg"
	}
	name := fmt.Sprintf("upload_%d_%s%s", time.Now().UnixNano(), uuid.NewString(), ext)
	return filepath.Join(p.scratchDir, name)
}

// Invoke runs the program once. The scratch file is removed before returning
// on every path.
func (p *Provider) Invoke(ctx context.Context, img providers.Image) (string, error) {
	const op = "localproc.invoke"

	program, err := p.ResolveProgram()
	if err != nil {
		return "", err
	}

	scratch := p.ScratchPath(img.Extension)
	if err := os.WriteFile(scratch, img.Bytes, 0o600); err != nil {
		return "", errors.Wrap(errors.KindExecution, op, "failed to write scratch file", err).WithDetails(err.Error())
	}
	defer p.removeScratch(scratch)

	args := make([]string, 0, 2)
	if p.config.Script != "" {
		script, err := filepath.Abs(p.config.Script)
		if err != nil {
			script = p.config.Script
		}
		args = append(args, script)
	}
	args = append(args, scratch)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, program, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = p.config.WaitDelay

	start := time.Now()
	p.logger.DebugTag("本地进程", "执行: %s %s", program, strings.Join(args, " "))
	runErr := cmd.Run()
	elapsed := time.Since(start)

	// 只有进程失败时才归因于超时；正常退出后截止时间才到期不算失败
	if ctxErr := ctx.Err(); runErr != nil && ctxErr != nil {
		p.logger.WarnTag("本地进程", "分析超时或被取消: 耗时=%s err=%v", elapsed, ctxErr)
		return "", errors.Wrap(errors.KindExecution, op, "Analysis failed", ctxErr).
			WithDetails(withStderr("analysis program timed out", stderr.String()))
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if stderrors.As(runErr, &exitErr) {
			p.logger.ErrorTag("本地进程", "进程退出码非零: code=%d stderr=%s", exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
			details := stderr.String()
			if strings.TrimSpace(details) == "" {
				if msg, ok := diagnosis.ErrorEnvelope(stdout.String()); ok {
					details = msg
				} else {
					details = fmt.Sprintf("exit status %d", exitErr.ExitCode())
				}
			}
			return "", errors.Wrap(errors.KindExecution, op, "Analysis failed", runErr).WithDetails(details)
		}
		p.logger.ErrorTag("本地进程", "无法启动分析程序: %v", runErr)
		return "", errors.Wrap(errors.KindExecution, op, "Analysis failed", runErr).WithDetails(runErr.Error())
	}

	out := stdout.String()
	if !utf8.ValidString(out) {
		return "", errors.New(errors.KindParse, op, diagnosis.ParseFailureMessage).WithDetails(out)
	}
	if strings.TrimSpace(out) == "" {
		return "", errors.New(errors.KindParse, op, diagnosis.ParseFailureMessage).
			WithDetails(withStderr("analysis program printed nothing", stderr.String()))
	}
	if msg, ok := diagnosis.ErrorEnvelope(out); ok {
		p.logger.WarnTag("本地进程", "分析程序返回错误: %s", msg)
		return "", errors.New(errors.KindExecution, op, "Analysis failed").WithDetails(msg)
	}

	p.logger.InfoTag("本地进程", "分析完成: 耗时=%s 输出长度=%d", elapsed, len(out))
	return out, nil
}

func (p *Provider) removeScratch(path string) {
	if err := os.Remove(path); err != nil && !stderrors.Is(err, os.ErrNotExist) {
		observability.ScratchCleanupErrorsTotal.Inc()
		p.logger.WarnTag("本地进程", "删除临时文件失败: path=%s err=%v", path, err)
	}
}

func withStderr(summary, stderr string) string {
	stderr = strings.TrimSpace(stderr)
	if stderr == "" {
		return summary
	}
	return summary + ": " + stderr
}
