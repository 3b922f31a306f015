package pythonbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	xerrors "gasless-agent/internal/errors"
	"gasless-agent/internal/feed"
	"gasless-agent/internal/oracle"
)

// waitDelay 限制脚本被终止后等待其输出管道关闭的时间。
const waitDelay = 2 * time.Second

// Client 通过调用本地脚本给出决策。脚本从 stdin 读取 JSON 上下文，
// 向 stdout 写出与 OpenAI 决策方相同格式的 JSON。
type Client struct {
	pythonExec string
	scriptPath string
	workingDir string
}

// NewClient 创建 Python Bridge 决策方。
func NewClient(pythonExec, scriptPath, workingDir string) (*Client, error) {
	if scriptPath == "" {
		return nil, fmt.Errorf("未指定 Python 脚本路径")
	}
	if pythonExec == "" {
		pythonExec = "python3"
	}
	return &Client{
		pythonExec: pythonExec,
		scriptPath: scriptPath,
		workingDir: workingDir,
	}, nil
}

// Decide 调用外部脚本，并解析输出。
func (c *Client) Decide(ctx context.Context, signal feed.Signal, dctx oracle.Context) (oracle.Decision, error) {
	payload := map[string]any{
		"signal":  signal,
		"context": dctx,
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return oracle.Decision{}, xerrors.Wrap(xerrors.CodeOracleFailure, err, "序列化决策请求失败")
	}

	command := exec.CommandContext(ctx, c.pythonExec, c.scriptPath)
	if c.workingDir != "" {
		command.Dir = c.workingDir
	}
	command.Stdin = bytes.NewReader(encoded)
	command.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return oracle.Decision{}, xerrors.Wrap(xerrors.CodeTimeout, ctxErr, "决策脚本超时")
		}
		return oracle.Decision{}, xerrors.Wrap(xerrors.CodeOracleFailure, err,
			fmt.Sprintf("执行决策脚本失败, stderr=%s", strings.TrimSpace(stderr.String())))
	}

	return oracle.ParseReply(stdout.String(), dctx.Proposal)
}

// ResolveScriptPath 根据工作目录推导脚本绝对路径。
func ResolveScriptPath(baseDir, script string) string {
	if script == "" {
		return ""
	}
	if filepath.IsAbs(script) {
		return script
	}
	if baseDir == "" {
		return script
	}
	return filepath.Join(baseDir, script)
}

var _ oracle.Oracle = (*Client)(nil)
