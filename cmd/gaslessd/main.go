package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	xerrors "gasless-agent/internal/errors"
)

// main 是 gasless 代理守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	switch {
	case xerrors.IsFatal(err):
		fmt.Fprintf(os.Stderr, "gaslessd 启动失败: %v\n", err)
	case err != nil:
		fmt.Fprintf(os.Stderr, "gaslessd 运行失败: %v\n", err)
	}
	os.Exit(exitCode(err))
}

// exitCode 把启动或运行错误映射为进程退出码。
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	return 1
}
