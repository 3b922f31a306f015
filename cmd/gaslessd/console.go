package main

import (
	"fmt"
	"io"
	"strings"

	"gasless-agent/internal/account"
	"gasless-agent/internal/agent"
	"gasless-agent/internal/web3"
)

func printBanner(w io.Writer) {
	if w == nil {
		return
	}
	fmt.Fprintln(w, strings.Repeat("=", 48))
	fmt.Fprintln(w, "  gasless agent: sponsored swaps on autopilot")
	fmt.Fprintln(w, strings.Repeat("=", 48))
}

func printWallet(w io.Writer, network string, snapshot web3.ChainSnapshot, handle account.Handle) {
	if w == nil {
		return
	}
	status := "已部署"
	if !handle.Deployed() {
		status = "未部署（首笔操作时部署）"
	}
	fmt.Fprintf(w, "网络: %s (chain %s, block %s)\n", network, snapshot.ChainID, snapshot.BlockNumber)
	fmt.Fprintf(w, "钱包已连接: %s 通过 %s 登录\n", handle.Address.Hex(), handle.Method)
	fmt.Fprintf(w, "所有者: %s，账户状态: %s\n", handle.Owner.Hex(), status)
}

func printReport(w io.Writer, report agent.CycleReport) {
	if w == nil {
		return
	}
	switch {
	case report.Failed():
		fmt.Fprintf(w, "周期 %d 失败 [%s]: %v\n", report.Number, report.Stage, report.Err)
	case report.Submitted():
		fmt.Fprintf(w, "周期 %d: %s，已提交 %s，回执 %s\n",
			report.Number, report.Signal, report.Request, report.Receipt.ID)
	default:
		fmt.Fprintf(w, "周期 %d: %s，决策 %s（%s）\n",
			report.Number, report.Signal, report.Decision.Action, report.Decision.Reason)
	}
}
