package main

import (
	"os"
	"strings"

	"gasless-agent/internal/account"
	xerrors "gasless-agent/internal/errors"

	"github.com/charmbracelet/huh"
)

const loginEnv = "GASLESS_LOGIN"

// resolveLogin 依次使用 --login、GASLESS_LOGIN 与交互输入确定登录方式。
func resolveLogin(flag string, prompt func() (string, error)) (account.Method, error) {
	raw := strings.TrimSpace(flag)
	if raw == "" {
		raw = strings.TrimSpace(os.Getenv(loginEnv))
	}
	if raw == "" {
		if prompt == nil {
			return "", xerrors.New(xerrors.CodeStartupFailure, "未指定登录方式")
		}
		answer, err := prompt()
		if err != nil {
			return "", xerrors.Wrap(xerrors.CodeStartupFailure, err, "读取登录方式失败")
		}
		raw = answer
	}
	return account.ParseMethod(raw)
}

func promptLogin() (string, error) {
	var value string
	input := huh.NewInput().
		Title("Choose login method").
		Description("google / apple / x").
		Value(&value)
	if err := huh.NewForm(huh.NewGroup(input)).WithShowHelp(true).Run(); err != nil {
		return "", err
	}
	return value, nil
}
