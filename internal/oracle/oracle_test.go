package oracle

import (
	"context"
	"testing"

	xerrors "gasless-agent/internal/errors"
	"gasless-agent/internal/feed"
)

var proposal = Params{Amount: 100, From: "USDC", To: "WETH"}

func TestNewContextRendersPrompt(t *testing.T) {
	dctx := NewContext(feed.Signal{Asset: "ethereum", Quote: "usd", Value: 2500}, proposal, 7)
	if dctx.Observation != "price=2500" {
		t.Fatalf("unexpected observation %q", dctx.Observation)
	}
	if dctx.Prompt != "ETH is $2500. Should I swap 100 USDC to WETH?" {
		t.Fatalf("unexpected prompt %q", dctx.Prompt)
	}
	if dctx.Cycle != 7 || dctx.Proposal != proposal {
		t.Fatalf("unexpected context %+v", dctx)
	}
}

func TestDecisionValidate(t *testing.T) {
	cases := []struct {
		name    string
		d       Decision
		wantErr bool
	}{
		{"no act without params", Decision{Action: ActionNoAct}, false},
		{"act with params", Decision{Action: ActionAct, Params: proposal}, false},
		{"act missing amount", Decision{Action: ActionAct, Params: Params{From: "USDC", To: "WETH"}}, true},
		{"act missing asset", Decision{Action: ActionAct, Params: Params{Amount: 1, From: "USDC"}}, true},
		{"act same asset", Decision{Action: ActionAct, Params: Params{Amount: 1, From: "USDC", To: "usdc"}}, true},
		{"unknown enum", Decision{Action: "maybe"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.d.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("validate() error = %v, wantErr %v", err, tc.wantErr)
			}
			if err != nil && xerrors.CodeOf(err) != xerrors.CodeOracleFailure {
				t.Fatalf("expected oracle failure code, got %v", err)
			}
		})
	}
}

func TestParseReply(t *testing.T) {
	cases := []struct {
		name    string
		content string
		want    Decision
		wantErr bool
	}{
		{
			name:    "json act with params",
			content: `{"decision":"act","amount":50,"from":"USDC","to":"WETH","reason":"dip"}`,
			want:    Decision{Action: ActionAct, Params: Params{Amount: 50, From: "USDC", To: "WETH"}, Reason: "dip"},
		},
		{
			name:    "json act approves proposal",
			content: "```json\n{\"decision\":\"act\"}\n```",
			want:    Decision{Action: ActionAct, Params: proposal},
		},
		{
			name:    "json no act",
			content: `{"action":"no_act","reason":"too high"}`,
			want:    Decision{Action: ActionNoAct, Reason: "too high"},
		},
		{name: "json partial params", content: `{"decision":"act","amount":50}`, wantErr: true},
		{name: "json unknown verdict", content: `{"decision":"perhaps"}`, wantErr: true},
		{name: "broken json", content: `{"decision":`, wantErr: true},
		{
			name:    "plain yes",
			content: "Yes, swap now.",
			want:    Decision{Action: ActionAct, Params: proposal, Reason: "Yes, swap now."},
		},
		{
			name:    "plain no",
			content: "No. Wait for a better entry.",
			want:    Decision{Action: ActionNoAct, Reason: "No. Wait for a better entry."},
		},
		{name: "rambling", content: "The market is uncertain, yes or no is hard.", wantErr: true},
		{name: "empty", content: "   ", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseReply(tc.content, proposal)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				if xerrors.CodeOf(err) != xerrors.CodeOracleFailure {
					t.Fatalf("expected oracle failure code, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestThreshold(t *testing.T) {
	if _, err := NewThreshold(0, 0); err == nil {
		t.Fatal("expected error without bounds")
	}
	if _, err := NewThreshold(2000, 3000); err == nil {
		t.Fatal("expected error for inverted range")
	}

	rule, err := NewThreshold(2600, 2000)
	if err != nil {
		t.Fatalf("new threshold: %v", err)
	}
	cases := map[float64]Action{
		2500: ActionAct,
		2600: ActionAct,
		2601: ActionNoAct,
		1999: ActionNoAct,
	}
	for price, want := range cases {
		signal := feed.Signal{Asset: "ethereum", Value: price}
		d, err := rule.Decide(context.Background(), signal, NewContext(signal, proposal, 1))
		if err != nil {
			t.Fatalf("decide: %v", err)
		}
		if d.Action != want {
			t.Fatalf("price %v: got %s, want %s", price, d.Action, want)
		}
		if err := d.Validate(); err != nil {
			t.Fatalf("threshold decisions must be well formed: %v", err)
		}
		if want == ActionAct && d.Params != proposal {
			t.Fatalf("expected proposal params, got %+v", d.Params)
		}
	}
}
