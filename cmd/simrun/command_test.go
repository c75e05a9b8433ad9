package main

import (
	"testing"

	"github.com/wippyai/simscript/value"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		line    string
		want    command
		wantErr bool
	}{
		{line: "stop", want: command{kind: cmdStop}},
		{line: " pause ", want: command{kind: cmdPause}},
		{line: "step", want: command{kind: cmdStep}},
		{
			line: `call arm move 1.5 true nil "x y" name`,
			want: command{kind: cmdCall, script: "arm", fn: "move", args: []value.Value{
				value.Number(1.5), value.Bool(true), value.Nil{}, value.String(`"x`), value.String(`y"`), value.String("name"),
			}},
		},
		{line: "call arm", wantErr: true},
		{line: "", wantErr: true},
		{line: "jump", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := parseCommand(tt.line)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseCommand(%q) succeeded", tt.line)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got.kind != tt.want.kind || got.script != tt.want.script || got.fn != tt.want.fn || len(got.args) != len(tt.want.args) {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
			for i := range tt.want.args {
				if !value.Equal(got.args[i], tt.want.args[i]) {
					t.Errorf("arg %d = %v, want %v", i, got.args[i], tt.want.args[i])
				}
			}
		})
	}
}

func TestParseArg_Quoted(t *testing.T) {
	if got := parseArg(`"hi"`); !value.Equal(got, value.String("hi")) {
		t.Fatalf("got %v", got)
	}
}

func TestFormatValues(t *testing.T) {
	if got := formatValues(nil); got != "(no results)" {
		t.Fatalf("got %q", got)
	}
	if got := formatValues([]value.Value{value.Number(2), value.String("a")}); got != `2, "a"` {
		t.Fatalf("got %q", got)
	}
}
