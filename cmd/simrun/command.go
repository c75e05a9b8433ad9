package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/wippyai/simscript/value"
)

type commandKind int

const (
	cmdCall commandKind = iota
	cmdStop
	cmdPause
	cmdStep
)

type command struct {
	script string
	fn     string
	args   []value.Value
	kind   commandKind
}

// parseCommand parses a command line:
//
//	call <script> <function> [args...]
//	stop | pause | step
func parseCommand(line string) (command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return command{}, fmt.Errorf("empty command")
	}
	switch fields[0] {
	case "stop":
		return command{kind: cmdStop}, nil
	case "pause":
		return command{kind: cmdPause}, nil
	case "step":
		return command{kind: cmdStep}, nil
	case "call":
		if len(fields) < 3 {
			return command{}, fmt.Errorf("usage: call <script> <function> [args...]")
		}
		c := command{kind: cmdCall, script: fields[1], fn: fields[2]}
		for _, f := range fields[3:] {
			c.args = append(c.args, parseArg(f))
		}
		return c, nil
	}
	return command{}, fmt.Errorf("unknown command %q", fields[0])
}

// parseArg reads numbers, booleans and nil; anything else is a string.
func parseArg(s string) value.Value {
	switch s {
	case "nil":
		return value.Nil{}
	case "true":
		return value.Bool(true)
	case "false":
		return value.Bool(false)
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return value.Number(n)
	}
	if u, err := strconv.Unquote(s); err == nil {
		return value.String(u)
	}
	return value.String(s)
}

func formatValues(vs []value.Value) string {
	if len(vs) == 0 {
		return "(no results)"
	}
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = v.String()
	}
	return strings.Join(parts, ", ")
}
