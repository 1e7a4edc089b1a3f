package ui

import (
	"fmt"
	"strconv"
	"strings"
)

type commandKind int

const (
	cmdNone commandKind = iota
	cmdAttach
	cmdSave
	cmdSetup
	cmdLogout
	cmdQuit
)

type command struct {
	kind  commandKind
	path  string
	index int
	dir   string
}

const commandHelp = "/attach <path>  /save <n> [dir]  /setup  /logout  /quit"

// parseCommand reads a slash command. Input without a leading slash is a
// plain message and yields cmdNone.
func parseCommand(input string) (command, error) {
	input = strings.TrimSpace(input)
	if !strings.HasPrefix(input, "/") {
		return command{kind: cmdNone}, nil
	}
	name, rest, _ := strings.Cut(input, " ")
	rest = strings.TrimSpace(rest)

	switch strings.ToLower(name) {
	case "/attach":
		if rest == "" {
			return command{}, fmt.Errorf("usage: /attach <path>")
		}
		return command{kind: cmdAttach, path: rest}, nil
	case "/save":
		fields := strings.Fields(rest)
		if len(fields) == 0 || len(fields) > 2 {
			return command{}, fmt.Errorf("usage: /save <n> [dir]")
		}
		n, err := strconv.Atoi(fields[0])
		if err != nil || n < 1 {
			return command{}, fmt.Errorf("usage: /save <n> [dir]")
		}
		dir := "."
		if len(fields) == 2 {
			dir = fields[1]
		}
		return command{kind: cmdSave, index: n, dir: dir}, nil
	case "/setup":
		return command{kind: cmdSetup}, nil
	case "/logout":
		return command{kind: cmdLogout}, nil
	case "/quit", "/exit":
		return command{kind: cmdQuit}, nil
	}
	return command{}, fmt.Errorf("unknown command %s (try %s)", name, commandHelp)
}
