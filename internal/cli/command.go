package cli

import (
	"fmt"
	"strings"
)

type CommandKind int

const (
	CmdChat CommandKind = iota
	CmdList
	CmdNew
	CmdSwitch
	CmdClear
	CmdHistory
	CmdHelp
	CmdExit
)

type Command struct {
	Kind CommandKind
	// Args holds the words after a slash command, or the whole line for chat.
	Args []string
}

var commandNames = map[string]CommandKind{
	"/list":    CmdList,
	"/new":     CmdNew,
	"/switch":  CmdSwitch,
	"/clear":   CmdClear,
	"/history": CmdHistory,
	"/help":    CmdHelp,
	"/exit":    CmdExit,
	"/quit":    CmdExit,
}

// ParseCommand turns a trimmed input line into a command. Input that is not
// a known slash command is a chat message.
func ParseCommand(line string) (Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}, fmt.Errorf("empty input")
	}
	kind, ok := commandNames[strings.ToLower(fields[0])]
	if !ok {
		return Command{Kind: CmdChat, Args: []string{line}}, nil
	}
	args := fields[1:]

	switch kind {
	case CmdNew:
		if len(args) < 1 || len(args) > 2 {
			return Command{}, fmt.Errorf("usage: /new <name> [persona]")
		}
	case CmdSwitch:
		if len(args) != 1 {
			return Command{}, fmt.Errorf("usage: /switch <name>")
		}
	}
	return Command{Kind: kind, Args: args}, nil
}

const helpText = `Commands:
  /list                   list threads
  /new <name> [persona]   create a thread and switch to it
  /switch <name>          switch to a thread, creating it if needed
  /clear                  delete every message in the current thread
  /history                show the current thread's messages
  /help                   show this help
  /exit                   quit
Anything else is sent to the current thread.`
