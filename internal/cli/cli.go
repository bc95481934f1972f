// Package cli parses reelnote command-line arguments.
package cli

import (
	"errors"
	"fmt"
	"strings"
)

type Command string

const (
	CommandServe    Command = "serve"
	CommandStatus   Command = "status"
	CommandSessions Command = "sessions"
	CommandInspect  Command = "inspect"
	CommandStop     Command = "stop"
	CommandDoctor   Command = "doctor"
	CommandVersion  Command = "version"
	CommandHelp     Command = "help"
)

// validCommands maps each command to whether it takes a session id argument.
var validCommands = map[Command]bool{
	CommandServe:    false,
	CommandStatus:   false,
	CommandSessions: false,
	CommandInspect:  true,
	CommandStop:     true,
	CommandDoctor:   false,
	CommandVersion:  false,
	CommandHelp:     false,
}

type Parsed struct {
	Command    Command
	SessionID  string
	ConfigPath string
	ShowHelp   bool
}

func Parse(args []string) (Parsed, error) {
	parsed := Parsed{Command: CommandHelp, ShowHelp: true}

	for i := 0; i < len(args); i++ {
		arg := args[i]

		switch arg {
		case "-h", "--help":
			parsed.ShowHelp = true
			parsed.Command = CommandHelp
		case "--version":
			parsed.ShowHelp = false
			parsed.Command = CommandVersion
		case "--config":
			i++
			if i >= len(args) {
				return Parsed{}, errors.New("--config requires a path")
			}
			parsed.ConfigPath = args[i]
		default:
			if strings.HasPrefix(arg, "-") {
				return Parsed{}, fmt.Errorf("unknown flag: %s", arg)
			}

			cmd := Command(arg)
			takesID, ok := validCommands[cmd]
			if !ok {
				return Parsed{}, fmt.Errorf("unknown command: %s", arg)
			}
			parsed.Command = cmd
			parsed.ShowHelp = cmd == CommandHelp

			rest := args[i+1:]
			switch {
			case takesID && len(rest) != 1:
				return Parsed{}, fmt.Errorf("command %q requires exactly one session id", arg)
			case takesID:
				parsed.SessionID = strings.TrimSpace(rest[0])
				if parsed.SessionID == "" {
					return Parsed{}, fmt.Errorf("command %q requires a non-empty session id", arg)
				}
			case len(rest) > 0:
				return Parsed{}, fmt.Errorf("unexpected arguments after command %q", arg)
			}
			return parsed, nil
		}
	}

	return parsed, nil
}

func HelpText(binaryName string) string {
	return fmt.Sprintf(`Usage:
  %[1]s [--config PATH] <command> [SESSION_ID]

Commands:
  serve             Run the voice session daemon (WebSocket gateway, optional gRPC)
  status            Print daemon status
  sessions          List live session ids
  inspect ID        Print one session's state as JSON
  stop ID           Stop one session
  doctor            Run configuration and environment checks
  version           Print version information
  help              Show this help

Flags:
  --config PATH   Config file path (default: $XDG_CONFIG_HOME/reelnote/config.jsonc)
  -h, --help      Show help
  --version       Show version
`, binaryName)
}
