package client

import "strings"

type commandSpec struct {
	trigger     string
	usage       string
	description string
}

func buildCommands(prefix rune) []commandSpec {
	p := string(prefix)
	return []commandSpec{
		{trigger: p + "connect", usage: p + "connect [url]", description: "Dial the chat server"},
		{trigger: p + "join", usage: p + "join <room>", description: "Join a room and make it active"},
		{trigger: p + "leave", usage: p + "leave [room]", description: "Leave the active or named room"},
		{trigger: p + "room", usage: p + "room [room]", description: "List joined rooms or switch the active one"},
		{trigger: p + "who", usage: p + "who", description: "Show who is online in the active room"},
		{trigger: p + "chat", usage: p + "chat", description: "Show the chat view"},
		{trigger: p + "pipe", usage: p + "pipe [clear]", description: "Inspect raw websocket frames"},
		{trigger: p + "help", usage: p + "help", description: "Show all commands"},
		{trigger: p + "quit", usage: p + "quit", description: "Close the connection and exit"},
	}
}

// handleTabCompletion completes command names, and room names after
// the leave and room commands.
func (a *App) handleTabCompletion() {
	value := a.input.Value()
	if value == "" || a.input.Position() != len([]rune(value)) {
		return
	}
	prefix := string(a.cfg.CommandPrefix)
	if !strings.HasPrefix(value, prefix) {
		return
	}

	fields := strings.Fields(value)
	switch {
	case len(fields) == 1 && !strings.HasSuffix(value, " "):
		triggers := make([]string, 0, len(a.commands))
		for _, cmd := range a.commands {
			triggers = append(triggers, cmd.trigger)
		}
		a.complete("", fields[0], triggers)
	case fields[0] == prefix+"room" || fields[0] == prefix+"leave":
		partial := ""
		if len(fields) == 2 && !strings.HasSuffix(value, " ") {
			partial = fields[1]
		} else if len(fields) > 1 {
			return
		}
		a.complete(fields[0]+" ", partial, a.joinedRooms())
	}
}

func (a *App) complete(head, partial string, candidates []string) {
	matches := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if strings.HasPrefix(c, partial) {
			matches = append(matches, c)
		}
	}
	if len(matches) == 0 {
		return
	}
	completed := longestCommonPrefix(matches)
	if len(completed) <= len(partial) {
		return
	}
	a.input.SetValue(head + completed)
	a.input.CursorEnd()
}

func longestCommonPrefix(values []string) string {
	if len(values) == 0 {
		return ""
	}
	prefix := values[0]
	for _, s := range values[1:] {
		for !strings.HasPrefix(s, prefix) {
			if prefix == "" {
				return ""
			}
			prefix = prefix[:len(prefix)-1]
		}
	}
	return prefix
}
