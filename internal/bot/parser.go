package bot

import "strings"

// CommandParser разбирает команды вида /cmd или /cmd@botname.
type CommandParser struct {
	validPrefixes []string
	username      string
}

// NewCommandParser создаёт парсер. username — имя бота без @;
// команды, адресованные другому боту, игнорируются.
func NewCommandParser(username string) *CommandParser {
	return &CommandParser{
		validPrefixes: []string{"/"},
		username:      strings.TrimPrefix(username, "@"),
	}
}

// ParseCommand разбирает текст на команду и аргументы.
func (p *CommandParser) ParseCommand(text string) (string, []string, bool) {
	text = strings.TrimSpace(text)

	hasPrefix := false
	for _, prefix := range p.validPrefixes {
		if strings.HasPrefix(text, prefix) {
			text = strings.TrimPrefix(text, prefix)
			hasPrefix = true
			break
		}
	}
	if !hasPrefix {
		return "", nil, false
	}

	parts := strings.Fields(text)
	if len(parts) == 0 {
		return "", nil, false
	}

	command := parts[0]
	if at := strings.IndexByte(command, '@'); at >= 0 {
		target := command[at+1:]
		if p.username != "" && !strings.EqualFold(target, p.username) {
			return "", nil, false
		}
		command = command[:at]
	}
	if command == "" {
		return "", nil, false
	}

	var args []string
	if len(parts) > 1 {
		args = parts[1:]
	}
	return strings.ToLower(command), args, true
}
