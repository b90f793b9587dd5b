package console

import (
	"fmt"
	"regexp"
)

// Kind is the classification of a console line.
type Kind int

const (
	KindUnmatched Kind = iota
	KindConnect
	KindDisconnect
	KindChat
)

// Classification is the result of inspecting a console line. Fields are
// filled from the named capture groups of the matching pattern.
type Classification struct {
	Kind     Kind
	Username string
	IP       string
	Reason   string
	Message  string
}

// Classifier inspects console lines for player lifecycle activity. It
// exists as an interface so the regex policy can be swapped without
// touching dispatch.
type Classifier interface {
	Classify(line string) Classification
}

// RegexClassifier matches lines against externally supplied patterns for
// player connect, disconnect, and chat. A chat match takes precedence and
// suppresses connect/disconnect interpretation of the same line.
type RegexClassifier struct {
	connect    *regexp.Regexp
	disconnect *regexp.Regexp
	chat       *regexp.Regexp
}

// NewRegexClassifier compiles the three patterns. Patterns use named
// groups: username, ip, reason, message.
func NewRegexClassifier(connectPat, disconnectPat, chatPat string) (*RegexClassifier, error) {
	connect, err := regexp.Compile(connectPat)
	if err != nil {
		return nil, fmt.Errorf("player_connected pattern: %w", err)
	}
	disconnect, err := regexp.Compile(disconnectPat)
	if err != nil {
		return nil, fmt.Errorf("player_disconnected pattern: %w", err)
	}
	chat, err := regexp.Compile(chatPat)
	if err != nil {
		return nil, fmt.Errorf("player_chat pattern: %w", err)
	}
	return &RegexClassifier{connect: connect, disconnect: disconnect, chat: chat}, nil
}

func (rc *RegexClassifier) Classify(line string) Classification {
	if m := rc.chat.FindStringSubmatch(line); m != nil {
		return Classification{
			Kind:     KindChat,
			Username: group(rc.chat, m, "username"),
			Message:  group(rc.chat, m, "message"),
		}
	}
	if m := rc.connect.FindStringSubmatch(line); m != nil {
		return Classification{
			Kind:     KindConnect,
			Username: group(rc.connect, m, "username"),
			IP:       group(rc.connect, m, "ip"),
		}
	}
	if m := rc.disconnect.FindStringSubmatch(line); m != nil {
		return Classification{
			Kind:     KindDisconnect,
			Username: group(rc.disconnect, m, "username"),
			Reason:   group(rc.disconnect, m, "reason"),
		}
	}
	return Classification{Kind: KindUnmatched}
}

func group(re *regexp.Regexp, match []string, name string) string {
	for i, n := range re.SubexpNames() {
		if n == name && i < len(match) {
			return match[i]
		}
	}
	return ""
}
