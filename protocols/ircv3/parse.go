package ircv3

import (
	"strings"

	"github.com/stcbus/pidgin-sub003/perrors"
	"github.com/stcbus/pidgin-sub003/router"
)

// errNoCommand is returned for a frame with no command word. The caller
// drops the frame via [perrors.KindProtocol] and
// keeps reading).
func errNoCommand() error { return perrors.New(perrors.KindProtocol, "IRC frame has no command", nil) }

// parseLine extracts (tags, source, verb, params) from one IRCv3 line:
// an optional "@tags " prefix, an optional ":source " prefix,
// a command word, then space-separated params with an optional trailing
// ':'-prefixed tail treated as a single final param.
func parseLine(line string) (*router.Inbound, error) {
	in := &router.Inbound{}

	if strings.HasPrefix(line, "@") {
		sp := strings.IndexByte(line, ' ')
		if sp < 0 {
			return nil, errNoCommand()
		}
		in.Tags = parseTags(line[1:sp])
		line = strings.TrimLeft(line[sp+1:], " ")
	}

	if strings.HasPrefix(line, ":") {
		sp := strings.IndexByte(line, ' ')
		if sp < 0 {
			return nil, errNoCommand()
		}
		in.Source = line[1:sp]
		line = strings.TrimLeft(line[sp+1:], " ")
	}

	if line == "" {
		return nil, errNoCommand()
	}

	var (
		trailing    string
		hasTrailing bool
	)
	if idx := strings.Index(line, " :"); idx >= 0 {
		trailing = line[idx+2:]
		hasTrailing = true
		line = line[:idx]
	}

	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, errNoCommand()
	}

	in.Verb = strings.ToUpper(fields[0])
	in.Params = fields[1:]
	if hasTrailing {
		in.Params = append(in.Params, trailing)
	}
	return in, nil
}

func parseTags(s string) map[string]string {
	tags := make(map[string]string)
	for _, tok := range strings.Split(s, ";") {
		if tok == "" {
			continue
		}
		if k, v, ok := strings.Cut(tok, "="); ok {
			tags[k] = v
		} else {
			tags[tok] = ""
		}
	}
	return tags
}

// senderNick extracts the nick from a "nick!user@host" source, or returns
// source unchanged if it carries no '!'.
func senderNick(source string) string {
	if i := strings.IndexByte(source, '!'); i >= 0 {
		return source[:i]
	}
	return source
}
