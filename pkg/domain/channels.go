package domain

import "strings"

type ChannelKind string

const (
	// ChannelHandle is a public channel addressed by @username; membership can be queried.
	ChannelHandle ChannelKind = "handle"
	// ChannelInvite is a private invite link; membership cannot be queried.
	ChannelInvite ChannelKind = "invite"
)

// ChannelRequirement is one entry of the mandatory subscription list.
type ChannelRequirement struct {
	Kind   ChannelKind `json:"kind"`
	Target string      `json:"target"`
}

// IsInvite reports whether the entry is exempt from membership checks.
func (c ChannelRequirement) IsInvite() bool {
	return c.Kind == ChannelInvite
}

// URL returns a join link suitable for the subscription panel.
func (c ChannelRequirement) URL() string {
	target := strings.TrimSpace(c.Target)
	if hasScheme(target) {
		return target
	}
	return "https://t.me/" + strings.TrimLeft(target, "@")
}

// ParseChannelList normalizes newline-delimited operator input. Blank lines
// and lines that normalize to nothing are dropped.
func ParseChannelList(text string) []ChannelRequirement {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	out := make([]ChannelRequirement, 0, len(lines))
	for _, line := range lines {
		req, ok := ParseChannelRequirement(line)
		if !ok {
			continue
		}
		out = append(out, req)
	}
	return out
}

// ParseChannelRequirement normalizes a single entry:
//
//	@name, name              -> handle @name
//	https://t.me/name        -> handle @name
//	https://t.me/+hash       -> invite link (kept as URL)
//	https://t.me/joinchat/x  -> invite link (kept as URL)
//	any other URL            -> handle kept verbatim; lookups on it fail closed
func ParseChannelRequirement(line string) (ChannelRequirement, bool) {
	s := strings.TrimSpace(line)
	if s == "" {
		return ChannelRequirement{}, false
	}
	if hasScheme(s) {
		s = strings.TrimRight(s, "/")
		if IsInviteLink(s) {
			return ChannelRequirement{Kind: ChannelInvite, Target: s}, true
		}
		if name, ok := telegramUsername(s); ok {
			return ChannelRequirement{Kind: ChannelHandle, Target: "@" + name}, true
		}
		return ChannelRequirement{Kind: ChannelHandle, Target: s}, true
	}
	name := strings.TrimSpace(strings.TrimLeft(s, "@"))
	if name == "" {
		return ChannelRequirement{}, false
	}
	return ChannelRequirement{Kind: ChannelHandle, Target: "@" + name}, true
}

// IsInviteLink reports whether s is a t.me private invite URL.
func IsInviteLink(s string) bool {
	s = strings.TrimSpace(s)
	if !hasScheme(s) || !strings.Contains(s, "t.me/") {
		return false
	}
	return strings.Contains(s, "/+") || strings.Contains(s, "t.me/joinchat/")
}

func telegramUsername(url string) (string, bool) {
	idx := strings.Index(url, "t.me/")
	if idx < 0 {
		return "", false
	}
	rest := url[idx+len("t.me/"):]
	if rest == "" || strings.ContainsAny(rest, "/?#+") {
		return "", false
	}
	return rest, true
}

func hasScheme(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
