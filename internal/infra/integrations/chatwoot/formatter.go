package chatwoot

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	boldMarkdown   = regexp.MustCompile(`\*\*(.+?)\*\*`)
	italicMarkdown = regexp.MustCompile(`(^|\s)_(.+?)_`)
	strikeMarkdown = regexp.MustCompile(`~~(.+?)~~`)
)

// toWhatsAppMarkup converts Chatwoot's markdown flavor to WhatsApp's:
// **bold** becomes *bold*, ~~strike~~ becomes ~strike~.
func toWhatsAppMarkup(text string) string {
	text = boldMarkdown.ReplaceAllString(text, "*$1*")
	text = strikeMarkdown.ReplaceAllString(text, "~$1~")
	return text
}

// toChatwootMarkup converts WhatsApp formatting to Chatwoot markdown.
func toChatwootMarkup(text string) string {
	var out strings.Builder
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		if runes[i] == '*' && !isEscaped(runes, i) {
			out.WriteString("**")
			continue
		}
		out.WriteRune(runes[i])
	}
	return out.String()
}

func isEscaped(runes []rune, i int) bool {
	return i > 0 && runes[i-1] == '\\'
}

// signContent prepends the agent signature when signing is enabled.
func signContent(content, agentName, separator string) string {
	if agentName == "" {
		return content
	}
	if separator == "" {
		separator = ":\n"
	}
	return fmt.Sprintf("*%s*%s%s", agentName, separator, content)
}

// groupSenderPrefix labels a group participant's message so agents can
// tell speakers apart inside the shared conversation.
func groupSenderPrefix(senderName, senderJID string) string {
	name := strings.TrimSpace(senderName)
	if name == "" {
		name = PhoneFromJID(senderJID)
	}
	if name == "" {
		return ""
	}
	return fmt.Sprintf("**%s:**\n", name)
}

func formatLocation(lat, lng float64, name, address string) string {
	var b strings.Builder
	b.WriteString("📍 ")
	if name != "" {
		b.WriteString(name)
	} else {
		b.WriteString("Location")
	}
	if address != "" {
		b.WriteString("\n")
		b.WriteString(address)
	}
	fmt.Fprintf(&b, "\nhttps://maps.google.com/?q=%f,%f", lat, lng)
	return b.String()
}

func formatContactCard(displayName, vcard string) string {
	var b strings.Builder
	b.WriteString("👤 ")
	if displayName != "" {
		b.WriteString(displayName)
	} else {
		b.WriteString("Contact")
	}
	if phone := phoneFromVCard(vcard); phone != "" {
		b.WriteString("\n")
		b.WriteString(phone)
	}
	return b.String()
}

var vcardTel = regexp.MustCompile(`TEL[^:]*:([+\d][\d\s()-]+)`)

func phoneFromVCard(vcard string) string {
	m := vcardTel.FindStringSubmatch(vcard)
	if len(m) < 2 {
		return ""
	}
	return strings.TrimSpace(m[1])
}

func formatPoll(title string, options []string) string {
	var b strings.Builder
	b.WriteString("📊 ")
	b.WriteString(title)
	for _, opt := range options {
		b.WriteString("\n• ")
		b.WriteString(opt)
	}
	return b.String()
}

func formatReaction(emoji string) string {
	if emoji == "" {
		return "Removed a reaction"
	}
	return fmt.Sprintf("Reacted %s to a message", emoji)
}
