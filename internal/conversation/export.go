package conversation

import (
	"fmt"
	"io"
	"strings"

	"github.com/MegaGrindStone/chat-web-ui/internal/models"
)

var lineEscaper = strings.NewReplacer(`\`, `\\`, "\r", `\r`, "\n", `\n`)

// Export writes messages as a plain-text transcript, one "Role: content" line per message. Line breaks inside a
// message are escaped so the line count always equals the message count.
func Export(w io.Writer, messages []models.Message) error {
	for _, msg := range messages {
		if _, err := fmt.Fprintf(w, "%s: %s\n", roleLabel(msg.Role), lineEscaper.Replace(msg.Content.String())); err != nil {
			return fmt.Errorf("failed to write message %s: %w", msg.ID, err)
		}
	}
	return nil
}

func roleLabel(role models.Role) string {
	r := string(role)
	if r == "" {
		return r
	}
	return strings.ToUpper(r[:1]) + r[1:]
}
