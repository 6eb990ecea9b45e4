package chat

import (
	"fmt"
	"strings"
)

// Flatten 将发言序列展开为带角色标签的纯文本，用于拼接提示词。
func Flatten(turns []Turn) string {
	var b strings.Builder
	for i, turn := range turns {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "%s: %s", turn.Speaker, turn.Content)
	}
	return b.String()
}
