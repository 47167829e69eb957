package index

import (
	"sync"

	"github.com/vtcode/vtcode/internal/rag/parser/markdown"
	"github.com/vtcode/vtcode/internal/rag/parser/text"
)

var registerParsersOnce sync.Once

func ensureDefaultParsers() {
	registerParsersOnce.Do(func() {
		markdown.Register()
		text.Register()
	})
}
