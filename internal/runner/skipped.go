package runner

import (
	"fmt"
	"strings"

	"keyredeem/internal/classify"
	"keyredeem/internal/fileutil"
)

// SkippedFileName lists keys skipped because the account owns the title.
const SkippedFileName = "skipped.txt"

// writeSkipped rewrites the skipped report. One line per key: the key name,
// and for fuzzy matches the owned title and score.
func writeSkipped(path string, owned []classify.OwnedKey) error {
	var b strings.Builder
	for _, o := range owned {
		b.WriteString(o.Record.HumanName)
		if o.Match.Name != "" && o.Match.Score < 100 {
			fmt.Fprintf(&b, "\t(matched %q, score %d)", o.Match.Name, o.Match.Score)
		}
		b.WriteByte('\n')
	}
	if err := fileutil.WriteAtomic(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write skipped report: %w", err)
	}
	return nil
}
