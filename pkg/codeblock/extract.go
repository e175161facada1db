package codeblock

import "strings"

// fencePrefix is the minimal fenced-code-block delimiter this package
// recognizes; a longer run of backticks still opens/closes a block as long
// as both fences use at least three.
const fencePrefix = "```"

// ExtractBlocks scans text for fenced code blocks (the same ```lang / ```
// delimiters agent models emit in markdown-formatted responses) and returns
// one Block per fence pair, with StartLine set to the 1-based line of the
// opening fence. Index is left at its zero value; Store.StoreBlocks assigns
// the session-stable index on append.
func ExtractBlocks(text string) []Block {
	lines := strings.Split(text, "\n")

	var blocks []Block
	var open bool
	var language string
	var startLine int
	var content []string

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !open {
			if strings.HasPrefix(trimmed, fencePrefix) {
				open = true
				language = strings.TrimSpace(strings.TrimPrefix(trimmed, fencePrefix))
				startLine = i + 1
				content = nil
			}
			continue
		}
		if strings.HasPrefix(trimmed, fencePrefix) {
			blocks = append(blocks, Block{
				Language:  language,
				Content:   strings.Join(content, "\n"),
				StartLine: startLine,
			})
			open = false
			continue
		}
		content = append(content, line)
	}

	return blocks
}
