package bucket

import "strings"

// chunkSize is the target chunk length in bytes. Chunks carry whole
// paragraphs where possible; a single oversized paragraph is split hard.
const chunkSize = 1200

// splitChunks breaks document content into embedding-sized pieces.
// Paragraph boundaries (blank lines) are preferred split points so each
// chunk stays coherent for retrieval.
func splitChunks(content string) []string {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}
	if len(content) <= chunkSize {
		return []string{content}
	}

	var chunks []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
		}
	}

	for _, para := range strings.Split(content, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}

		for len(para) > chunkSize {
			flush()
			chunks = append(chunks, para[:chunkSize])
			para = strings.TrimSpace(para[chunkSize:])
		}
		if para == "" {
			continue
		}

		if current.Len() > 0 && current.Len()+len(para)+2 > chunkSize {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	flush()

	return chunks
}
