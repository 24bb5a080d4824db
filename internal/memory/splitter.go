package memory

// SplitText splits text into overlapping windows of at most size runes.
// Consecutive windows share exactly overlap runes, except possibly the last
// one, which absorbs whatever remains. Overlap preserves context across
// chunk boundaries so similarity search does not lose sentences cut in half.
//
// size must be positive and overlap must satisfy 0 <= overlap < size;
// these are enforced at config load time.
func SplitText(text string, size, overlap int) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	if len(runes) <= size {
		return []string{text}
	}

	step := size - overlap
	chunks := make([]string, 0, (len(runes)-overlap+step-1)/step)
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks
}
