// Package chunker splits raw file text into bounded, labeled windows that can
// be embedded and retrieved independently.
package chunker

import "strings"

// Window is the number of lines per chunk.
const Window = 100

// Piece is one emitted chunk of a file: the labeled text and the zero-based
// window number within the file.
type Piece struct {
	Text  string
	Index int
}

// Chunk splits fileText by line into fixed-size windows of Window lines,
// preserving line order. Each piece is prefixed with a file-path header so
// the embedding captures provenance. Chunk is pure: the same input always
// yields the same output. An empty file yields no pieces.
func Chunk(fileText, filePath string) []Piece {
	if fileText == "" {
		return nil
	}

	lines := strings.Split(fileText, "\n")
	pieces := make([]Piece, 0, (len(lines)+Window-1)/Window)
	for i := 0; i < len(lines); i += Window {
		end := i + Window
		if end > len(lines) {
			end = len(lines)
		}
		pieces = append(pieces, Piece{
			Text:  "File: " + filePath + "\n\n" + strings.Join(lines[i:end], "\n"),
			Index: i / Window,
		})
	}
	return pieces
}
