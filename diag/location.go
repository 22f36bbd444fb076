package diag

import "fmt"

// Location pinpoints a diagnostic by text position (Line/Col) or by byte
// Offset; String prints Line:Col when Line is set and the offset otherwise.
// The validator reports every diagnostic with a zero Location.
type Location struct {
	Line   int
	Col    int
	Offset int
}

func (l Location) String() string {
	if l.Line > 0 {
		return fmt.Sprintf("%d:%d", l.Line, l.Col)
	}
	return fmt.Sprintf("offset %d", l.Offset)
}
