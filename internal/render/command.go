package render

// CommandKind identifies a draw command. The scheduler only records commands;
// what they mean is up to the backend.
type CommandKind uint8

const (
	CmdClear  CommandKind = iota // fill the whole surface with Color
	CmdRect                      // filled rectangle X,Y,W,H
	CmdText                      // Text at X,Y
	CmdGlyph                     // single Glyph at X,Y
	CmdSprite                    // uploaded resource named Text at X,Y
)

func (k CommandKind) String() string {
	switch k {
	case CmdClear:
		return "clear"
	case CmdRect:
		return "rect"
	case CmdText:
		return "text"
	case CmdGlyph:
		return "glyph"
	case CmdSprite:
		return "sprite"
	}
	return "unknown"
}

// Color is 0xRRGGBB.
type Color uint32

// RGB splits a color into channels.
func (c Color) RGB() (r, g, b uint8) {
	return uint8(c >> 16), uint8(c >> 8), uint8(c)
}

// Command is one recorded draw operation.
type Command struct {
	Kind  CommandKind
	X, Y  int
	W, H  int
	Color Color
	Glyph rune
	Text  string
	Layer int
}

// FrameInfo travels with the buffer to the render goroutine.
type FrameInfo struct {
	ID      uint64  // scheduler frame number
	TickID  uint64  // fixed ticks executed when the frame was built
	Elapsed float64 // seconds of scaled time covered by the frame
}
