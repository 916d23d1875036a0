package event

import "time"

// Input and control events delivered through the bus during the event poll.

type KeyPressed struct {
	Key  int16 // tcell key code; KeyRune means Rune is set
	Rune rune
	Mod  int16
	At   time.Time
}

type Resized struct {
	Width  int
	Height int
}

// ConsoleCommand is a line received by the remote console. Reply, if set,
// sends the answer back to the issuing session.
type ConsoleCommand struct {
	SessionID uint64
	Name      string
	Args      []string
	Reply     func(string)
}

type PauseToggled struct {
	Paused bool
}

type SpeedChanged struct {
	Speed float64
}

type QuitRequested struct {
	Reason string
}
