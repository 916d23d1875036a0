package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmitVisibleAfterSwap(t *testing.T) {
	b := NewBus()
	var got []string
	Subscribe(b, func(e QuitRequested) { got = append(got, e.Reason) })

	Emit(b, QuitRequested{Reason: "a"})
	Emit(b, QuitRequested{Reason: "b"})
	assert.Zero(t, b.DispatchAll(), "nothing readable before the swap")
	assert.Equal(t, 2, b.Pending())

	b.SwapBuffers()
	assert.Equal(t, 2, b.DispatchAll())
	assert.Equal(t, []string{"a", "b"}, got)

	b.SwapBuffers()
	assert.Zero(t, b.DispatchAll())
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestTypesAreSeparated(t *testing.T) {
	b := NewBus()
	var keys []rune
	var sizes []int
	Subscribe(b, func(e KeyPressed) { keys = append(keys, e.Rune) })
	Subscribe(b, func(e Resized) { sizes = append(sizes, e.Width) })

	Emit(b, Resized{Width: 80, Height: 24})
	Emit(b, KeyPressed{Rune: 'p'})
	b.SwapBuffers()
	b.DispatchAll()

	assert.Equal(t, []rune{'p'}, keys)
	assert.Equal(t, []int{80}, sizes)
}

func TestEmitDuringDispatchWaitsForNextFrame(t *testing.T) {
	b := NewBus()
	count := 0
	Subscribe(b, func(e SpeedChanged) {
		count++
		if e.Speed < 4 {
			Emit(b, SpeedChanged{Speed: e.Speed * 2})
		}
	})

	Emit(b, SpeedChanged{Speed: 1})
	for i := 0; i < 3; i++ {
		b.SwapBuffers()
		assert.Equal(t, 1, b.DispatchAll())
	}
	assert.Equal(t, 3, count)
	b.SwapBuffers()
	assert.Zero(t, b.DispatchAll())
}

func TestMultipleHandlersInOrder(t *testing.T) {
	b := NewBus()
	var calls []int
	Subscribe(b, func(PauseToggled) { calls = append(calls, 1) })
	Subscribe(b, func(PauseToggled) { calls = append(calls, 2) })

	Emit(b, PauseToggled{Paused: true})
	b.SwapBuffers()
	b.DispatchAll()
	assert.Equal(t, []int{1, 2}, calls)
}
