package ui

import (
	"sync"

	"github.com/eiannone/keyboard"
)

// Key codes delivered for non-printable keys.
const (
	KeyCtrlC rune = 3
	KeyEsc   rune = 27
)

// Singleton buffered channel and one reader goroutine to avoid multiple opens
// of the terminal.
var (
	keyCh     chan rune
	keyErr    error
	startOnce sync.Once
)

// StartKeyEvents returns a channel that emits single-key runes read without
// Enter. The first call opens the terminal in raw mode and starts the reader.
// If opening fails, the error is returned along with an inert channel.
func StartKeyEvents() (<-chan rune, error) {
	startOnce.Do(func() {
		keyCh = make(chan rune, 64)
		if err := keyboard.Open(); err != nil {
			keyErr = err
			return
		}
		go func() {
			defer keyboard.Close()
			for {
				char, key, err := keyboard.GetKey()
				if err != nil {
					close(keyCh)
					return
				}
				var r rune
				switch {
				case key == 0:
					r = char
				case key == keyboard.KeyEsc:
					r = KeyEsc
				case key == keyboard.KeyCtrlC:
					r = KeyCtrlC
				default:
					continue
				}
				// Drop keys nobody is reading rather than block the reader.
				select {
				case keyCh <- r:
				default:
				}
				if r == KeyCtrlC {
					return
				}
			}
		}()
	})
	return keyCh, keyErr
}

// DrainKeys consumes any immediately available keys to avoid accidental
// triggers.
func DrainKeys(ch <-chan rune) {
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		default:
			return
		}
	}
}
