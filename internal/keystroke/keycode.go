// Package keystroke defines the key events consumed by the state estimator.
//
// Key codes use the Windows virtual-key space because that is what the
// low-level capture hook delivers. Other platforms translate into it before
// handing events to the feature extractor.
package keystroke

import "fmt"

// KeyCode is a virtual-key code as delivered by the capture hook.
type KeyCode uint32

const (
	// NoKey marks an event that is not key-identifiable.
	NoKey KeyCode = 0x00

	Backspace KeyCode = 0x08
	Tab       KeyCode = 0x09
	Return    KeyCode = 0x0D
	Shift     KeyCode = 0x10
	Control   KeyCode = 0x11
	Menu      KeyCode = 0x12 // Alt
	Escape    KeyCode = 0x1B
	Space     KeyCode = 0x20
	Left      KeyCode = 0x25
	Up        KeyCode = 0x26
	Right     KeyCode = 0x27
	Down      KeyCode = 0x28
	Delete    KeyCode = 0x2E
	LeftWin   KeyCode = 0x5B
	RightWin  KeyCode = 0x5C

	// maxKeyCode is the last assigned virtual-key code.
	maxKeyCode KeyCode = 0xFE
)

// Recognized reports whether k is a real virtual-key code. NoKey and codes
// outside the assigned range are not recognized.
func (k KeyCode) Recognized() bool {
	return k > NoKey && k <= maxKeyCode
}

// IsBackspace reports whether k deletes backward.
func (k KeyCode) IsBackspace() bool {
	return k == Backspace
}

// IsCorrection reports whether k removes text (backspace or forward delete).
func (k KeyCode) IsCorrection() bool {
	return k == Backspace || k == Delete
}

// IsModifier reports whether k is a modifier that never produces text on its own.
func (k KeyCode) IsModifier() bool {
	switch k {
	case Shift, Control, Menu, LeftWin, RightWin:
		return true
	case 0xA0, 0xA1, 0xA2, 0xA3, 0xA4, 0xA5: // left/right shift, ctrl, alt
		return true
	}
	return false
}

func (k KeyCode) String() string {
	switch k {
	case NoKey:
		return "none"
	case Backspace:
		return "backspace"
	case Delete:
		return "delete"
	case Return:
		return "return"
	case Space:
		return "space"
	case Tab:
		return "tab"
	case Escape:
		return "escape"
	}
	if k >= 'A' && k <= 'Z' || k >= '0' && k <= '9' {
		return string(rune(k))
	}
	return fmt.Sprintf("vk_0x%02X", uint32(k))
}
