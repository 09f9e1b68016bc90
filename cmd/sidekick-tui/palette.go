package main

import (
	"github.com/charmbracelet/bubbles/textinput"
)

// palette is the quick command bar: an overlay with its own input that feeds
// the exact same send pipeline as the main input box. At most one is open.
type palette struct {
	open   bool
	input  textinput.Model
	models []modelTag
	index  int
}

func newPalette() palette {
	input := textinput.New()
	input.Prompt = "» "
	input.Placeholder = "Ask anything, or pick a model below"
	input.CharLimit = 2000
	return palette{index: -1}.withInput(input)
}

func (p palette) withInput(input textinput.Model) palette {
	p.input = input
	return p
}

// show opens the overlay. Opening an already-open palette is a no-op so an
// impatient hotkey cannot stack instances.
func (p palette) show(models []modelTag) palette {
	if p.open {
		return p
	}
	p.open = true
	p.models = models
	p.index = -1
	p.input.SetValue("")
	p.input.Focus()
	return p
}

func (p palette) hide() palette {
	p.open = false
	p.input.Blur()
	return p
}

func (p palette) moveSelection(delta int) palette {
	if len(p.models) == 0 {
		return p
	}
	p.index += delta
	if p.index < -1 {
		p.index = len(p.models) - 1
	}
	if p.index >= len(p.models) {
		p.index = -1
	}
	return p
}

// selectedModel is the model the highlight sits on, if any.
func (p palette) selectedModel() (string, bool) {
	if p.index < 0 || p.index >= len(p.models) {
		return "", false
	}
	return p.models[p.index].Name, true
}
