package main

import (
	"testing"
)

func TestPaletteShowIsSingleInstance(t *testing.T) {
	p := newPalette()
	p = p.show([]modelTag{{Name: "llama3"}})
	p.input.SetValue("half-typed question")
	p = p.moveSelection(1)

	// A second open request must not reset the live instance.
	again := p.show([]modelTag{{Name: "other"}})
	if again.input.Value() != "half-typed question" {
		t.Fatalf("reopen cleared the input: %q", again.input.Value())
	}
	if again.index != p.index {
		t.Fatalf("reopen moved the selection: %d", again.index)
	}
	if len(again.models) != 1 || again.models[0].Name != "llama3" {
		t.Fatalf("reopen swapped the model list: %+v", again.models)
	}
}

func TestPaletteSelectionCycles(t *testing.T) {
	p := newPalette().show([]modelTag{{Name: "a"}, {Name: "b"}})
	if _, ok := p.selectedModel(); ok {
		t.Fatalf("fresh palette should have no selection")
	}
	p = p.moveSelection(1)
	if name, _ := p.selectedModel(); name != "a" {
		t.Fatalf("first down = %q", name)
	}
	p = p.moveSelection(1)
	if name, _ := p.selectedModel(); name != "b" {
		t.Fatalf("second down = %q", name)
	}
	p = p.moveSelection(1)
	if _, ok := p.selectedModel(); ok {
		t.Fatalf("cycling past the end should return to the input row")
	}
	p = p.moveSelection(-1)
	if name, _ := p.selectedModel(); name != "b" {
		t.Fatalf("up from input row = %q", name)
	}
}

func TestPaletteSelectionWithNoModels(t *testing.T) {
	p := newPalette().show(nil)
	p = p.moveSelection(1)
	if _, ok := p.selectedModel(); ok {
		t.Fatalf("selection with no models")
	}
}

func TestPaletteHideResets(t *testing.T) {
	p := newPalette().show([]modelTag{{Name: "a"}})
	p = p.hide()
	if p.open {
		t.Fatalf("palette still open after hide")
	}
	reopened := p.show([]modelTag{{Name: "b"}})
	if reopened.input.Value() != "" {
		t.Fatalf("reopen after hide kept stale input %q", reopened.input.Value())
	}
	if reopened.index != -1 {
		t.Fatalf("reopen after hide kept selection %d", reopened.index)
	}
	if len(reopened.models) != 1 || reopened.models[0].Name != "b" {
		t.Fatalf("reopen after hide kept stale models %+v", reopened.models)
	}
}
