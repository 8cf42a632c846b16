package main

import (
	"fmt"
	"io"

	"github.com/MarcoPoloResearchLab/diagramsync/internal/diagrams"
)

// consoleSurface renders startup effects as text for the open command.
type consoleSurface struct {
	out    io.Writer
	staged *diagrams.Diagram
}

func newConsoleSurface(out io.Writer) *consoleSurface {
	return &consoleSurface{out: out}
}

func (s *consoleSurface) SetLoading(loading bool) {
	if loading {
		fmt.Fprintln(s.out, "loading diagram...")
	}
}

func (s *consoleSurface) ClearDiagram() {
	s.staged = nil
}

func (s *consoleSurface) ResetHistory() {}

func (s *consoleSurface) StageDiagram(diagram diagrams.Diagram) {
	s.staged = &diagram
	fmt.Fprintf(s.out, "opened %s (%s, %s): %d tables, %d relationships\n",
		diagram.Name, diagram.ID, diagram.DatabaseType, len(diagram.Tables), len(diagram.Relationships))
}

func (s *consoleSurface) OpenExistingPrompt(dismissible bool) {
	fmt.Fprintln(s.out, "choose a diagram: run `diagramsync list` then `diagramsync open <id>`")
}

func (s *consoleSurface) OpenCreatePrompt() {
	fmt.Fprintln(s.out, "no diagrams yet: run `diagramsync new <name>` to create one")
}

func (s *consoleSurface) Redirect(diagramID string) {
	fmt.Fprintf(s.out, "opening default diagram %s\n", diagramID)
}
