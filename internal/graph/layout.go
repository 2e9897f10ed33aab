// internal/graph/layout.go

// Package graph lays out a topologically-grouped commit traversal as a grid
// of nodes and connector lines, one page at a time. The layout state is an
// explicitly owned, serializable value the caller passes between page
// requests; nothing lives in globals, so pagination is transport-agnostic.
package graph

import (
	"fmt"

	"keel/internal/store"
	"keel/shared/messages"
)

// Stem is an in-flight vertical line: an edge whose target commit has not
// been emitted yet. Its slot index is the rendered column.
type Stem struct {
	Source         messages.LogCoordinates `json:"source"`
	Target         store.CommitID          `json:"target"`
	Indirect       bool                    `json:"indirect"`
	WasInserted    bool                    `json:"was_inserted"`
	KnownImmutable bool                    `json:"known_immutable"`
}

// State is the resumable layout position: the next row index and the open
// stems. Nil entries are empty slots awaiting reuse.
type State struct {
	PageSize int     `json:"page_size"`
	NextRow  int     `json:"next_row"`
	Stems    []*Stem `json:"stems"`
}

func NewState(pageSize int) *State {
	return &State{PageSize: pageSize}
}

// HeaderFunc formats a revision header given its already-determined
// immutability, so the layout never re-queries what a stem carried down.
type HeaderFunc func(id store.CommitID, immutable bool) (messages.RevHeader, error)

// Session drives one paginated layout over a forward-only iterator. Pages
// must be requested in order by a single owner; no row is ever re-visited.
type Session struct {
	state       *State
	iter        *store.GraphIter
	rootID      store.CommitID
	header      HeaderFunc
	isImmutable func(store.CommitID) (bool, error)
}

// NewSession resumes layout from state. A freshly built iterator is advanced
// past the rows already emitted.
func NewSession(
	state *State,
	iter *store.GraphIter,
	rootID store.CommitID,
	header HeaderFunc,
	isImmutable func(store.CommitID) (bool, error),
) *Session {
	iter.Skip(state.NextRow)
	return &Session{
		state:       state,
		iter:        iter,
		rootID:      rootID,
		header:      header,
		isImmutable: isImmutable,
	}
}

// State returns the session's resumable state.
func (s *Session) State() *State { return s.state }

// GetPage lays out rows until the page is full or the iterator is exhausted.
func (s *Session) GetPage() (*messages.LogPage, error) {
	rows := make([]messages.LogRow, 0, s.state.PageSize)
	row := s.state.NextRow
	max := row + s.state.PageSize

	for {
		item, err := s.iter.Next()
		if err != nil {
			return nil, fmt.Errorf("iterating log: %w", err)
		}
		if item == nil {
			break
		}
		commitID := item.Commit

		var lines []messages.LogLine

		// Find an existing stem targeting this node.
		column := len(s.state.Stems)
		stemKnownImmutable := false
		padding := 0 // offsets the summary past edges to the right

		if slot := s.findStem(commitID); slot >= 0 {
			column = slot
			padding = len(s.state.Stems) - column - 1
		}

		if column < len(s.state.Stems) {
			// Terminate the stem occupying the chosen column.
			if terminated := s.state.Stems[column]; terminated != nil {
				stemKnownImmutable = terminated.KnownImmutable
				kind := messages.LineToNode
				if terminated.WasInserted {
					kind = messages.LineFromNode
				}
				lines = append(lines, messages.LogLine{
					Kind:     kind,
					Indirect: terminated.Indirect,
					Source:   terminated.Source,
					Target:   messages.LogCoordinates{Column: column, Row: row},
				})
			}
			s.state.Stems[column] = nil
		} else {
			// Otherwise reuse the first gap, if any.
			for slot, stem := range s.state.Stems {
				if stem == nil {
					column = slot
					padding = len(s.state.Stems) - slot - 1
					break
				}
			}
		}

		// A terminated immutable stem settles the question without another
		// revset query.
		immutable := stemKnownImmutable
		if !immutable {
			immutable, err = s.isImmutable(commitID)
			if err != nil {
				return nil, err
			}
		}

		header, err := s.header(commitID, immutable)
		if err != nil {
			return nil, err
		}

		s.trimStems()

		// Merge edges into existing stems or open new ones on the right.
		var nextMissing *store.CommitID
	edges:
		for _, edge := range item.Edges {
			if edge.Type == store.EdgeMissing {
				if edge.Target == s.rootID {
					// The root has no further ancestry to draw.
					continue
				}
				target := edge.Target
				nextMissing = &target
			}

			indirect := edge.Type != store.EdgeDirect

			for slot, stem := range s.state.Stems {
				if stem != nil && stem.Target == edge.Target {
					lines = append(lines, messages.LogLine{
						Kind:     messages.LineToIntersection,
						Indirect: indirect,
						Source:   messages.LogCoordinates{Column: column, Row: row},
						Target:   messages.LogCoordinates{Column: slot, Row: row + 1},
					})
					continue edges
				}
			}

			for slot, stem := range s.state.Stems {
				if stem == nil {
					s.state.Stems[slot] = &Stem{
						Source:         messages.LogCoordinates{Column: column, Row: row},
						Target:         edge.Target,
						Indirect:       indirect,
						WasInserted:    true,
						KnownImmutable: header.IsImmutable,
					}
					continue edges
				}
			}

			s.state.Stems = append(s.state.Stems, &Stem{
				Source:         messages.LogCoordinates{Column: column, Row: row},
				Target:         edge.Target,
				Indirect:       indirect,
				WasInserted:    false,
				KnownImmutable: header.IsImmutable,
			})
		}

		rows = append(rows, messages.LogRow{
			Revision: header,
			Location: messages.LogCoordinates{Column: column, Row: row},
			Padding:  padding,
			Lines:    lines,
		})
		row++

		// Resolve a stem created for a missing edge: draw its boundary one
		// row below and consume that row.
		if nextMissing != nil {
			if slot := s.findStem(*nextMissing); slot >= 0 {
				if terminated := s.state.Stems[slot]; terminated != nil {
					last := &rows[len(rows)-1]
					last.Lines = append(last.Lines, messages.LogLine{
						Kind:     messages.LineToMissing,
						Indirect: terminated.Indirect,
						Source:   messages.LogCoordinates{Column: column, Row: row - 1},
						Target:   messages.LogCoordinates{Column: slot, Row: row},
					})
				}
				s.state.Stems[slot] = nil
				s.trimStems()
				row++
			}
		}

		if row >= max {
			break
		}
	}

	s.state.NextRow = row
	return &messages.LogPage{
		Rows:    rows,
		HasMore: s.iter.HasNext(),
	}, nil
}

func (s *Session) findStem(id store.CommitID) int {
	for slot, stem := range s.state.Stems {
		if stem != nil && stem.Target == id {
			return slot
		}
	}
	return -1
}

// trimStems drops trailing empty slots so the rendered width tracks the
// current number of open branches.
func (s *Session) trimStems() {
	stems := s.state.Stems
	for len(stems) > 0 && stems[len(stems)-1] == nil {
		stems = stems[:len(stems)-1]
	}
	s.state.Stems = stems
}
