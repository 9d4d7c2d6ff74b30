package escrow

// RequirementLedger is the fixed-length checklist of an agreement. Entries are
// created once at construction; the only mutation is completing an entry,
// which happens at most once per index and only through the Agreement.
type RequirementLedger struct {
	items     []Requirement
	completed uint64
}

// NewRequirementLedger builds a ledger with every entry pending
func NewRequirementLedger(descriptions []string) (*RequirementLedger, error) {
	if len(descriptions) == 0 || len(descriptions) > MaxRequirements {
		return nil, ErrInvalidRequirements.WithDetail("count", len(descriptions))
	}
	items := make([]Requirement, len(descriptions))
	for i, d := range descriptions {
		items[i] = Requirement{Index: uint64(i), Description: d}
	}
	return &RequirementLedger{items: items}, nil
}

func (l *RequirementLedger) Len() uint64 {
	return uint64(len(l.items))
}

// CompletedCount is maintained incrementally by complete
func (l *RequirementLedger) CompletedCount() uint64 {
	return l.completed
}

// Get returns a copy of the entry at index
func (l *RequirementLedger) Get(index uint64) (Requirement, error) {
	if index >= l.Len() {
		return Requirement{}, ErrRequirementNotFound.WithDetail("index", index)
	}
	return l.items[index], nil
}

// All returns a copy of every entry in index order
func (l *RequirementLedger) All() []Requirement {
	out := make([]Requirement, len(l.items))
	copy(out, l.items)
	return out
}

// Columns returns the ledger as parallel arrays
func (l *RequirementLedger) Columns() RequirementColumns {
	cols := RequirementColumns{
		Descriptions: make([]string, len(l.items)),
		Completed:    make([]bool, len(l.items)),
		CompletedAt:  make([]uint64, len(l.items)),
	}
	for i, r := range l.items {
		cols.Descriptions[i] = r.Description
		cols.Completed[i] = r.Completed
		cols.CompletedAt[i] = r.CompletedAt
	}
	return cols
}

// Pending returns the indices of entries not yet completed
func (l *RequirementLedger) Pending() []uint64 {
	var out []uint64
	for _, r := range l.items {
		if !r.Completed {
			out = append(out, r.Index)
		}
	}
	return out
}

func (l *RequirementLedger) complete(index, at uint64) (Requirement, error) {
	if index >= l.Len() {
		return Requirement{}, ErrRequirementNotFound.WithDetail("index", index)
	}
	if l.items[index].Completed {
		return Requirement{}, ErrAlreadyCompleted.WithDetail("index", index)
	}
	l.items[index].Completed = true
	l.items[index].CompletedAt = at
	l.completed++
	return l.items[index], nil
}

// Clone returns an independent copy
func (l *RequirementLedger) Clone() *RequirementLedger {
	return &RequirementLedger{items: l.All(), completed: l.completed}
}
