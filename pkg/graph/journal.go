package graph

// Journal is the undo log of an instance graph. Every structural and binding
// change records an undo step; Rollback replays them in reverse.
type Journal struct {
	entries []func()
	version uint64
}

func (j *Journal) record(undo func()) {
	j.entries = append(j.entries, undo)
	j.version++
}

// Mark returns a position to roll back to.
func (j *Journal) Mark() int {
	return len(j.entries)
}

// Rollback undoes every change recorded after mark.
func (j *Journal) Rollback(mark int) {
	if mark < 0 || mark > len(j.entries) {
		return
	}
	for i := len(j.entries) - 1; i >= mark; i-- {
		j.entries[i]()
		j.entries[i] = nil
	}
	j.entries = j.entries[:mark]
	j.version++
}

// Truncate forgets all undo steps, committing the current state. Marks
// taken before Truncate become invalid.
func (j *Journal) Truncate() {
	j.entries = nil
}

// Len returns the number of recorded undo steps.
func (j *Journal) Len() int {
	return len(j.entries)
}

// Version increases on every change and rollback.
func (j *Journal) Version() uint64 {
	return j.version
}
