// internal/dispatch/archive.go
package dispatch

// archive keeps the most recent terminal jobs, evicting the oldest first.
type archive struct {
	size  int
	order []string
	next  int
	jobs  map[string]Job
}

func newArchive(size int) *archive {
	return &archive{
		size:  size,
		order: make([]string, 0, size),
		jobs:  make(map[string]Job, size),
	}
}

func (a *archive) put(j Job) {
	if _, ok := a.jobs[j.ID]; ok {
		a.jobs[j.ID] = j
		return
	}
	if len(a.order) < a.size {
		a.order = append(a.order, j.ID)
	} else {
		delete(a.jobs, a.order[a.next])
		a.order[a.next] = j.ID
		a.next = (a.next + 1) % a.size
	}
	a.jobs[j.ID] = j
}

func (a *archive) get(id string) (Job, bool) {
	j, ok := a.jobs[id]
	if ok {
		j.Data = j.snapshot().Data
	}
	return j, ok
}
