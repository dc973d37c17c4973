package domain

// Distribution is a per-parent breakdown of child item ids by state
// group, consumed by progress indicators. It is eventually consistent
// with the entity store: mutations patch exactly the affected buckets.
type Distribution map[StateGroup][]string

// NewDistribution returns a distribution with every bucket allocated.
func NewDistribution() Distribution {
	d := make(Distribution, len(StateGroups))
	for _, g := range StateGroups {
		d[g] = nil
	}
	return d
}

// Add appends the id to the group's bucket if it is not already there.
func (d Distribution) Add(group StateGroup, id string) {
	for _, existing := range d[group] {
		if existing == id {
			return
		}
	}
	d[group] = append(d[group], id)
}

// Remove deletes the id from the group's bucket. Unknown ids no-op.
func (d Distribution) Remove(group StateGroup, id string) {
	bucket := d[group]
	for i, existing := range bucket {
		if existing == id {
			d[group] = append(bucket[:i:i], bucket[i+1:]...)
			return
		}
	}
}

// Move transfers the id from one bucket to another.
func (d Distribution) Move(from, to StateGroup, id string) {
	if from == to {
		return
	}
	d.Remove(from, id)
	d.Add(to, id)
}

// Total counts ids across all buckets.
func (d Distribution) Total() int {
	n := 0
	for _, bucket := range d {
		n += len(bucket)
	}
	return n
}

// Clone returns a deep copy.
func (d Distribution) Clone() Distribution {
	out := make(Distribution, len(d))
	for g, bucket := range d {
		out[g] = append([]string(nil), bucket...)
	}
	return out
}
