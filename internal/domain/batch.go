package domain

// Batch is the ordered set of records claimed for one delivery attempt.
// Records are ordered by ascending id.
type Batch struct {
	Records []Record

	// TotalBytes is the sum of all payload lengths
	TotalBytes int
}

// NewBatch creates a batch from records already ordered by id.
func NewBatch(records []Record) *Batch {
	b := &Batch{Records: records}
	for _, r := range records {
		b.TotalBytes += r.Size()
	}
	return b
}

// Size returns the number of records in the batch.
func (b *Batch) Size() int {
	return len(b.Records)
}

// Empty returns true if the batch has no records.
func (b *Batch) Empty() bool {
	return len(b.Records) == 0
}

// IDs returns the record ids in batch order.
func (b *Batch) IDs() []RecordID {
	ids := make([]RecordID, len(b.Records))
	for i, r := range b.Records {
		ids[i] = r.ID
	}
	return ids
}

// Contains reports whether id is part of the batch.
func (b *Batch) Contains(id RecordID) bool {
	for _, r := range b.Records {
		if r.ID == id {
			return true
		}
	}
	return false
}

// CountKind returns how many records of kind k the batch holds.
func (b *Batch) CountKind(k Kind) int {
	n := 0
	for _, r := range b.Records {
		if r.Kind == k {
			n++
		}
	}
	return n
}
