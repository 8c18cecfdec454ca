package chips

import (
	"context"
)

// Buffer accumulates the chips produced by a transaction, in emission order.
// A pure read never touches the buffer; rollback clears it, so partial
// mutations never leak to the client.
type Buffer struct {
	pending []Chip
}

func NewBuffer() *Buffer {
	return &Buffer{}
}

// Emit queues a chip for the next flush.
func (b *Buffer) Emit(c Chip) {
	b.pending = append(b.pending, c)
}

// Pending returns the queued chips in emission order.
func (b *Buffer) Pending() []Chip {
	return b.pending
}

// Len reports how many chips are queued.
func (b *Buffer) Len() int {
	return len(b.pending)
}

// Clear drops all queued chips. Called on transaction rollback.
func (b *Buffer) Clear() {
	b.pending = nil
}

// Flush appends every queued chip to the journal under the caller's
// transaction and clears the buffer. Chips keep their buffer order.
func (b *Buffer) Flush(ctx context.Context, journal *Journal, userID string) error {
	for i := range b.pending {
		b.pending[i].UserID = userID
		if err := journal.Append(ctx, &b.pending[i]); err != nil {
			return err
		}
	}
	b.pending = nil
	return nil
}
