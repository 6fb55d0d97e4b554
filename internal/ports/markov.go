package ports

import "context"

// EmptyWordID is the reserved identifier of the empty token that starts and
// terminates every chain in the persisted Markov model.
const EmptyWordID = 1

// Successor is one candidate continuation of a bigram, with its observed
// frequency in the training corpus.
type Successor struct {
	Word string
	ID   int64
	Freq int64
}

// MarkovSource answers "given the previous two word IDs, what may follow".
// The model is populated offline and read-only at runtime.
//
// Determinism: for a fixed model, Successors must return candidates in a
// stable order so that seeded sampling reproduces identical text across
// restarts.
type MarkovSource interface {
	Successors(ctx context.Context, p1, p2 int64) ([]Successor, error)
	Ping(ctx context.Context) error
	Close() error
}
