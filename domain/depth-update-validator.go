package domain

import "errors"

var (
	// The book missed at least one update and has to be re-seeded from a snapshot.
	ErrUpdateOutOfSequence = errors.New("order book update is out of sequence")
	// Duplicate or old update, skip it.
	ErrUpdateOutdated = errors.New("order book update is outdated")
)

type DepthUpdateValidator interface {
	// if return nil, the update is valid
	IsValidUpd(update *DiffMessage, orderBookLastUpdID int64) error
}

// SequenceValidator implements the update-id bridging rule shared by Binance (U/u) and KuCoin (sequenceStart/sequenceEnd).
type SequenceValidator struct{}

func (v SequenceValidator) IsValidUpd(update *DiffMessage, orderBookLastUpdID int64) error {
	// Drop any event where u is <= lastUpdateId in the snapshot
	if update.FinalUpdateID <= orderBookLastUpdID {
		return ErrUpdateOutdated
	}

	if update.FirstUpdateID > orderBookLastUpdID+1 {
		return ErrUpdateOutOfSequence
	}

	return nil
}
