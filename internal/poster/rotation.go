package poster

import (
	"errors"

	"autopost/internal/storage"
)

// ErrEmptyPool is returned when a selection is attempted on an empty pool.
// The caller aborts the cycle without advancing state.
var ErrEmptyPool = errors.New("message pool is empty")

// selectMessage picks the next message per the configured rotation policy
// and returns the advanced state. The pool may have changed since the state
// was written: sequential rotation resolves the current position by message
// ID first and falls back to the stored index clamped by modulo, so a
// shrunken or reordered pool can never index out of range.
func selectMessage(pool []storage.Message, st storage.SchedulerState, randIntN func(int) int) (storage.Message, storage.SchedulerState, error) {
	if len(pool) == 0 {
		return storage.Message{}, st, ErrEmptyPool
	}

	if st.Rotation == storage.RotationRandom {
		// Random rotation leaves the sequential cursor untouched.
		return pool[randIntN(len(pool))], st, nil
	}

	pos := -1
	if st.CurrentMessageID != "" {
		for i := range pool {
			if pool[i].ID == st.CurrentMessageID {
				pos = i
				break
			}
		}
	}
	if pos < 0 {
		pos = st.CurrentMessageIndex % len(pool)
		if pos < 0 {
			pos += len(pool)
		}
	}

	msg := pool[pos]
	next := (pos + 1) % len(pool)
	st.CurrentMessageIndex = next
	st.CurrentMessageID = pool[next].ID
	return msg, st, nil
}
