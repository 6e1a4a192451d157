package markov

import "errors"

var (
	// ErrEmptyModel indicates generation was requested for a conversation
	// with no trained transitions. Callers treat it as "nothing to say".
	ErrEmptyModel = errors.New("markov: empty model")

	// ErrInvalidSetting indicates a settings value outside its recognized
	// range or type. The conversation state is unchanged when returned.
	ErrInvalidSetting = errors.New("markov: invalid setting")
)
