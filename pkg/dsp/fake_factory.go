package dsp

import "github.com/telcogo/uecore/pkg/cellid"

// NewFakeFactory builds a Factory that always returns the given handles,
// regardless of the requested cell/antenna count — sufficient for tests
// that only need to observe the Sync Engine's state transitions against a
// fixed DSP behavior.
func NewFakeFactory(handles Handles) Factory {
	return func(cellid.Identity, int) (Handles, error) {
		return handles, nil
	}
}

// NewFailingFactory builds a Factory that always fails, used to exercise
// the Sync Engine's fatal "dsp init failed" path.
func NewFailingFactory(err error) Factory {
	return func(cellid.Identity, int) (Handles, error) {
		return Handles{}, err
	}
}
