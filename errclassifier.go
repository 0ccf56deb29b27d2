// SPDX-License-Identifier: GPL-3.0-or-later

package sockpipe

import "github.com/bassosimone/errclass"

// ErrClassifier classifies errors into categorical strings.
//
// Implementations map errors to short labels (e.g., "ETIMEDOUT",
// "ECONNRESET") that end up in the errClass field of log events
// and in the Class field of [ErrorClosed].
type ErrClassifier interface {
	Classify(err error) string
}

// ErrClassifierFunc adapts a function to the [ErrClassifier] interface.
//
// This allows using simple functions as classifiers:
//
//	cfg.ErrClassifier = ErrClassifierFunc(myClassifier)
type ErrClassifierFunc func(error) string

var _ ErrClassifier = ErrClassifierFunc(nil)

// Classify implements [ErrClassifier].
func (f ErrClassifierFunc) Classify(err error) string {
	return f(err)
}

// DefaultErrClassifier classifies errors using [errclass.New].
//
// A nil error is classified as the empty string.
var DefaultErrClassifier = ErrClassifierFunc(func(err error) string {
	if err == nil {
		return ""
	}
	return errclass.New(err)
})
