// SPDX-License-Identifier: GPL-3.0-or-later

package framedtls

import (
	"errors"

	"github.com/bassosimone/errclass"
)

// ErrClassifier classifies errors into categorical strings for analysis.
//
// Implementations map errors to short, descriptive labels (e.g., "ETIMEDOUT",
// "ECONNRESET") that end up in the errClass field of log events.
type ErrClassifier interface {
	Classify(err error) string
}

// ErrClassifierFunc adapts a function to the [ErrClassifier] interface.
type ErrClassifierFunc func(error) string

var _ ErrClassifier = ErrClassifierFunc(nil)

// Classify implements [ErrClassifier].
func (f ErrClassifierFunc) Classify(err error) string {
	return f(err)
}

// Labels assigned by [DefaultErrClassifier] to this package's errors.
const (
	EAUTH     = "EAUTH"
	ECONFIG   = "ECONFIG"
	EFRAMING  = "EFRAMING"
	ENODATA   = "ENODATA"
	ESTALL    = "ESTALL"
	ETOOLARGE = "ETOOLARGE"
)

// errClassTable is ordered: [ErrNoData] must precede [ErrStallTimeout].
var errClassTable = []struct {
	err   error
	class string
}{
	{ErrInvalidConfig, ECONFIG},
	{ErrConnectTimeout, errclass.ETIMEDOUT},
	{ErrAuthentication, EAUTH},
	{ErrMalformedHeader, EFRAMING},
	{ErrIncompleteFrame, EFRAMING},
	{ErrMessageTooLarge, ETOOLARGE},
	{ErrNoData, ENODATA},
	{ErrStallTimeout, ESTALL},
}

// DefaultErrClassifier labels this package's errors and defers any
// other error, including [ErrTransport] causes, to [errclass.New].
//
// The nil error maps to the empty string.
var DefaultErrClassifier = ErrClassifierFunc(func(err error) string {
	if err == nil {
		return ""
	}
	for _, entry := range errClassTable {
		if errors.Is(err, entry.err) {
			return entry.class
		}
	}
	return errclass.New(err)
})
