package isochrone

import (
	"github.com/rotisserie/eris"
)

// Sentinel errors returned (wrapped) by Compute and its stages.
var (
	ErrInvalidParameter            = eris.New("isochrone: invalid parameter")
	ErrReprojection                = eris.New("isochrone: reprojection failed")
	ErrSourceNotFound              = eris.New("isochrone: source not found in network")
	ErrInsufficientReachablePoints = eris.New("isochrone: insufficient reachable points")
	ErrNonNestedHulls              = eris.New("isochrone: hulls are not nested")
)

// Error kinds used as stable labels in logs, metrics and HTTP responses.
const (
	KindInvalidParameter   = "invalid_parameter"
	KindReprojection       = "reprojection"
	KindSourceNotFound     = "source_not_found"
	KindInsufficientPoints = "insufficient_points"
	KindNonNestedHulls     = "non_nested_hulls"
	KindInternal           = "internal"
)

// Kind maps err onto one of the Kind* labels. A nil error yields "".
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case eris.Is(err, ErrInvalidParameter):
		return KindInvalidParameter
	case eris.Is(err, ErrReprojection):
		return KindReprojection
	case eris.Is(err, ErrSourceNotFound):
		return KindSourceNotFound
	case eris.Is(err, ErrInsufficientReachablePoints):
		return KindInsufficientPoints
	case eris.Is(err, ErrNonNestedHulls):
		return KindNonNestedHulls
	default:
		return KindInternal
	}
}
