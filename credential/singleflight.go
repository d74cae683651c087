package credential

import "golang.org/x/sync/singleflight"

// sfGroup adapts *singleflight.Group to the narrow singleflightGroup
// interface Pool depends on.
type sfGroup struct {
	g singleflight.Group
}

func newSingleflightGroup() singleflightGroup { return &sfGroup{} }

func (s *sfGroup) Do(key string, fn func() (any, error)) (any, error, bool) {
	return s.g.Do(key, fn)
}
