package fetcher

import "errors"

var (
	errPartitionGone = errors.New("fetcher: partition no longer hosted")
	errNotFollowing  = errors.New("fetcher: partition not in follower role")
	errLeaderUnknown = errors.New("fetcher: leader address unknown")
	errBadResponse   = errors.New("fetcher: malformed fetch response")
)
