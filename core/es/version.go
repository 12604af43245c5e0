package es

import "log/slog"

// Version is the sequence number of the last persisted event of an
// aggregate. It doubles as the optimistic lock version.
type Version int64

// NoVersion is the version of an aggregate that was never persisted.
const NoVersion Version = -1

// IsSet reports whether at least one event of the aggregate was persisted.
func (v Version) IsSet() bool { return v >= 0 }

// Next returns the sequence number the next event of the aggregate gets.
func (v Version) Next() int64 {
	if v < 0 {
		return 0
	}
	return int64(v) + 1
}

func (v Version) Int64() int64                           { return int64(v) }
func (v Version) SlogAttr() slog.Attr                    { return newSlogVersionAttr("version", v) }
func (v Version) SlogAttrWithKey(key string) slog.Attr   { return newSlogVersionAttr(key, v) }
func newSlogVersionAttr(key string, v Version) slog.Attr { return slog.Int64(key, int64(v)) }
