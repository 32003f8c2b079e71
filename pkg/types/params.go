package types

import (
	"strconv"
	"strings"
)

// ResolveChannels normalizes the channels query parameter. Each value may
// itself be a comma-separated list (the parameter can be repeated or CSV).
// Entries are lower-cased, filtered against the allow-list and de-duplicated
// preserving first-seen order. An empty result falls back to the default
// subscription of rooms and progress.
func ResolveChannels(values []string) []string {
	var channels []string
	seen := make(map[string]bool)
	for _, value := range values {
		for _, piece := range strings.Split(value, ",") {
			piece = strings.ToLower(strings.TrimSpace(piece))
			if piece == "" || !AllowedChannels[piece] || seen[piece] {
				continue
			}
			seen[piece] = true
			channels = append(channels, piece)
		}
	}
	if len(channels) == 0 {
		channels = []string{ChannelRooms, ChannelProgress}
	}
	return channels
}

// ChangeChannels returns the subset of channels served by the change-log
// poller, preserving order.
func ChangeChannels(channels []string) []string {
	var subset []string
	for _, ch := range channels {
		if changeLogChannels[ch] {
			subset = append(subset, ch)
		}
	}
	return subset
}

// HasChannel reports whether the channel list contains ch.
func HasChannel(channels []string, ch string) bool {
	for _, c := range channels {
		if c == ch {
			return true
		}
	}
	return false
}

// ParseID parses a single non-negative integer parameter. Anything that is
// not a valid positive integer yields zero, which downstream code treats as
// "no filter" / "no cursor".
func ParseID(value string) int64 {
	id, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || id < 0 {
		return 0
	}
	return id
}

// ParseIDList parses a repeated or comma-separated list of positive
// integers. Non-numeric and non-positive entries are silently dropped and
// duplicates collapse.
func ParseIDList(values []string) []int64 {
	var ids []int64
	seen := make(map[int64]bool)
	for _, value := range values {
		for _, piece := range strings.Split(value, ",") {
			piece = strings.TrimSpace(piece)
			if piece == "" {
				continue
			}
			id, err := strconv.ParseInt(piece, 10, 64)
			if err != nil || id <= 0 || seen[id] {
				continue
			}
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}
