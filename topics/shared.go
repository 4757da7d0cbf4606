// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package topics

import "strings"

// sharedPrefix is the reserved filter prefix a client uses to join a
// shared subscription group rather than subscribe individually: MQTT 5.0
// §4.8.2 reserves "$share/{ShareName}/{TopicFilter}".
const sharedPrefix = "$share/"

// ParseShared splits a shared-subscription filter into its group name and
// plain topic filter. A filter without the "$share/" prefix is returned
// unchanged with isShared false.
//
//	ParseShared("$share/workers/sensors/#") -> ("workers", "sensors/#", true)
//	ParseShared("sensors/#")                -> ("", "sensors/#", false)
func ParseShared(filter string) (group, topicFilter string, isShared bool) {
	rest, ok := strings.CutPrefix(filter, sharedPrefix)
	if !ok {
		return "", filter, false
	}

	group, topicFilter, ok = strings.Cut(rest, "/")
	if !ok || group == "" || topicFilter == "" {
		return "", filter, false
	}

	return group, topicFilter, true
}

// IsShared reports whether filter names a shared-subscription group.
func IsShared(filter string) bool {
	return strings.HasPrefix(filter, sharedPrefix)
}

// ShareGroup tracks the clients sharing one (group name, topic filter)
// pair and hands out deliveries between them. A publish matching several
// of a group's members is delivered to exactly one, chosen by
// Next: the broker uses one ShareGroup per group/filter pair so that
// members added and removed by concurrent SUBSCRIBE/UNSUBSCRIBE calls see
// a consistent rotation.
//
// Selection prefers a connected member over a disconnected one: an
// offline group member can't take the delivery, it would just be queued
// where another online member could have received it immediately, so
// Next skips offline members as long as at least one online member
// remains in the group.
type ShareGroup struct {
	Name        string
	TopicFilter string

	order  []string       // client IDs in join order, for round-robin
	byID   map[string]int // clientID -> index in order
	cursor int            // next candidate index in order
}

// NewShareGroup builds an empty share group for the given group name and
// topic filter.
func NewShareGroup(name, topicFilter string) *ShareGroup {
	return &ShareGroup{
		Name:        name,
		TopicFilter: topicFilter,
		byID:        make(map[string]int),
	}
}

// Join adds clientID to the group if it isn't already a member. Returns
// true if it was added.
func (g *ShareGroup) Join(clientID string) bool {
	if _, exists := g.byID[clientID]; exists {
		return false
	}

	g.byID[clientID] = len(g.order)
	g.order = append(g.order, clientID)
	return true
}

// Leave removes clientID from the group. Returns true if it was a member.
func (g *ShareGroup) Leave(clientID string) bool {
	idx, exists := g.byID[clientID]
	if !exists {
		return false
	}

	last := len(g.order) - 1
	moved := g.order[last]
	g.order[idx] = moved
	g.byID[moved] = idx
	g.order = g.order[:last]
	delete(g.byID, clientID)

	if g.cursor > last {
		g.cursor = 0
	}
	return true
}

// Empty reports whether the group has no members left.
func (g *ShareGroup) Empty() bool {
	return len(g.order) == 0
}

// Size returns the number of members currently in the group.
func (g *ShareGroup) Size() int {
	return len(g.order)
}

// Next picks the member that should receive the next delivery, advancing
// the rotation. online is consulted for each candidate in round-robin
// order; the first candidate online reports true is returned. If online
// reports false for every member, Next falls back to the next member in
// rotation regardless, so a fully offline group still gets deliveries
// queued for someone rather than dropped. Returns "" for an empty group.
func (g *ShareGroup) Next(online func(clientID string) bool) string {
	n := len(g.order)
	if n == 0 {
		return ""
	}

	fallback := g.order[g.cursor%n]
	for i := 0; i < n; i++ {
		candidate := g.order[(g.cursor+i)%n]
		if online == nil || online(candidate) {
			g.cursor = (g.cursor + i + 1) % n
			return candidate
		}
	}

	g.cursor = (g.cursor + 1) % n
	return fallback
}
