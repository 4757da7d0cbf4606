// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package topics

import (
	"strings"
	"sync"

	"github.com/frenzox/mercurio/storage"
)

const separator = "/"

// Trie is the subscription index: a tree keyed by topic level, with the
// single-level wildcard "+" and multi-level wildcard "#" as ordinary
// children. Match walks it once per publish to collect every subscription
// whose filter matches the published topic.
type Trie struct {
	mu   sync.RWMutex
	root *node
}

type node struct {
	children map[string]*node
	subs     []*storage.Subscription
}

func newNode() *node {
	return &node{children: make(map[string]*node)}
}

// NewTrie returns an empty subscription index.
func NewTrie() *Trie {
	return &Trie{root: newNode()}
}

// Subscribe adds clientID's subscription to filter, replacing any existing
// subscription from the same client on the same filter.
func (t *Trie) Subscribe(clientID, filter string, qos byte, opts storage.SubscribeOptions) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := t.root
	for _, level := range strings.Split(filter, separator) {
		child, ok := n.children[level]
		if !ok {
			child = newNode()
			n.children[level] = child
		}
		n = child
	}

	for i, sub := range n.subs {
		if sub.ClientID == clientID {
			n.subs[i] = &storage.Subscription{ClientID: clientID, Filter: filter, QoS: qos, Options: opts}
			return nil
		}
	}
	n.subs = append(n.subs, &storage.Subscription{ClientID: clientID, Filter: filter, QoS: qos, Options: opts})
	return nil
}

// Unsubscribe removes clientID's subscription on filter, if any.
func (t *Trie) Unsubscribe(clientID, filter string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := t.root
	for _, level := range strings.Split(filter, separator) {
		child, ok := n.children[level]
		if !ok {
			return nil
		}
		n = child
	}

	filtered := n.subs[:0]
	for _, sub := range n.subs {
		if sub.ClientID != clientID {
			filtered = append(filtered, sub)
		}
	}
	n.subs = filtered
	return nil
}

// RemoveAll drops every subscription belonging to clientID. Used on session
// destruction; walks the whole trie since filters aren't indexed by client.
func (t *Trie) RemoveAll(clientID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	removeAllFrom(t.root, clientID)
}

func removeAllFrom(n *node, clientID string) {
	filtered := n.subs[:0]
	for _, sub := range n.subs {
		if sub.ClientID != clientID {
			filtered = append(filtered, sub)
		}
	}
	n.subs = filtered

	for _, child := range n.children {
		removeAllFrom(child, clientID)
	}
}

// Match returns every subscription whose filter matches topic.
//
// A bare "+" or "#" at the level where a "$"-prefixed topic level would be
// consumed never matches: per MQTT, wildcards must not match a topic whose
// first level starts with "$" unless the filter itself starts with "$".
func (t *Trie) Match(topic string) ([]*storage.Subscription, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	levels := strings.Split(topic, separator)
	dollarTopic := strings.HasPrefix(topic, "$")

	matched := make([]*storage.Subscription, 0, 8)
	matchLevel(t.root, levels, 0, dollarTopic, &matched)
	return matched, nil
}

func matchLevel(n *node, levels []string, index int, dollarTopic bool, matched *[]*storage.Subscription) {
	if index == len(levels) {
		*matched = append(*matched, n.subs...)
		if wild, ok := n.children["#"]; ok && !(index == 0 && dollarTopic) {
			*matched = append(*matched, wild.subs...)
		}
		return
	}

	level := levels[index]

	if child, ok := n.children[level]; ok {
		matchLevel(child, levels, index+1, dollarTopic, matched)
	}

	// "+" and "#" never consume a first level starting with "$".
	if index == 0 && dollarTopic {
		return
	}

	if child, ok := n.children["+"]; ok {
		matchLevel(child, levels, index+1, dollarTopic, matched)
	}

	if child, ok := n.children["#"]; ok {
		*matched = append(*matched, child.subs...)
	}
}

// Count returns the number of stored subscriptions across the whole trie.
func (t *Trie) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return countFrom(t.root)
}

func countFrom(n *node) int {
	total := len(n.subs)
	for _, child := range n.children {
		total += countFrom(child)
	}
	return total
}
