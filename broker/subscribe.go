// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"context"
	"log/slog"

	"github.com/frenzox/mercurio/packets"
	v3 "github.com/frenzox/mercurio/packets/v3"
	v5 "github.com/frenzox/mercurio/packets/v5"
	"github.com/frenzox/mercurio/session"
	"github.com/frenzox/mercurio/storage"
	"github.com/frenzox/mercurio/topics"
)

// handleSubscribeIn processes SUBSCRIBE: validate each filter, register it
// in the trie and the session's cache, then reply with SUBACK before
// delivering any retained messages the new subscription is owed.
func (b *Broker) handleSubscribeIn(sess *session.Session, pkt packets.ControlPacket) error {
	ctx := context.Background()

	switch p := pkt.(type) {
	case *v3.Subscribe:
		codes := make([]byte, len(p.Filters))
		newFilters := make([]struct {
			filter string
			opts   storage.SubscribeOptions
		}, 0, len(p.Filters))

		for i, f := range p.Filters {
			opts := storage.SubscribeOptions{}
			code, err := b.subscribeOne(sess, f.Filter, f.QoS, opts, nil)
			if err != nil {
				codes[i] = v3.SubAckFailure
				continue
			}
			codes[i] = code
			newFilters = append(newFilters, struct {
				filter string
				opts   storage.SubscribeOptions
			}{f.Filter, opts})
		}

		if err := sess.WritePacket(&v3.SubAck{
			FixedHeader: packets.FixedHeader{PacketType: packets.SubAckType},
			ID:          p.ID,
			ReturnCodes: codes,
		}); err != nil {
			return err
		}

		for _, nf := range newFilters {
			b.deliverRetainedForFilter(ctx, sess, nf.filter, nf.opts)
		}
		return nil

	case *v5.Subscribe:
		var subID *uint32
		if p.Properties != nil && p.Properties.SubscriptionID != nil {
			id := uint32(*p.Properties.SubscriptionID)
			subID = &id
		}

		codes := make([]byte, len(p.Filters))
		newFilters := make([]struct {
			filter string
			opts   storage.SubscribeOptions
		}, 0, len(p.Filters))

		for i, f := range p.Filters {
			_, existed := sess.GetSubscriptions()[f.Filter]

			opts := storage.SubscribeOptions{
				NoLocal:           f.Options.NoLocal,
				RetainAsPublished: f.Options.RetainAsPublished,
				RetainHandling:    f.Options.RetainHandling,
			}
			code, err := b.subscribeOne(sess, f.Filter, f.Options.QoS, opts, subID)
			if err != nil {
				codes[i] = v5.SubAckUnspecifiedError
				continue
			}
			codes[i] = code

			// retain_handling 0 always replays, 1 only for a subscription
			// that didn't already exist, 2 never replays.
			switch opts.RetainHandling {
			case 2:
			case 1:
				if !existed {
					newFilters = append(newFilters, struct {
						filter string
						opts   storage.SubscribeOptions
					}{f.Filter, opts})
				}
			default:
				newFilters = append(newFilters, struct {
					filter string
					opts   storage.SubscribeOptions
				}{f.Filter, opts})
			}
		}

		if err := sess.WritePacket(&v5.SubAck{
			FixedHeader: packets.FixedHeader{PacketType: packets.SubAckType},
			ID:          p.ID,
			ReasonCodes: codes,
		}); err != nil {
			return err
		}

		for _, nf := range newFilters {
			b.deliverRetainedForFilter(ctx, sess, nf.filter, nf.opts)
		}
		return nil

	default:
		return ErrInvalidPacketType
	}
}

// subscribeOne validates filter, records it in the trie and the session's
// cache (joining its share group if it names one), and returns the
// granted-QoS/reason code to place in SUBACK.
func (b *Broker) subscribeOne(sess *session.Session, filter string, qos byte, opts storage.SubscribeOptions, subID *uint32) (byte, error) {
	shareName, plainFilter, isShared := topics.ParseShared(filter)
	if isShared {
		opts.ConsumerGroup = shareName
	}

	if err := topics.ValidateTopicFilter(plainFilter); err != nil {
		return 0, err
	}

	if b.auth != nil && !b.auth.CanSubscribe(sess.ID, plainFilter) {
		return 0, ErrNotAuthorized
	}

	granted := qos
	if granted > 2 {
		granted = 2
	}

	sub := &storage.Subscription{
		ClientID:       sess.ID,
		Filter:         plainFilter,
		QoS:            granted,
		Options:        opts,
		SubscriptionID: subID,
	}

	if err := b.router.Subscribe(sub.ClientID, plainFilter, granted, opts); err != nil {
		return 0, err
	}

	if isShared {
		b.joinShareGroup(shareName, plainFilter, sess.ID)
	}

	sess.AddSubscription(filter, opts)

	if b.store != nil {
		if err := b.store.Subscriptions().Add(sub); err != nil {
			b.logger.Warn("persist subscription failed", slog.String("client_id", sess.ID), slog.String("filter", plainFilter), slog.String("error", err.Error()))
		}
	}

	return granted, nil
}

// handleUnsubscribeIn processes UNSUBSCRIBE. Per the filter's permissive
// default for v3 (spec §9), a filter the session never held still reports
// success in v3; v5 reports UnsubAckNoSubscriptionExisted for it instead.
func (b *Broker) handleUnsubscribeIn(sess *session.Session, pkt packets.ControlPacket) error {
	switch p := pkt.(type) {
	case *v3.Unsubscribe:
		for _, filter := range p.Filters {
			b.unsubscribeOne(sess, filter)
		}
		return sess.WritePacket(&v3.UnsubAck{
			FixedHeader: packets.FixedHeader{PacketType: packets.UnsubAckType},
			ID:          p.ID,
		})

	case *v5.Unsubscribe:
		codes := make([]byte, len(p.Filters))
		for i, filter := range p.Filters {
			if b.unsubscribeOne(sess, filter) {
				codes[i] = v5.UnsubAckSuccess
			} else {
				codes[i] = v5.UnsubAckNoSubscriptionExisted
			}
		}
		return sess.WritePacket(&v5.UnsubAck{
			FixedHeader: packets.FixedHeader{PacketType: packets.UnsubAckType},
			ID:          p.ID,
			ReasonCodes: codes,
		})

	default:
		return ErrInvalidPacketType
	}
}

// unsubscribeOne removes one filter and reports whether it had been
// subscribed at all.
func (b *Broker) unsubscribeOne(sess *session.Session, filter string) bool {
	shareName, plainFilter, isShared := topics.ParseShared(filter)

	_, existed := sess.GetSubscriptions()[filter]

	b.router.Unsubscribe(sess.ID, plainFilter) //nolint:errcheck // trie removal never fails
	sess.RemoveSubscription(filter)

	if isShared {
		b.leaveShareGroup(shareName, plainFilter, sess.ID)
	}

	if existed && b.store != nil {
		if err := b.store.Subscriptions().Remove(sess.ID, plainFilter); err != nil {
			b.logger.Warn("unpersist subscription failed", slog.String("client_id", sess.ID), slog.String("filter", plainFilter), slog.String("error", err.Error()))
		}
	}

	return existed
}

// deliverRetainedForFilter replays retained messages matching filter to
// sess. The caller already decides whether this filter is owed a replay at
// all, per retain_handling semantics (spec §4.4): 0 always, 1 only for a
// subscription that didn't already exist, 2 never — so every call here
// unconditionally sends.
func (b *Broker) deliverRetainedForFilter(ctx context.Context, sess *session.Session, filter string, opts storage.SubscribeOptions) {
	_, plainFilter, _ := topics.ParseShared(filter)

	msgs, err := b.store.Retained().Match(ctx, plainFilter)
	if err != nil {
		b.logger.Warn("retained match failed", slog.String("filter", plainFilter), slog.String("error", err.Error()))
		return
	}

	for _, msg := range msgs {
		if err := b.deliverToClient(sess.ID, msg, msg.QoS, nil, true); err != nil {
			b.logger.Warn("retained delivery failed", slog.String("client_id", sess.ID), slog.String("topic", msg.Topic), slog.String("error", err.Error()))
		}
	}
}
