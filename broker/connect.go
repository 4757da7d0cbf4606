// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/frenzox/mercurio/auth"
	"github.com/frenzox/mercurio/packets"
	v3 "github.com/frenzox/mercurio/packets/v3"
	v5 "github.com/frenzox/mercurio/packets/v5"
	"github.com/frenzox/mercurio/session"
	"github.com/frenzox/mercurio/storage"
)

var v311ClientID = regexp.MustCompile(`^[0-9A-Za-z]{1,23}$`)

// connectInfo is the version-neutral shape the broker needs out of
// CONNECT, independent of v3.Connect / v5.Connect.
type connectInfo struct {
	clientID       string
	username       string
	password       []byte
	hasUsername    bool
	hasPassword    bool
	cleanStart     bool
	keepAlive      uint16
	will           *storage.WillMessage
	receiveMaximum uint16
	maxPacketSize  uint32
	topicAliasMax  uint16
	expiryInterval uint32
}

func connectInfoFromV3(c *v3.Connect) connectInfo {
	info := connectInfo{
		clientID:       c.ClientID,
		username:       c.Username,
		password:       c.Password,
		hasUsername:    c.UsernameFlag,
		hasPassword:    c.PasswordFlag,
		cleanStart:     c.CleanSession,
		keepAlive:      c.KeepAlive,
		receiveMaximum: 65535,
	}
	if c.WillFlag {
		info.will = &storage.WillMessage{
			Topic:   c.WillTopic,
			Payload: c.WillMessage,
			QoS:     c.WillQoS,
			Retain:  c.WillRetain,
		}
	}
	return info
}

func connectInfoFromV5(c *v5.Connect) connectInfo {
	info := connectInfo{
		clientID:       c.ClientID,
		username:       c.Username,
		password:       c.Password,
		hasUsername:    c.UsernameFlag,
		hasPassword:    c.PasswordFlag,
		cleanStart:     c.CleanStart,
		keepAlive:      c.KeepAlive,
		receiveMaximum: 65535,
	}

	if c.Properties != nil {
		if c.Properties.ReceiveMaximum != nil {
			info.receiveMaximum = *c.Properties.ReceiveMaximum
		}
		if c.Properties.MaximumPacketSize != nil {
			info.maxPacketSize = *c.Properties.MaximumPacketSize
		}
		if c.Properties.TopicAliasMaximum != nil {
			info.topicAliasMax = *c.Properties.TopicAliasMaximum
		}
		if c.Properties.SessionExpiryInterval != nil {
			info.expiryInterval = *c.Properties.SessionExpiryInterval
		}
	}

	if c.WillFlag {
		will := &storage.WillMessage{
			Topic:   c.WillTopic,
			Payload: c.WillMessage,
			QoS:     c.WillQoS,
			Retain:  c.WillRetain,
		}
		if c.WillProperties != nil {
			if c.WillProperties.WillDelayInterval != nil {
				will.Delay = *c.WillProperties.WillDelayInterval
			}
			if c.WillProperties.MessageExpiry != nil {
				will.Expiry = *c.WillProperties.MessageExpiry
			}
		}
		info.will = will
	}

	return info
}

// validateClientID enforces the per-version Client Id rules and, where the
// version allows it, assigns one.
func validateClientID(version byte, clientID string, cleanStart bool) (string, error) {
	if clientID != "" {
		if version == packets.V5 {
			return clientID, nil
		}
		if !v311ClientID.MatchString(clientID) {
			return "", ErrClientIDRejected
		}
		return clientID, nil
	}

	// Empty Client Id.
	if version == packets.V5 {
		return generateClientID(), nil
	}
	if !cleanStart {
		return "", ErrClientIDRequired
	}
	return generateClientID(), nil
}

func generateClientID() string {
	if id, err := uuid.NewRandom(); err == nil {
		return "mercurio-" + id.String()
	}
	var buf [8]byte
	_, _ = rand.Read(buf[:])
	return "mercurio-" + hex.EncodeToString(buf[:])
}

// HandleConnection drives one accepted connection from its first byte to
// disconnection. It implements the CONNECT state machine (spec §4.2): read
// with connect_timeout, validate, authenticate, take over or create the
// session, CONNACK, then deliver queued and retained state before handing
// off to the per-packet dispatch loop.
func (b *Broker) HandleConnection(conn session.Connection) {
	defer conn.Close()

	if b.cfg.ConnectTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(b.cfg.ConnectTimeout))
	}

	pkt, err := conn.ReadPacket()
	if err != nil {
		b.logger.Debug("connect read failed", slog.String("remote", conn.RemoteAddr().String()), slog.String("error", err.Error()))
		return
	}

	if pkt.Type() != packets.ConnectType {
		b.logger.Debug("first packet was not CONNECT", slog.String("remote", conn.RemoteAddr().String()))
		return
	}

	var info connectInfo
	var version byte

	switch c := pkt.(type) {
	case *v3.Connect:
		version = c.ProtocolVersion
		info = connectInfoFromV3(c)
	case *v5.Connect:
		version = packets.V5
		info = connectInfoFromV5(c)
	default:
		return
	}

	sess, err := b.connect(context.Background(), conn, version, info)
	if err != nil {
		b.logger.Info("connect rejected", slog.String("remote", conn.RemoteAddr().String()), slog.String("error", err.Error()))
		return
	}

	_ = conn.SetReadDeadline(time.Time{})

	b.runSession(sess)
}

// connect runs steps 1-5 of spec §4.2's CONNECT handling and returns the
// (re)connected session.
func (b *Broker) connect(ctx context.Context, conn session.Connection, version byte, info connectInfo) (*session.Session, error) {
	clientID, err := validateClientID(version, info.clientID, info.cleanStart)
	if err != nil {
		b.sendConnAckError(conn, version, err)
		return nil, err
	}
	info.clientID = clientID

	if b.auth != nil {
		creds := auth.Credentials{ClientID: info.clientID, Username: info.username, Password: info.password}
		ok, err := b.auth.Authenticate(ctx, creds)
		if err != nil || !ok {
			b.sendConnAckError(conn, version, ErrNotAuthorized)
			return nil, ErrNotAuthorized
		}
	}

	opts := session.Options{
		CleanStart:     info.cleanStart,
		ExpiryInterval: info.expiryInterval,
		ReceiveMaximum: info.receiveMaximum,
		MaxPacketSize:  info.maxPacketSize,
		TopicAliasMax:  info.topicAliasMax,
		KeepAlive:      info.keepAlive,
		Will:           info.will,
	}

	sess, sessionPresent, err := b.sessions.GetOrCreate(clientID, version, opts)
	if err != nil {
		b.sendConnAckError(conn, version, ErrServerUnavailable)
		return nil, fmt.Errorf("get or create session %q: %w", clientID, err)
	}

	if err := sess.Connect(conn); err != nil {
		b.sendConnAckError(conn, version, ErrServerUnavailable)
		return nil, err
	}

	if err := b.sendConnAck(conn, version, sessionPresent, info); err != nil {
		sess.Disconnect(false)
		return nil, err
	}

	if sessionPresent {
		b.restoreRouting(clientID)
	}

	b.deliverQueued(sess)
	b.deliverRetainedOnResume(ctx, sess)

	return sess, nil
}

// restoreRouting re-registers a (re)created session's persisted
// subscriptions in the live topic trie and, for shared filters, in their
// share group. GetOrCreate only repopulates the session's own
// subscription cache from storage; the trie the broker actually routes
// PUBLISH through has no memory of a session once it's evicted from the
// cache, so a resumed durable session would otherwise stop receiving
// anything until it re-subscribed by hand.
func (b *Broker) restoreRouting(clientID string) {
	if b.store == nil {
		return
	}

	subs, err := b.store.Subscriptions().GetForClient(clientID)
	if err != nil {
		b.logger.Warn("restore routing failed", slog.String("client_id", clientID), slog.String("error", err.Error()))
		return
	}

	for _, sub := range subs {
		if err := b.router.Subscribe(clientID, sub.Filter, sub.QoS, sub.Options); err != nil {
			b.logger.Warn("restore routing: subscribe failed", slog.String("client_id", clientID), slog.String("filter", sub.Filter), slog.String("error", err.Error()))
			continue
		}
		if sub.Options.ConsumerGroup != "" {
			b.joinShareGroup(sub.Options.ConsumerGroup, sub.Filter, clientID)
		}
	}
}

// deliverQueued flushes a resumed session's offline queue, in order.
func (b *Broker) deliverQueued(sess *session.Session) {
	for _, msg := range sess.DrainOfflineQueue() {
		if err := b.deliverToClient(sess.ID, msg, msg.QoS, nil, msg.Retain); err != nil {
			b.logger.Warn("offline redelivery failed", slog.String("client_id", sess.ID), slog.String("error", err.Error()))
		}
	}
}

// deliverRetainedOnResume re-sends retained messages for a session's
// existing subscriptions whose retain_handling is 0 (always on resume).
// RetainHandling 1/2 subscriptions were already served at SUBSCRIBE time
// and don't repeat on every reconnect.
func (b *Broker) deliverRetainedOnResume(ctx context.Context, sess *session.Session) {
	for filter, opts := range sess.GetSubscriptions() {
		if opts.RetainHandling != 0 {
			continue
		}
		b.deliverRetainedForFilter(ctx, sess, filter, opts)
	}
}

func (b *Broker) sendConnAck(conn session.Connection, version byte, sessionPresent bool, info connectInfo) error {
	if version == packets.V5 {
		ack := &v5.ConnAck{
			FixedHeader:    packets.FixedHeader{PacketType: packets.ConnAckType},
			SessionPresent: sessionPresent,
			ReasonCode:     v5.ConnAckSuccess,
			Properties:     &v5.ConnAckProperties{},
		}
		return conn.WritePacket(ack)
	}

	ack := &v3.ConnAck{
		FixedHeader:    packets.FixedHeader{PacketType: packets.ConnAckType},
		SessionPresent: sessionPresent,
		ReturnCode:     v3.ConnAckAccepted,
	}
	return conn.WritePacket(ack)
}

func (b *Broker) sendConnAckError(conn session.Connection, version byte, cause error) {
	if version == packets.V5 {
		rc := byte(v5.ConnAckUnspecifiedError)
		switch {
		case errors.Is(cause, ErrNotAuthorized):
			rc = v5.ConnAckBadUsernameOrPassword
		case errors.Is(cause, ErrClientIDRejected), errors.Is(cause, ErrClientIDRequired):
			rc = v5.ConnAckClientIDNotValid
		case errors.Is(cause, ErrServerUnavailable):
			rc = v5.ConnAckServerUnavailable
		}
		ack := &v5.ConnAck{
			FixedHeader: packets.FixedHeader{PacketType: packets.ConnAckType},
			ReasonCode:  rc,
		}
		_ = conn.WritePacket(ack)
		return
	}

	rc := byte(v3.ConnAckIdentifierRejected)
	switch {
	case errors.Is(cause, ErrNotAuthorized):
		rc = v3.ConnAckNotAuthorized
	case errors.Is(cause, ErrServerUnavailable):
		rc = v3.ConnAckServerUnavailable
	}
	ack := &v3.ConnAck{
		FixedHeader: packets.FixedHeader{PacketType: packets.ConnAckType},
		ReturnCode:  rc,
	}
	_ = conn.WritePacket(ack)
}

// runSession is the per-connection packet loop. There is no periodic
// retransmission timer: QoS>0 redelivery happens once, at reconnect
// (spec §4.5), so the loop is a plain blocking read-dispatch cycle. The
// session's own keep-alive timer, started in sess.Connect, independently
// force-closes the connection if it goes quiet.
func (b *Broker) runSession(sess *session.Session) {
	for {
		pkt, err := sess.ReadPacket()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, session.ErrNotConnected) {
				b.logger.Debug("read failed", slog.String("client_id", sess.ID), slog.String("error", err.Error()))
			}
			sess.Disconnect(false)
			return
		}

		sess.TouchActivity()

		if err := b.dispatch(sess, pkt); err != nil {
			if errors.Is(err, errGracefulDisconnect) {
				sess.Disconnect(true)
				return
			}
			b.logger.Debug("dispatch failed", slog.String("client_id", sess.ID), slog.String("type", packets.PacketNames[pkt.Type()]), slog.String("error", err.Error()))
			sess.Disconnect(false)
			return
		}
	}
}
