// Package wameow implements the transport contract on top of whatsmeow.
// Each session gets its own SQLite credential container and one live client.
package wameow

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/dmelojr/zapgate/internal/transport"
	"github.com/dmelojr/zapgate/pkg/models"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for whatsmeow
)

const eventBuffer = 128

// Client is a live whatsmeow-backed session handle.
type Client struct {
	session   string
	dbPath    string
	logger    *slog.Logger
	wa        *whatsmeow.Client
	container *sqlstore.Container

	events chan any
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

func newClient(ctx context.Context, session, dbPath string, logger *slog.Logger) (*Client, error) {
	container, err := sqlstore.New(ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=on", dbPath), waLog.Noop)
	if err != nil {
		return nil, fmt.Errorf("failed to create credential store: %w", err)
	}

	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		container.Close()
		return nil, fmt.Errorf("failed to get device: %w", err)
	}

	c := &Client{
		session:   session,
		dbPath:    dbPath,
		logger:    logger.With("session", session),
		container: container,
		events:    make(chan any, eventBuffer),
		done:      make(chan struct{}),
	}

	c.wa = whatsmeow.NewClient(device, waLog.Noop)
	// Reconnection is the supervisor's job.
	c.wa.EnableAutoReconnect = false
	c.wa.AddEventHandler(c.handleEvent)

	return c, nil
}

// Connect opens the socket. When the device is not yet paired, QR codes are
// forwarded on the event stream until pairing succeeds or the attempt expires.
func (c *Client) Connect(ctx context.Context) error {
	if c.wa.Store.ID == nil {
		qrChan, err := c.wa.GetQRChannel(ctx)
		if err != nil {
			return fmt.Errorf("failed to get QR channel: %w", err)
		}
		if err := c.wa.Connect(); err != nil {
			return fmt.Errorf("failed to connect: %w", err)
		}
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case item, ok := <-qrChan:
					if !ok {
						return
					}
					if item.Event == "code" {
						c.logger.Info("pairing QR issued")
						c.emit(transport.ConnectionUpdate{QR: item.Code})
					}
				}
			}
		}()
		return nil
	}
	if err := c.wa.Connect(); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	return nil
}

// Disconnect tears down the socket and credential container without touching
// stored auth material.
func (c *Client) Disconnect() {
	c.shutdown()
	c.wa.Disconnect()
	c.wg.Wait()
	if err := c.container.Close(); err != nil {
		c.logger.Warn("failed to close credential store", "error", err)
	}
}

// IsConnected reports socket state.
func (c *Client) IsConnected() bool {
	return c.wa.IsConnected()
}

// SendPresence announces availability.
func (c *Client) SendPresence(ctx context.Context) error {
	return c.wa.SendPresence(ctx, types.PresenceAvailable)
}

// SendText sends a plain text message.
func (c *Client) SendText(ctx context.Context, toJID, text string) (*transport.SendResult, error) {
	jid, err := types.ParseJID(toJID)
	if err != nil {
		return nil, fmt.Errorf("invalid recipient %q: %w", toJID, err)
	}
	resp, err := c.wa.SendMessage(ctx, jid, &waE2E.Message{
		Conversation: proto.String(text),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}
	return &transport.SendResult{
		MessageID: string(resp.ID),
		Timestamp: resp.Timestamp.Unix(),
	}, nil
}

// JoinedGroups lists groups the session participates in.
func (c *Client) JoinedGroups(ctx context.Context) ([]transport.Group, error) {
	infos, err := c.wa.GetJoinedGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	groups := make([]transport.Group, 0, len(infos))
	for _, info := range infos {
		groups = append(groups, transport.Group{
			JID:  info.JID.String(),
			Name: info.Name,
		})
	}
	return groups, nil
}

// Logout revokes the pairing server-side when possible and erases local
// credential material. Safe to call on an unauthenticated session.
func (c *Client) Logout(ctx context.Context) error {
	if c.wa.Store.ID != nil && c.wa.IsConnected() {
		if err := c.wa.Logout(ctx); err != nil {
			c.logger.Warn("server-side logout failed", "error", err)
		}
	}
	c.Disconnect()
	if err := removeCredentialFiles(c.dbPath); err != nil {
		return fmt.Errorf("failed to erase credential material: %w", err)
	}
	c.logger.Info("session logged out, credential material erased")
	return nil
}

// Events yields connection updates and raw lifecycle notifications in arrival
// order. A server-side close ends the stream with a ConnectionUpdate carrying
// StateClosed; Disconnect and Logout do not emit one.
func (c *Client) Events() <-chan any {
	return c.events
}

func (c *Client) shutdown() {
	c.once.Do(func() { close(c.done) })
}

func (c *Client) emit(evt any) {
	select {
	case <-c.done:
	case c.events <- evt:
	}
}

func (c *Client) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.Connected:
		c.logger.Info("connection open")
		c.emit(transport.ConnectionUpdate{State: models.StateOpen})

	case *events.PairSuccess:
		c.logger.Info("pairing succeeded", "jid", v.ID.String())

	case *events.Disconnected:
		c.logger.Warn("connection closed")
		c.emit(transport.ConnectionUpdate{
			State: models.StateClosed,
			Cause: transport.DisconnectCause{Reason: "connection closed"},
		})

	case *events.StreamReplaced:
		c.logger.Warn("stream replaced by another client")
		c.emit(transport.ConnectionUpdate{
			State: models.StateClosed,
			Cause: transport.DisconnectCause{Reason: "stream replaced"},
		})

	case *events.TemporaryBan:
		c.logger.Error("temporary ban", "code", v.Code, "expire", v.Expire)
		c.emit(transport.ConnectionUpdate{
			State: models.StateClosed,
			Cause: transport.DisconnectCause{Reason: fmt.Sprintf("temporary ban: %v", v.Code)},
		})

	case *events.ConnectFailure:
		c.logger.Error("connect failure", "reason", v.Reason, "message", v.Message)
		c.emit(transport.ConnectionUpdate{
			State: models.StateClosed,
			Cause: transport.DisconnectCause{
				Reason:    fmt.Sprintf("connect failure: %v", v.Reason),
				LoggedOut: v.Reason.IsLoggedOut(),
			},
		})

	case *events.LoggedOut:
		c.logger.Error("logged out by server", "reason", v.Reason)
		c.emit(transport.ConnectionUpdate{
			State: models.StateClosed,
			Cause: transport.DisconnectCause{
				Reason:    fmt.Sprintf("logged out: %v", v.Reason),
				LoggedOut: true,
			},
		})

	case *events.Message:
		c.emit(transport.MessageNotice{
			MessageID: string(v.Info.ID),
			RemoteJID: v.Info.Chat.String(),
			FromMe:    v.Info.IsFromMe,
			Timestamp: v.Info.Timestamp.Unix(),
		})

	case *events.Receipt:
		kind, ok := receiptKind(v.Type)
		if !ok {
			return
		}
		for _, id := range v.MessageIDs {
			c.emit(transport.ReceiptUpdate{
				MessageID: string(id),
				RemoteJID: v.Chat.String(),
				FromMe:    v.IsFromMe,
				Kind:      kind,
				Timestamp: v.Timestamp.Unix(),
			})
		}
	}
}

// receiptKind maps whatsmeow receipt types onto the receipt-stream text codes.
func receiptKind(t types.ReceiptType) (string, bool) {
	switch t {
	case types.ReceiptTypeDelivered:
		return "delivered", true
	case types.ReceiptTypeRead:
		return "read", true
	case types.ReceiptTypePlayed:
		return "played", true
	default:
		return "", false
	}
}

func removeCredentialFiles(dbPath string) error {
	for _, path := range []string{dbPath, dbPath + "-wal", dbPath + "-shm"} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

var _ transport.Client = (*Client)(nil)
