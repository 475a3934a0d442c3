package api

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/GetStream/chat-render/render"
)

// collection is the render.Collection of one chat, backed by the DB for
// membership and by the cache for signals.
type collection struct {
	chat   render.Chat
	db     DB
	cache  Cache
	logger *slog.Logger
}

func (c *collection) Chat() render.Chat {
	return c.chat
}

func (c *collection) Contains(ctx context.Context, id string) (bool, error) {
	ok, err := c.db.HasRecord(ctx, c.chat.JID, id)
	if err != nil {
		return false, fmt.Errorf("has record: %w", err)
	}
	return ok, nil
}

// Remove deletes the record from the DB and then from the cache. A cache
// failure is logged; the record is gone once the DB says so.
func (c *collection) Remove(ctx context.Context, id string) error {
	if err := c.db.DeleteRecord(ctx, c.chat.JID, id); err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	if err := c.cache.DeleteRecord(ctx, c.chat.JID, id); err != nil {
		c.logger.Error("Could not evict record from cache", "id", id, "error", err.Error())
	}
	return nil
}

func (c *collection) MentionsMe(ctx context.Context, rec *render.Record) (bool, error) {
	ok, err := c.cache.MentionsMe(ctx, c.chat.JID, rec.ID)
	if err != nil {
		return false, fmt.Errorf("mentions: %w", err)
	}
	return ok, nil
}

func (c *collection) Rendered(ctx context.Context, rec *render.Record) {
	if err := c.cache.PublishRendered(ctx, c.chat.JID, rec.ID); err != nil {
		c.logger.Warn("Could not publish rendered record", "id", rec.ID, "error", err.Error())
	}
}
