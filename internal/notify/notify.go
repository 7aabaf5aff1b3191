// Package notify delivers ad notifications and records them as seen.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"adwatch/internal/model"
)

// Message is one outgoing notification. A non-empty PhotoURL sends a photo
// with Text as its caption; Link is offered as an "open" button.
type Message struct {
	ChatID   int64
	Text     string
	PhotoURL string
	Link     string
}

// Sender delivers a message to a chat.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SeenMarker records delivered ads.
type SeenMarker interface {
	MarkSeen(ctx context.Context, url string) error
}

// Method is how the primary notification was delivered.
type Method string

// Delivery methods.
const (
	MethodNone         Method = ""
	MethodPhoto        Method = "photo"
	MethodText         Method = "text"
	MethodTextFallback Method = "text_fallback"
)

// Outcome describes a Send call.
type Outcome struct {
	Method Method

	// Broadcast reports whether the broadcast copy was delivered, and
	// BroadcastErr why it was not. Neither affects the primary delivery.
	Broadcast    bool
	BroadcastErr error
}

// Delivered reports whether the primary destination received the ad.
func (o Outcome) Delivered() bool {
	return o.Method != MethodNone
}

// DeliveryError means neither the photo nor the text notification reached
// the primary destination. The ad is not marked seen.
type DeliveryError struct {
	URL    string
	ChatID int64
	Err    error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver %s to chat %d: %v", e.URL, e.ChatID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Dispatcher sends ad notifications with a text fallback for failed photos.
type Dispatcher struct {
	sender    Sender
	seen      SeenMarker
	broadcast int64
	onNewAd   func(ad model.Ad, chatID int64)
	log       *slog.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(sender Sender, seen SeenMarker, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		sender: sender,
		seen:   seen,
		log:    log,
	}
}

// SetBroadcast configures an additional destination that receives a copy of
// every delivered ad. Zero disables it.
func (d *Dispatcher) SetBroadcast(chatID int64) {
	d.broadcast = chatID
}

// SetOnNewAd registers a callback invoked after each successful primary
// delivery.
func (d *Dispatcher) SetOnNewAd(fn func(ad model.Ad, chatID int64)) {
	d.onNewAd = fn
}

// Send notifies chatID about ad. A photo is tried first when the ad has one;
// any failure falls back to a text message with the same content. Once the
// primary destination has the ad, it is marked seen and the broadcast copy
// is attempted.
//
// A *DeliveryError is returned when the primary delivery failed. A non-nil
// error with a delivered outcome means the ad could not be marked seen.
func (d *Dispatcher) Send(ctx context.Context, ad model.Ad, chatID int64) (Outcome, error) {
	var out Outcome

	method, err := d.deliver(ctx, chatID, ad)
	if err != nil {
		return out, &DeliveryError{URL: ad.URL, ChatID: chatID, Err: err}
	}
	out.Method = method

	var markErr error
	if err := d.seen.MarkSeen(ctx, ad.URL); err != nil {
		markErr = fmt.Errorf("mark seen: %w", err)
	}

	if d.onNewAd != nil {
		d.onNewAd(ad, chatID)
	}

	if d.broadcast != 0 && d.broadcast != chatID {
		if _, err := d.deliver(ctx, d.broadcast, ad); err != nil {
			out.BroadcastErr = err
			d.log.Warn("broadcast delivery failed", "chat_id", d.broadcast, "url", ad.URL, "error", err)
		} else {
			out.Broadcast = true
		}
	}

	return out, markErr
}

func (d *Dispatcher) deliver(ctx context.Context, chatID int64, ad model.Ad) (Method, error) {
	var photoErr error
	if ad.HasPhoto() {
		photoErr = d.sender.Send(ctx, Message{
			ChatID:   chatID,
			Text:     FormatAd(ad, MaxCaptionLen),
			PhotoURL: ad.PhotoURL,
			Link:     ad.URL,
		})
		if photoErr == nil {
			return MethodPhoto, nil
		}
		d.log.Warn("photo delivery failed, falling back to text",
			"chat_id", chatID, "url", ad.URL, "photo", ad.PhotoURL, "error", photoErr)
	}

	err := d.sender.Send(ctx, Message{
		ChatID: chatID,
		Text:   FormatAd(ad, MaxTextLen),
		Link:   ad.URL,
	})
	if err != nil {
		return MethodNone, errors.Join(photoErr, err)
	}
	if photoErr != nil {
		return MethodTextFallback, nil
	}
	return MethodText, nil
}
